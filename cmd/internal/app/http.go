package app

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type opsHandlers struct {
	log      Logger
	cfg      Config
	backends *backends
	registry *prometheus.Registry
	ws       http.Handler
	draining *atomic.Bool
}

func registerHTTP(mux *http.ServeMux, h opsHandlers) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if h.draining != nil && h.draining.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		if h.cfg.ReadinessRequireDB && !h.backends.durable() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if err := h.backends.ping(r.Context(), 2*time.Second); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			h.log.Info("readyz.not_ready", "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{
		Registry:          h.registry,
		EnableOpenMetrics: true,
	}))

	if h.ws != nil {
		mux.Handle("/ws", h.ws)
	}
}
