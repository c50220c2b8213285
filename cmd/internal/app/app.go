// Package app wires the medgate runtime: config, logging, credential and
// session stores, the auth router, the TCP listener and the ops HTTP listener.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/authn"
	"medgate/cmd/internal/auth/session"
	"medgate/cmd/internal/gateway"
)

// App is the medgate server runtime. Build it with New, then call Run, or
// Listen followed by Serve.
type App struct {
	cfg Config
	log Logger

	backends *backends
	registry *prometheus.Registry
	sessions *session.Manager
	auth     *authn.Authenticator
	router   *gateway.Router

	tcp  *gateway.TCPServer
	ws   *gateway.WSGateway
	http *http.Server

	mu       sync.Mutex
	httpLn   net.Listener
	draining atomic.Bool
}

// New validates cfg and opens every backend. On error nothing is left open.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	digester, err := ValidateSecurityConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	warnLegacyWrites(cfg, log)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, b, session.WithDigester(digester))
	if err != nil {
		_ = b.close()
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, log Logger, b *backends, digester session.Option) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dir, err := identity.NewDirectory(b.creds, cfg.Password, log)
	if err != nil {
		return nil, oops.Code("WIRE_FAILED").Wrap(err)
	}

	sessions, err := session.NewManager(cfg.Session,
		session.WithStore(b.sessions),
		digester,
		session.WithLogger(log),
	)
	if err != nil {
		return nil, oops.Code("WIRE_FAILED").Wrap(err)
	}
	authn.RegisterActiveSessions(reg, sessions.Len)

	auth, err := authn.New(dir, sessions, log,
		authn.NewAuditListener(log),
		authn.NewMetricsListener(reg),
	)
	if err != nil {
		return nil, oops.Code("WIRE_FAILED").Wrap(err)
	}

	router, err := gateway.NewRouter(auth,
		gateway.WithLogger(log),
		gateway.WithMetrics(gateway.NewMetrics(reg)),
		gateway.WithWorkerLimit(cfg.Gateway.WorkerLimit),
	)
	if err != nil {
		return nil, oops.Code("WIRE_FAILED").Wrap(err)
	}
	auth.Subscribe(router)

	a := &App{
		cfg:      cfg,
		log:      log,
		backends: b,
		registry: reg,
		sessions: sessions,
		auth:     auth,
		router:   router,
		tcp:      gateway.NewTCPServer(cfg.TCPAddr, router, cfg.Gateway, log),
		ws:       gateway.NewWSGateway(router, cfg.Gateway, log),
	}

	mux := http.NewServeMux()
	registerHTTP(mux, opsHandlers{
		log:      log,
		cfg:      cfg,
		backends: b,
		registry: reg,
		ws:       a.ws,
		draining: &a.draining,
	})
	a.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, log)),
		ReadHeaderTimeout: nonZeroDuration(cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(cfg.MaxHeaderBytes, 1<<20),
	}
	return a, nil
}

// Listen binds the TCP and ops HTTP sockets so that their addresses are
// known before Serve.
func (a *App) Listen(ctx context.Context) error {
	if err := a.tcp.Listen(ctx); err != nil {
		return err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.HTTPAddr)
	if err != nil {
		_ = a.tcp.Close()
		return oops.In("http").Code("LISTEN_FAILED").With("addr", a.cfg.HTTPAddr).Wrap(err)
	}
	a.mu.Lock()
	a.httpLn = ln
	a.mu.Unlock()
	return nil
}

// TCPAddr returns the bound TCP address, or "" before Listen.
func (a *App) TCPAddr() string {
	if addr := a.tcp.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// HTTPAddr returns the bound ops HTTP address, or "" before Listen.
func (a *App) HTTPAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpLn == nil {
		return ""
	}
	return a.httpLn.Addr().String()
}

// Run listens and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Listen(ctx); err != nil {
		_ = a.backends.close()
		return err
	}
	return a.Serve(ctx)
}

// Serve blocks until ctx is done or a listener fails, then shuts everything
// down: ops HTTP, TCP connections, WebSocket connections, in-flight
// requests, session timers and finally the backends.
func (a *App) Serve(ctx context.Context) error {
	if a.HTTPAddr() == "" {
		return oops.Code("NOT_LISTENING").Errorf("serve called before listen")
	}
	a.log.Info("server.start",
		"tcp_addr", a.TCPAddr(),
		"http_addr", a.HTTPAddr(),
		"store", a.cfg.StoreDriver,
		"session_idle_timeout", a.sessions.IdleTimeout(),
	)

	g, gctx := errgroup.WithContext(ctx)
	tcpDone := make(chan struct{})

	g.Go(func() error {
		defer close(tcpDone)
		return a.tcp.Serve(gctx)
	})
	g.Go(func() error {
		if err := a.http.Serve(a.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.In("http").Code("SERVE_FAILED").Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(tcpDone)
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) shutdown(tcpDone <-chan struct{}) error {
	a.draining.Store(true)
	a.log.Info("server.stop", "reason", "context_done")

	ctx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, oops.In("http").Wrap(err))
	}
	if err := a.ws.Shutdown(ctx); err != nil {
		errs = append(errs, oops.In("ws").Wrap(err))
	}
	select {
	case <-tcpDone:
	case <-ctx.Done():
	}
	if err := a.router.Shutdown(ctx); err != nil {
		errs = append(errs, oops.In("router").Wrap(err))
	}
	a.sessions.Close(ctx)
	if err := a.backends.close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	return errors.Join(errs...)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
