package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the transport and dispatch counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ConnectionsOpen  *prometheus.GaugeVec
	ConnectionsTotal *prometheus.CounterVec
	Frames           *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec
	SendDrops        prometheus.Counter
	ResultsDropped   prometheus.Counter
	WorkersBusy      prometheus.Gauge
}

// NewMetrics creates and registers the gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medgate_connections_open",
			Help: "Connections currently open",
		}, []string{"transport"}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_connections_total",
			Help: "Connections accepted",
		}, []string{"transport"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_frames_total",
			Help: "Requests dispatched by action",
		}, []string{"action"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_protocol_errors_total",
			Help: "Frames rejected by error code",
		}, []string{"code"}),
		SendDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medgate_send_dropped_total",
			Help: "Outbound frames dropped because the send queue was full",
		}),
		ResultsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medgate_results_dropped_total",
			Help: "Results discarded because their connection was gone",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medgate_workers_busy",
			Help: "Requests currently running on the worker pool",
		}),
	}
	reg.MustRegister(
		m.ConnectionsOpen,
		m.ConnectionsTotal,
		m.Frames,
		m.ProtocolErrors,
		m.SendDrops,
		m.ResultsDropped,
		m.WorkersBusy,
	)
	return m
}

func (m *Metrics) connOpened(transport string) {
	if m == nil {
		return
	}
	m.ConnectionsOpen.WithLabelValues(transport).Inc()
	m.ConnectionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) connClosed(transport string) {
	if m == nil {
		return
	}
	m.ConnectionsOpen.WithLabelValues(transport).Dec()
}

func (m *Metrics) frame(action string) {
	if m != nil {
		m.Frames.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) protocolError(code string) {
	if m != nil {
		m.ProtocolErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) sendDropped() {
	if m != nil {
		m.SendDrops.Inc()
	}
}

func (m *Metrics) resultDropped() {
	if m != nil {
		m.ResultsDropped.Inc()
	}
}

func (m *Metrics) workerStarted() {
	if m != nil {
		m.WorkersBusy.Inc()
	}
}

func (m *Metrics) workerDone() {
	if m != nil {
		m.WorkersBusy.Dec()
	}
}
