package authn

import "github.com/prometheus/client_golang/prometheus"

// MetricsListener counts authentication outcomes.
type MetricsListener struct {
	Logins        *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Logouts       prometheus.Counter
	Expirations   prometheus.Counter
}

// NewMetricsListener creates and registers the auth counters on reg.
func NewMetricsListener(reg prometheus.Registerer) *MetricsListener {
	m := &MetricsListener{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medgate_auth_logins_total",
				Help: "Login attempts by result code",
			},
			[]string{"code"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medgate_auth_registrations_total",
				Help: "Registration attempts by result code",
			},
			[]string{"code"},
		),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medgate_auth_logouts_total",
			Help: "Sessions ended by logout",
		}),
		Expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medgate_session_expirations_total",
			Help: "Sessions ended by idle timeout",
		}),
	}

	reg.MustRegister(m.Logins, m.Registrations, m.Logouts, m.Expirations)
	return m
}

// RegisterActiveSessions exposes a live session count read from fn.
func RegisterActiveSessions(reg prometheus.Registerer, fn func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "medgate_sessions_active",
			Help: "Sessions currently held",
		},
		func() float64 { return float64(fn()) },
	))
}

func (m *MetricsListener) HandleAuthEvent(e Event) {
	switch e.Kind {
	case EventLoginSucceeded, EventLoginFailed:
		m.Logins.WithLabelValues(e.Code.String()).Inc()
	case EventRegistered, EventRegisterFailed:
		m.Registrations.WithLabelValues(e.Code.String()).Inc()
	case EventLoggedOut:
		m.Logouts.Inc()
	case EventSessionExpired:
		m.Expirations.Inc()
	}
}
