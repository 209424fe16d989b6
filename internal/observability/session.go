package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/campusdesk/campusdesk/internal/authz"
)

// SessionMetrics records the behaviour of the session monitor and the login
// pipeline. A nil *SessionMetrics discards everything.
type SessionMetrics struct {
	revalidations  *prometheus.CounterVec
	forcedLogouts  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	activeMonitors prometheus.Gauge
	visitors       prometheus.Gauge
}

// NewSessionMetrics registers the session collectors.
func NewSessionMetrics(registerer prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusdesk_session_revalidations_total",
			Help: "Upstream session checks by outcome.",
		}, []string{"outcome"}),
		forcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusdesk_session_forced_logouts_total",
			Help: "Sessions ended by the monitor, by reason.",
		}, []string{"reason"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusdesk_login_attempts_total",
			Help: "Login pipeline steps by identity scheme and outcome.",
		}, []string{"scheme", "outcome"}),
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusdesk_session_active_monitors",
			Help: "Monitors currently watching an authenticated session.",
		}),
		visitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusdesk_console_visitors",
			Help: "Console visitors held in memory.",
		}),
	}
	registerer.MustRegister(m.revalidations, m.forcedLogouts, m.logins, m.activeMonitors, m.visitors)
	return m
}

// Revalidated implements authz.MonitorObserver.
func (m *SessionMetrics) Revalidated(outcome authz.Outcome) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(string(outcome)).Inc()
}

// ForcedLogout implements authz.MonitorObserver.
func (m *SessionMetrics) ForcedLogout(reason authz.LogoutReason) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(string(reason)).Inc()
}

// ActiveChanged implements authz.MonitorObserver.
func (m *SessionMetrics) ActiveChanged(active bool) {
	if m == nil {
		return
	}
	if active {
		m.activeMonitors.Inc()
		return
	}
	m.activeMonitors.Dec()
}

// LoginAttempt matches authz.LoginObserver.
func (m *SessionMetrics) LoginAttempt(scheme authz.Kind, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.logins.WithLabelValues(scheme.String(), outcome).Inc()
}

// SetVisitors reports the registry size.
func (m *SessionMetrics) SetVisitors(n int) {
	if m == nil {
		return
	}
	m.visitors.Set(float64(n))
}

var _ authz.MonitorObserver = (*SessionMetrics)(nil)
