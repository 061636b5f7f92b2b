package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/carecoord/internal/platform/apperror"
)

// Metrics holds the application's Prometheus collectors.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	TransitionRetries  *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carecoord_transitions_total",
			Help: "State transitions by operation and result code",
		}, []string{"op", "result"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carecoord_transition_duration_seconds",
			Help:    "State transition latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		TransitionRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carecoord_transition_retries_total",
			Help: "Transitions re-run after an infrastructure or version conflict",
		}, []string{"op"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carecoord_notifications_total",
			Help: "Per-recipient notification outcomes",
		}, []string{"type", "status"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carecoord_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.Transitions,
		m.TransitionDuration,
		m.TransitionRetries,
		m.Notifications,
		m.BreakerState,
	)
	return m
}

// ObserveTransition records the outcome of one domain operation. The result
// label is "ok" or the error code.
func (m *Metrics) ObserveTransition(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = apperror.CodeOf(err)
	}
	m.Transitions.WithLabelValues(op, result).Inc()
	m.TransitionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.TransitionRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveNotifications(notificationType, status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Notifications.WithLabelValues(notificationType, status).Add(float64(n))
}

func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

// Handler exposes the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
