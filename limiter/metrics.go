package limiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type limiterMetrics struct {
	decisions *prometheus.CounterVec
	degraded  *prometheus.CounterVec
}

func newLimiterMetrics(reg prometheus.Registerer) *limiterMetrics {
	f := promauto.With(reg)
	return &limiterMetrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meter",
			Subsystem: "limiter",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meter",
			Subsystem: "limiter",
			Name:      "degraded_total",
			Help:      "Decisions taken without the counter store, by failure policy",
		}, []string{"policy"}),
	}
}

func (m *limiterMetrics) observe(d Decision) {
	outcome, reason := "allowed", "none"
	if !d.Allowed {
		outcome, reason = "denied", d.Reason
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}
