package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type meterMetrics struct {
	recorded    *prometheus.CounterVec
	amount      *prometheus.CounterVec
	storeErrors prometheus.Counter
	logFailures prometheus.Counter
}

func newMeterMetrics(reg prometheus.Registerer) *meterMetrics {
	f := promauto.With(reg)
	return &meterMetrics{
		recorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meter",
			Subsystem: "usage",
			Name:      "events_total",
			Help:      "Usage events recorded by metric",
		}, []string{"metric"}),
		amount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meter",
			Subsystem: "usage",
			Name:      "amount_total",
			Help:      "Usage amount recorded by metric",
		}, []string{"metric"}),
		storeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "meter",
			Subsystem: "usage",
			Name:      "store_errors_total",
			Help:      "Counter store failures while recording usage",
		}),
		logFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "meter",
			Subsystem: "usage",
			Name:      "log_failures_total",
			Help:      "Durable usage log writes that failed",
		}),
	}
}
