package middleware

import (
	"strconv"
	"time"

	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics feeds every request into the sample aggregator's request stats
// and a Prometheus latency histogram labelled by route template
func Metrics(stats *metrics.RequestStats, reg prometheus.Registerer) gin.HandlerFunc {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	duration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meter",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method, route and status",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "route", "status"})

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		d := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(d.Seconds())
		if stats != nil {
			stats.Observe(status, d)
		}
	}
}
