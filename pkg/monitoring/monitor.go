package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attempt_active_sessions",
			Help: "Number of attempt sessions currently in progress",
		},
	)

	ViolationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_violations_total",
			Help: "Integrity violations recorded, by type",
		},
		[]string{"type"},
	)

	AutoSubmitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_auto_submits_total",
			Help: "Attempts finalized without learner action, by trigger",
		},
		[]string{"trigger"},
	)

	AnswerWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_answer_write_failures_total",
			Help: "Answer persistence writes that exhausted their retries",
		},
	)

	AnswerWriteRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_answer_write_retries_total",
			Help: "Answer persistence writes that needed a retry",
		},
	)

	ViolationLogDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_violation_log_drops_total",
			Help: "Violation audit records dropped after a failed write",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(ViolationCounter)
	prometheus.MustRegister(AutoSubmitCounter)
	prometheus.MustRegister(AnswerWriteFailures)
	prometheus.MustRegister(AnswerWriteRetries)
	prometheus.MustRegister(ViolationLogDrops)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
