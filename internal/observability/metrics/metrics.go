package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Finalize outcome labels.
const (
	FinalizeOutcomeCompleted   = "completed"
	FinalizeOutcomeIdempotent  = "idempotent"
	FinalizeOutcomeNotFound    = "not_found"
	FinalizeOutcomeConflict    = "conflict"
	FinalizeOutcomeError       = "error"
)

var (
	finalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talktime",
		Name:      "billing_finalize_total",
		Help:      "Finalize attempts by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	finalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "talktime",
		Name:      "billing_finalize_duration_seconds",
		Help:      "Wall time of finalize transactions.",
		Buckets:   prometheus.DefBuckets,
	})

	sweepOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talktime",
		Name:      "sweep_orders_total",
		Help:      "Orders handled by the sweep, by job and result.",
	}, []string{"job", "result"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "talktime",
		Name:      "sweep_job_duration_seconds",
		Help:      "Duration of each sweep job.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talktime",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "talktime",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func IncFinalize(trigger, outcome string) {
	finalizeTotal.WithLabelValues(trigger, outcome).Inc()
}

func ObserveFinalizeDuration(d time.Duration) {
	finalizeDuration.Observe(d.Seconds())
}

func IncSweepOrder(job, result string) {
	sweepOrdersTotal.WithLabelValues(job, result).Inc()
}

func ObserveSweepJobDuration(job string, d time.Duration) {
	sweepDuration.WithLabelValues(job).Observe(d.Seconds())
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
