// Package metrics exposes Prometheus collectors for HTTP traffic and the
// proctoring pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exstem"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})

	violations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "violations_total",
		Help:      "Counted proctoring violations by kind",
	}, []string{"kind"})

	forcedSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forced_submissions_total",
		Help:      "Sessions completed without an explicit submit, by reason",
	}, []string{"reason"})

	llmFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_fallbacks_total",
		Help:      "Interview engine operations that fell back to canned content",
	}, []string{"operation"})

	resultsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_created_total",
		Help:      "Results written by the grading pipeline",
	}, []string{"kind", "passed"})
)

// Middleware records request metrics. The path label is the route pattern,
// not the raw URL, to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func Violation(kind string) {
	violations.WithLabelValues(kind).Inc()
}

func ForcedSubmission(reason string) {
	forcedSubmissions.WithLabelValues(reason).Inc()
}

func LLMFallback(operation string) {
	llmFallbacks.WithLabelValues(operation).Inc()
}

func ResultCreated(kind string, passed bool) {
	resultsCreated.WithLabelValues(kind, strconv.FormatBool(passed)).Inc()
}
