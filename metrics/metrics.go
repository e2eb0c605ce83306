// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microbank_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "microbank_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	ledgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microbank_ledger_operations_total",
		Help: "Ledger operations by outcome",
	}, []string{"operation", "outcome"})

	// StoreWriteFailures counts changesets the record store refused.
	StoreWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microbank_store_write_failures_total",
		Help: "Failed persistence writes, labeled by ledger operation",
	}, []string{"operation"})
)

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// RecordOperation counts one ledger operation with its outcome label.
func RecordOperation(op, outcome string) {
	ledgerOperations.WithLabelValues(op, outcome).Inc()
}
