package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestia_ledger_entries_total",
		Help: "Total ledger entries appended, by verified flag.",
	}, []string{"verified"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestia_verifications_total",
		Help: "Total entry verification checks by result.",
	}, []string{"result"})

	checkpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attestia_checkpoints_total",
		Help: "Total root-hash checkpoints written.",
	})

	nodesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attestia_nodes_total",
		Help: "Registered accountability nodes by status.",
	}, []string{"status"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestia_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attestia_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEntryAppend records a successful ledger append.
func RecordEntryAppend(verified bool) {
	ledgerEntriesTotal.WithLabelValues(strconv.FormatBool(verified)).Inc()
}

// RecordVerification records an entry verification check result.
func RecordVerification(valid bool) {
	if valid {
		verificationsTotal.WithLabelValues("valid").Inc()
	} else {
		verificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// RecordCheckpoint records a written root-hash checkpoint.
func RecordCheckpoint() {
	checkpointsTotal.Inc()
}

// SetNodesGauge sets the node count gauge for a given status.
func SetNodesGauge(status string, count float64) {
	nodesTotal.WithLabelValues(status).Set(count)
}
