package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Generation backend call latency (ms)
	GeneratorCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replygate_generator_call_latency_ms",
			Help:    "Draft generation backend call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// Scan cycle duration (s)
	ScanCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replygate_scan_cycle_duration_seconds",
			Help:    "Duration of one inbox scan cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
	)

	// Per-message pipeline outcomes
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replygate_messages_processed_total",
			Help: "Messages evaluated by the pipeline, by outcome",
		},
		[]string{"outcome"}, // notified, skipped_processed, skipped_no_draft, failed
	)

	// Approval callback results
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replygate_approvals_total",
			Help: "Approval callback activations, by result",
		},
		[]string{"result"}, // sent, not_found, invalid, bad_action, failed
	)

	// HTTP request latency (s)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replygate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordGeneratorCallLatency records one generation backend call.
func RecordGeneratorCallLatency(status string, duration time.Duration) {
	GeneratorCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordScanCycle records one scan cycle.
func RecordScanCycle(duration time.Duration) {
	ScanCycleDuration.Observe(duration.Seconds())
}

// IncrementMessageProcessed counts one per-message outcome.
func IncrementMessageProcessed(outcome string) {
	MessagesProcessed.WithLabelValues(outcome).Inc()
}

// IncrementApproval counts one approval callback result.
func IncrementApproval(result string) {
	ApprovalsTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequestDuration records one HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
