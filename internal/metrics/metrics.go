// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runledger_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsTotal counts ingested events by type, event name and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runledger_events_total",
			Help: "Total ingested events",
		},
		[]string{"type", "event", "outcome"},
	)

	// BatchDuration tracks how long one ingest batch takes end to end.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runledger_batch_duration_seconds",
			Help:    "Ingest batch processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
	)

	// BatchSize tracks the number of events per batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runledger_batch_size",
			Help:    "Number of events per ingest batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// ParentLookups counts parent resolution outcomes for start events.
	ParentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runledger_parent_lookups_total",
			Help: "Parent run lookups by outcome",
		},
		[]string{"outcome"},
	)

	// ChatOperations counts conversation reconciliation decisions.
	ChatOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runledger_chat_operations_total",
			Help: "Chat reconciliation operations",
		},
		[]string{"operation"},
	)

	// QueueMessages counts messages consumed from the event queue.
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runledger_queue_messages_total",
			Help: "Messages consumed from the event queue",
		},
		[]string{"stream", "outcome"},
	)
)

// Parent lookup outcomes.
const (
	ParentBatch      = "batch"
	ParentFound      = "found"
	ParentFoundRetry = "found_after_retry"
	ParentDropped    = "dropped"
)

// Chat operations.
const (
	ChatNewTurn     = "new_turn"
	ChatAppendInput = "append_input"
	ChatAppendOut   = "append_output"
	ChatFork        = "fork"
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records the outcome of one ingested event.
func RecordEvent(typ, event string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	EventsTotal.WithLabelValues(typ, event, outcome).Inc()
}

// RecordBatch records the size and duration of one ingest batch.
func RecordBatch(size int, duration float64) {
	BatchSize.Observe(float64(size))
	BatchDuration.Observe(duration)
}
