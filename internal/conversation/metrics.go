package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values for ItemsProcessed.
const (
	resultIndexed         = "indexed"
	resultExtractionError = "extraction_error"
	resultWriteError      = "write_error"
	resultPanic           = "panic"
)

var (
	// ItemsEnqueued counts items handed to the background worker.
	// Labels: kind (user, assistant)
	ItemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialogd",
			Subsystem: "indexing",
			Name:      "items_enqueued_total",
			Help:      "Total number of index items enqueued",
		},
		[]string{"kind"},
	)

	// ItemsProcessed counts items leaving the worker.
	// Labels: kind (user, assistant), result (indexed, extraction_error, write_error, panic)
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialogd",
			Subsystem: "indexing",
			Name:      "items_processed_total",
			Help:      "Total number of index items processed by result",
		},
		[]string{"kind", "result"},
	)

	// ExtractionFailures counts extractor errors and blank results.
	ExtractionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dialogd",
			Subsystem: "indexing",
			Name:      "extraction_failures_total",
			Help:      "Total number of failed user message extractions",
		},
	)

	// WriteRetries counts index write attempts after the first.
	WriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dialogd",
			Subsystem: "indexing",
			Name:      "write_retries_total",
			Help:      "Total number of retried index writes",
		},
	)

	// QueueDepth is the number of items waiting across all workers.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dialogd",
			Subsystem: "indexing",
			Name:      "queue_depth",
			Help:      "Number of items waiting in indexing queues",
		},
	)

	// WriteDuration tracks index write latency, retries included.
	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dialogd",
			Subsystem: "indexing",
			Name:      "write_duration_seconds",
			Help:      "Duration of index writes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
