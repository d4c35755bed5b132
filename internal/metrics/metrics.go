// Package metrics exposes the Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesProcessed counts consumed messages per queue and outcome
	// (ok, error, dropped).
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediasub",
		Name:      "messages_processed_total",
		Help:      "Messages consumed from the work queues.",
	}, []string{"queue", "result"})

	// MessagesDispatched counts producer-side pushes per queue and
	// send status (success, failure).
	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediasub",
		Name:      "messages_dispatched_total",
		Help:      "Messages pushed onto the work queues.",
	}, []string{"queue", "status"})

	// QueueDepth is the length of a queue as observed at dispatch time.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mediasub",
		Name:      "queue_depth",
		Help:      "Observed queue length after the most recent enqueue.",
	}, []string{"queue"})

	// TaskTransitions counts download task state changes.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediasub",
		Name:      "task_transitions_total",
		Help:      "Download task status transitions.",
	}, []string{"from", "to"})

	// ActiveDownloads tracks downloads currently in flight in this process.
	ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediasub",
		Name:      "active_downloads",
		Help:      "Downloads currently executing in this worker.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
