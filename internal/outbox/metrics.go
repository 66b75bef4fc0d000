package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "outbox",
		Name:      "jobs_delivered_total",
		Help:      "Number of notification jobs successfully published to Kafka.",
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "outbox",
		Name:      "jobs_dropped_total",
		Help:      "Number of notification jobs dropped after a delivery failure.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "registration",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent fetching, delivering, and marking outbox batches.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, droppedCounter, batchDuration)
}
