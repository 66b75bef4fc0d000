package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "notify",
		Name:      "jobs_processed_total",
		Help:      "Number of notification jobs successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "notify",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "notify",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastJobGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "registration",
		Subsystem: "notify",
		Name:      "last_job_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed job per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, lastJobGauge)
}

func recordProcessed(job Job) {
	processedCounter.WithLabelValues(job.Topic, job.EventType).Inc()
	if !job.Timestamp.IsZero() {
		lastJobGauge.WithLabelValues(job.Topic).Set(float64(job.Timestamp.Unix()))
	}
}

func recordHandlerError(job Job) {
	handlerErrorCounter.WithLabelValues(job.Topic, job.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
