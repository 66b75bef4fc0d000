// Package observability holds Prometheus instruments shared across the service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registrationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "core",
		Name:      "registrations_total",
		Help:      "Registration attempts grouped by outcome.",
	}, []string{"outcome"})

	txRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registration",
		Subsystem: "store",
		Name:      "transaction_retries_total",
		Help:      "Number of store transactions retried after a serialization conflict.",
	})

	activityCreatedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "registration",
		Subsystem: "core",
		Name:      "last_activity_created_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity created.",
	})
)

func init() {
	prometheus.MustRegister(registrationCounter, txRetryCounter, activityCreatedGauge)
}

// RecordRegistration counts one registration attempt. Outcome is one of
// "registered", "conflict", "not_found", or "error".
func RecordRegistration(outcome string) {
	registrationCounter.WithLabelValues(outcome).Inc()
}

// RecordTxRetry counts one transaction retry.
func RecordTxRetry() {
	txRetryCounter.Inc()
}

// RecordActivityCreated updates the creation watermark gauge.
func RecordActivityCreated(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityCreatedGauge.Set(float64(ts.Unix()))
}
