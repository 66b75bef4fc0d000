// Package events defines the payloads exchanged through the notification
// pipeline.
package events

import "time"

// EventTypeConfirmationEmail labels confirmation-mail jobs in the outbox and
// on the wire.
const EventTypeConfirmationEmail = "notification.confirmation_email"

// TopicNotificationJobs is the Kafka topic carrying mail jobs to the notifier.
const TopicNotificationJobs = "notification_jobs"

// ConfirmationEmailJob is emitted when an activity is created. The notifier
// renders it into a confirmation mail for the organizer.
type ConfirmationEmailJob struct {
	JobID        string    `json:"job_id"`
	TenantID     string    `json:"tenant_id"`
	Recipient    string    `json:"recipient"`
	ActivityName string    `json:"activity_name"`
	ActivityInfo string    `json:"activity_info"`
	RequestedAt  time.Time `json:"requested_at"`
}
