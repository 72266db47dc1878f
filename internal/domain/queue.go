package domain

import "time"

// QueueStatus represents the status of a queue entry.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusCancelled  QueueStatus = "cancelled"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueEntry is a scheduled, not-yet-delivered instance of one step for one
// lead on one concrete channel. Unique per (enrollment, step, channel).
type QueueEntry struct {
	ID           string      `json:"id"`
	EnrollmentID string      `json:"enrollment_id"`
	LeadID       string      `json:"lead_id"`
	StepID       string      `json:"step_id"`
	StepOrder    int         `json:"step_order"`
	Channel      Channel     `json:"channel"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	LastError    string      `json:"last_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	SentAt       *time.Time  `json:"sent_at"`
}

// SentRecord is the immutable ledger row proving a (lead, step, channel) was
// dispatched. Unique per (lead, step, channel) for all time; this is the
// system's deduplication source of truth.
type SentRecord struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	StepID     string    `json:"step_id"`
	Channel    Channel   `json:"channel"`
	ContentID  string    `json:"content_id"`
	ProviderID string    `json:"provider_id"`
	SentAt     time.Time `json:"sent_at"`
}
