// Package queue stores scheduled dispatches, processes due entries and keeps
// the immutable sent-record ledger that guarantees at-most-once delivery per
// (lead, step, channel).
package queue

import (
	"context"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
)

// Stats summarizes queue entry counts by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Cancelled  int `json:"cancelled"`
	Failed     int `json:"failed"`
}

// Repository defines the interface for queue data access.
type Repository interface {
	// FetchDue returns pending entries due at now whose enrollment is
	// active, ordered by scheduled_for ascending.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error)

	GetByID(ctx context.Context, id string) (*domain.QueueEntry, error)
	FindEntry(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (*domain.QueueEntry, error)

	// Claim atomically moves an entry from pending to processing. A false
	// return means another worker got there first.
	Claim(ctx context.Context, id string) (bool, error)

	MarkSent(ctx context.Context, id string, at time.Time) error

	// Release returns a processing entry to pending with attempts+1 for a
	// later retry.
	Release(ctx context.Context, id, lastError string) error

	// MarkFailed terminally fails a processing entry with attempts+1.
	MarkFailed(ctx context.Context, id, lastError string) error

	CancelEntry(ctx context.Context, id, reason string) error

	// UpsertEntries inserts scheduled entries. An existing (enrollment,
	// step, channel) row in pending or cancelled state is revived with the
	// new schedule; sent, failed and processing rows are left alone.
	UpsertEntries(ctx context.Context, entries []domain.QueueEntry) error

	CancelPending(ctx context.Context, enrollmentID string) (int64, error)

	// InsertSentRecord writes a ledger row. It returns false when the
	// (lead, step, channel) row already exists.
	InsertSentRecord(ctx context.Context, rec *domain.SentRecord) (bool, error)
	HasSentRecord(ctx context.Context, leadID, stepID string, channel domain.Channel) (bool, error)
	SentContentIDs(ctx context.Context, leadID string) (map[string]bool, error)

	// AdvanceEnrollmentStep raises current_step to stepOrder if higher; it
	// never regresses.
	AdvanceEnrollmentStep(ctx context.Context, enrollmentID string, stepOrder int) error

	// CountOutstanding returns the number of pending and processing entries
	// of an enrollment.
	CountOutstanding(ctx context.Context, enrollmentID string) (int, error)

	// CompleteEnrollment marks an active enrollment completed.
	CompleteEnrollment(ctx context.Context, enrollmentID string) error

	ListFailed(ctx context.Context, limit int) ([]*domain.QueueEntry, error)

	// ResetFailed puts a failed entry back to pending with attempts reset.
	ResetFailed(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)
}

// LeadSource is the slice of the leads module the queue needs.
type LeadSource interface {
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	MarkContacted(ctx context.Context, id string) error
	UnsubscribeURL(leadID string) (string, error)
}

// StepSource resolves sequence steps. Satisfied by the catalog service.
type StepSource interface {
	GetStep(ctx context.Context, stepID string) (*domain.SequenceStep, error)
}

// EnrollmentSource is the slice of the enrollment module the queue needs.
type EnrollmentSource interface {
	GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error)
	GetActiveForSequence(ctx context.Context, leadID, sequenceID string) (*domain.Enrollment, error)
}

// ContentResolver picks the content item for a step.
type ContentResolver interface {
	Resolve(ctx context.Context, leadID string, step *domain.SequenceStep) (*domain.ContentItem, error)
}
