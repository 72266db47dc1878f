// Package enrollment manages a lead's participation in sequences and expands
// sequence steps into scheduled queue entries.
package enrollment

import (
	"context"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
)

// Repository defines the interface for enrollment data access.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Enrollment, error)

	// GetLatest returns the most recent enrollment for a (lead, sequence)
	// pair regardless of status, or ErrEnrollmentNotFound.
	GetLatest(ctx context.Context, leadID, sequenceID string) (*domain.Enrollment, error)

	// GetActive returns the active or paused enrollment for a (lead,
	// sequence) pair, or ErrEnrollmentNotFound.
	GetActive(ctx context.Context, leadID, sequenceID string) (*domain.Enrollment, error)

	ListActiveByLead(ctx context.Context, leadID string) ([]*domain.Enrollment, error)

	Create(ctx context.Context, e *domain.Enrollment) error

	// Reactivate rewrites a terminal row back to active with the fields set
	// on e (current_step, enrolled_at, enrolled_by, anchor override) and
	// clears the terminal timestamps and cancel reason.
	Reactivate(ctx context.Context, e *domain.Enrollment) error

	UpdateStatus(ctx context.Context, id string, status domain.EnrollmentStatus) error
	Cancel(ctx context.Context, id, reason string) error
	UpdateAnchor(ctx context.Context, id string, anchor time.Time) error
}

// QueueStore is the slice of the queue module the enrollment service needs:
// writing scheduled entries, flipping pending ones on cancellation and
// consulting the sent ledger before scheduling.
type QueueStore interface {
	UpsertEntries(ctx context.Context, entries []domain.QueueEntry) error
	CancelPending(ctx context.Context, enrollmentID string) (int64, error)
	HasSentRecord(ctx context.Context, leadID, stepID string, channel domain.Channel) (bool, error)
}

// SequenceSource resolves sequence definitions by slug. Satisfied by the
// catalog service.
type SequenceSource interface {
	GetSequence(ctx context.Context, slug string) (*domain.SequenceDefinition, error)
}

// Waker triggers an immediate queue processor pass so zero-delay steps do not
// wait for the next poll tick.
type Waker interface {
	Wake()
}
