// Package postgres provides PostgreSQL implementation of the enrollment
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/enrollment"
)

// Repository implements enrollment.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectColumns = `
	e.id, e.lead_id, e.sequence_id, s.slug, e.status, e.current_step,
	e.enrolled_at, COALESCE(e.enrolled_by, ''), e.anchor_override,
	COALESCE(e.cancel_reason, ''), e.completed_at, e.cancelled_at,
	e.created_at, e.updated_at`

func scanEnrollment(row pgx.Row) (*domain.Enrollment, error) {
	e := &domain.Enrollment{}
	err := row.Scan(
		&e.ID,
		&e.LeadID,
		&e.SequenceID,
		&e.SequenceSlug,
		&e.Status,
		&e.CurrentStep,
		&e.EnrolledAt,
		&e.EnrolledBy,
		&e.AnchorOverride,
		&e.CancelReason,
		&e.CompletedAt,
		&e.CancelledAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, enrollment.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	return e, nil
}

// GetByID returns an enrollment by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM enrollments e
		JOIN sequences s ON s.id = e.sequence_id
		WHERE e.id = $1`

	return scanEnrollment(r.db.QueryRow(ctx, query, id))
}

// GetLatest returns the most recent enrollment for a (lead, sequence) pair.
func (r *Repository) GetLatest(ctx context.Context, leadID, sequenceID string) (*domain.Enrollment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM enrollments e
		JOIN sequences s ON s.id = e.sequence_id
		WHERE e.lead_id = $1 AND e.sequence_id = $2
		ORDER BY e.created_at DESC
		LIMIT 1`

	return scanEnrollment(r.db.QueryRow(ctx, query, leadID, sequenceID))
}

// GetActive returns the active or paused enrollment for a (lead, sequence)
// pair.
func (r *Repository) GetActive(ctx context.Context, leadID, sequenceID string) (*domain.Enrollment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM enrollments e
		JOIN sequences s ON s.id = e.sequence_id
		WHERE e.lead_id = $1 AND e.sequence_id = $2
		  AND e.status IN ('active', 'paused')`

	return scanEnrollment(r.db.QueryRow(ctx, query, leadID, sequenceID))
}

// ListActiveByLead returns a lead's active and paused enrollments.
func (r *Repository) ListActiveByLead(ctx context.Context, leadID string) ([]*domain.Enrollment, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM enrollments e
		JOIN sequences s ON s.id = e.sequence_id
		WHERE e.lead_id = $1 AND e.status IN ('active', 'paused')
		ORDER BY e.created_at`

	rows, err := r.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("list active enrollments: %w", err)
	}
	defer rows.Close()

	var result []*domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Create inserts a new enrollment.
func (r *Repository) Create(ctx context.Context, e *domain.Enrollment) error {
	query := `
		INSERT INTO enrollments (id, lead_id, sequence_id, status, current_step,
			enrolled_at, enrolled_by, anchor_override)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.LeadID, e.SequenceID, e.Status, e.CurrentStep,
		e.EnrolledAt, e.EnrolledBy, e.AnchorOverride,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Reactivate rewrites a terminal row back to active.
func (r *Repository) Reactivate(ctx context.Context, e *domain.Enrollment) error {
	query := `
		UPDATE enrollments
		SET status = $2, current_step = 0, enrolled_at = $3,
		    enrolled_by = NULLIF($4, ''), anchor_override = $5,
		    cancel_reason = NULL, completed_at = NULL, cancelled_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.Status, e.EnrolledAt, e.EnrolledBy, e.AnchorOverride,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return enrollment.ErrEnrollmentNotFound
		}
		return fmt.Errorf("reactivate enrollment: %w", err)
	}
	return nil
}

// UpdateStatus sets an enrollment's status. Completed enrollments get a
// completion timestamp.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.EnrollmentStatus) error {
	query := `
		UPDATE enrollments
		SET status = $2,
		    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return enrollment.ErrEnrollmentNotFound
	}
	return nil
}

// Cancel soft-cancels an enrollment.
func (r *Repository) Cancel(ctx context.Context, id, reason string) error {
	query := `
		UPDATE enrollments
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'paused')`

	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return enrollment.ErrEnrollmentNotFound
	}
	return nil
}

// UpdateAnchor moves the anchor override of an enrollment.
func (r *Repository) UpdateAnchor(ctx context.Context, id string, anchor time.Time) error {
	query := `UPDATE enrollments SET anchor_override = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, anchor)
	if err != nil {
		return fmt.Errorf("update anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return enrollment.ErrEnrollmentNotFound
	}
	return nil
}
