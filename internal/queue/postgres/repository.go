// Package postgres provides PostgreSQL implementation of the queue
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
	"github.com/bissquit/lead-garden/internal/queue"
)

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const entryColumns = `
	id, enrollment_id, lead_id, step_id, step_order, channel, scheduled_for,
	status, attempts, COALESCE(last_error, ''), created_at, updated_at, sent_at`

func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	e := &domain.QueueEntry{}
	err := row.Scan(
		&e.ID,
		&e.EnrollmentID,
		&e.LeadID,
		&e.StepID,
		&e.StepOrder,
		&e.Channel,
		&e.ScheduledFor,
		&e.Status,
		&e.Attempts,
		&e.LastError,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrEntryNotFound
		}
		return nil, fmt.Errorf("scan queue entry: %w", err)
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]*domain.QueueEntry, error) {
	defer rows.Close()

	var entries []*domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FetchDue returns pending entries due at now whose enrollment is active.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	query := `
		SELECT q.id, q.enrollment_id, q.lead_id, q.step_id, q.step_order,
		       q.channel, q.scheduled_for, q.status, q.attempts,
		       COALESCE(q.last_error, ''), q.created_at, q.updated_at, q.sent_at
		FROM queue_entries q
		JOIN enrollments e ON e.id = q.enrollment_id
		WHERE q.status = 'pending'
		  AND q.scheduled_for <= $1
		  AND e.status = 'active'
		ORDER BY q.scheduled_for
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due entries: %w", err)
	}
	return collectEntries(rows)
}

// GetByID returns a queue entry by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`
	return scanEntry(r.db.QueryRow(ctx, query, id))
}

// FindEntry returns the entry for an (enrollment, step, channel) combination.
func (r *Repository) FindEntry(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (*domain.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE enrollment_id = $1 AND step_id = $2 AND channel = $3`

	return scanEntry(r.db.QueryRow(ctx, query, enrollmentID, stepID, channel))
}

// Claim atomically moves an entry from pending to processing. The conditional
// update is the queue's mutual-exclusion primitive: of any number of
// concurrent claimers exactly one sees an affected row.
func (r *Repository) Claim(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE queue_entries
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent closes out a processing entry.
func (r *Repository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = 'sent', sent_at = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark entry sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

// Release returns a processing entry to pending for a later retry.
func (r *Repository) Release(ctx context.Context, id, lastError string) error {
	query := `
		UPDATE queue_entries
		SET status = 'pending', attempts = attempts + 1, last_error = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := r.db.Exec(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("release entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

// MarkFailed terminally fails a processing entry.
func (r *Repository) MarkFailed(ctx context.Context, id, lastError string) error {
	query := `
		UPDATE queue_entries
		SET status = 'failed', attempts = attempts + 1, last_error = $2,
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("mark entry failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

// CancelEntry cancels a single entry out of band.
func (r *Repository) CancelEntry(ctx context.Context, id, reason string) error {
	query := `
		UPDATE queue_entries
		SET status = 'cancelled', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("cancel entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

// UpsertEntries inserts scheduled entries. On conflict with an existing
// (enrollment, step, channel) row the new schedule is applied only when the
// row is still pending or was cancelled; sent, failed and in-flight rows are
// untouched. This is what makes rescheduling and reactivation idempotent.
func (r *Repository) UpsertEntries(ctx context.Context, entries []domain.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO queue_entries (id, enrollment_id, lead_id, step_id,
			step_order, channel, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (enrollment_id, step_id, channel) DO UPDATE
		SET scheduled_for = EXCLUDED.scheduled_for,
		    status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE queue_entries.status IN ('pending', 'cancelled')`

	for _, e := range entries {
		if _, err := tx.Exec(ctx, query,
			e.ID, e.EnrollmentID, e.LeadID, e.StepID,
			e.StepOrder, e.Channel, e.ScheduledFor, e.Status,
		); err != nil {
			return fmt.Errorf("upsert entry for step %s: %w", e.StepID, err)
		}
	}
	return tx.Commit(ctx)
}

// CancelPending flips all pending entries of an enrollment to cancelled.
func (r *Repository) CancelPending(ctx context.Context, enrollmentID string) (int64, error) {
	query := `
		UPDATE queue_entries
		SET status = 'cancelled', updated_at = NOW()
		WHERE enrollment_id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, enrollmentID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertSentRecord writes a ledger row, reporting false when the (lead, step,
// channel) combination was already recorded. The unique index makes this the
// authoritative at-most-once check.
func (r *Repository) InsertSentRecord(ctx context.Context, rec *domain.SentRecord) (bool, error) {
	query := `
		INSERT INTO sent_records (id, lead_id, step_id, channel, content_id,
			provider_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (lead_id, step_id, channel) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.LeadID, rec.StepID, rec.Channel,
		rec.ContentID, rec.ProviderID, rec.SentAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert sent record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HasSentRecord reports whether a (lead, step, channel) row exists.
func (r *Repository) HasSentRecord(ctx context.Context, leadID, stepID string, channel domain.Channel) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM sent_records
			WHERE lead_id = $1 AND step_id = $2 AND channel = $3
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, leadID, stepID, channel).Scan(&exists); err != nil {
		return false, fmt.Errorf("check sent record: %w", err)
	}
	return exists, nil
}

// SentContentIDs returns the content items a lead has already received, used
// for rotation bookkeeping.
func (r *Repository) SentContentIDs(ctx context.Context, leadID string) (map[string]bool, error) {
	query := `SELECT DISTINCT content_id FROM sent_records WHERE lead_id = $1`

	rows, err := r.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("list sent content: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan content id: %w", err)
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

// AdvanceEnrollmentStep raises current_step to stepOrder; it never regresses.
func (r *Repository) AdvanceEnrollmentStep(ctx context.Context, enrollmentID string, stepOrder int) error {
	query := `
		UPDATE enrollments
		SET current_step = GREATEST(current_step, $2), updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, enrollmentID, stepOrder); err != nil {
		return fmt.Errorf("advance enrollment step: %w", err)
	}
	return nil
}

// CountOutstanding returns the number of pending and processing entries of an
// enrollment.
func (r *Repository) CountOutstanding(ctx context.Context, enrollmentID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE enrollment_id = $1 AND status IN ('pending', 'processing')`

	var count int
	if err := r.db.QueryRow(ctx, query, enrollmentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count outstanding entries: %w", err)
	}
	return count, nil
}

// CompleteEnrollment marks an active enrollment completed. Paused or already
// terminal enrollments are left alone.
func (r *Repository) CompleteEnrollment(ctx context.Context, enrollmentID string) error {
	query := `
		UPDATE enrollments
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	if _, err := r.db.Exec(ctx, query, enrollmentID); err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return nil
}

// ListFailed returns terminally failed entries, most recent first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]*domain.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed entries: %w", err)
	}
	return collectEntries(rows)
}

// ResetFailed puts a failed entry back to pending with a fresh attempt
// budget.
func (r *Repository) ResetFailed(ctx context.Context, id string) error {
	query := `
		UPDATE queue_entries
		SET status = 'pending', attempts = 0, last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("reset failed entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

// Stats returns queue entry counts by status.
func (r *Repository) Stats(ctx context.Context) (*queue.Stats, error) {
	query := `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &queue.Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.QueueStatus(status) {
		case domain.QueueStatusPending:
			stats.Pending = count
		case domain.QueueStatusProcessing:
			stats.Processing = count
		case domain.QueueStatusSent:
			stats.Sent = count
		case domain.QueueStatusCancelled:
			stats.Cancelled = count
		case domain.QueueStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
