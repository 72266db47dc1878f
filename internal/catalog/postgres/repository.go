// Package postgres provides PostgreSQL implementation of the catalog repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements catalog.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSequence inserts a sequence definition with its steps in one
// transaction.
func (r *Repository) CreateSequence(ctx context.Context, seq *domain.SequenceDefinition) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO sequences (id, slug, name, trigger_type, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		seq.ID,
		seq.Slug,
		seq.Name,
		seq.Trigger,
		seq.Active,
	).Scan(&seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.ErrSlugTaken
		}
		return fmt.Errorf("insert sequence: %w", err)
	}

	stepQuery := `
		INSERT INTO sequence_steps (id, sequence_id, step_order, delay_value, delay_unit, channel, content_kind, content_key, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
	`
	for _, step := range seq.Steps {
		if _, err := tx.Exec(ctx, stepQuery,
			step.ID,
			seq.ID,
			step.StepOrder,
			step.DelayValue,
			step.DelayUnit,
			step.Channel,
			step.ContentKind,
			step.ContentKey,
			step.Active,
		); err != nil {
			return fmt.Errorf("insert step %d: %w", step.StepOrder, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetSequenceBySlug retrieves a sequence with its steps.
func (r *Repository) GetSequenceBySlug(ctx context.Context, slug string) (*domain.SequenceDefinition, error) {
	return r.getSequence(ctx, `WHERE slug = $1`, slug)
}

// GetSequenceByID retrieves a sequence with its steps.
func (r *Repository) GetSequenceByID(ctx context.Context, id string) (*domain.SequenceDefinition, error) {
	return r.getSequence(ctx, `WHERE id = $1`, id)
}

func (r *Repository) getSequence(ctx context.Context, where string, arg any) (*domain.SequenceDefinition, error) {
	query := `
		SELECT id, slug, name, trigger_type, active, created_at, updated_at
		FROM sequences
	` + where

	var seq domain.SequenceDefinition
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&seq.ID,
		&seq.Slug,
		&seq.Name,
		&seq.Trigger,
		&seq.Active,
		&seq.CreatedAt,
		&seq.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrSequenceNotFound
		}
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	steps, err := r.listSteps(ctx, seq.ID)
	if err != nil {
		return nil, err
	}
	seq.Steps = steps

	return &seq, nil
}

func (r *Repository) listSteps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	query := `
		SELECT id, sequence_id, step_order, delay_value, delay_unit, channel, content_kind, COALESCE(content_key, ''), active
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_order
	`
	rows, err := r.db.Query(ctx, query, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]domain.SequenceStep, 0)
	for rows.Next() {
		var step domain.SequenceStep
		err := rows.Scan(
			&step.ID,
			&step.SequenceID,
			&step.StepOrder,
			&step.DelayValue,
			&step.DelayUnit,
			&step.Channel,
			&step.ContentKind,
			&step.ContentKey,
			&step.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// ListSequences retrieves all sequences without steps.
func (r *Repository) ListSequences(ctx context.Context) ([]domain.SequenceDefinition, error) {
	query := `
		SELECT id, slug, name, trigger_type, active, created_at, updated_at
		FROM sequences
		ORDER BY slug
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	sequences := make([]domain.SequenceDefinition, 0)
	for rows.Next() {
		var seq domain.SequenceDefinition
		err := rows.Scan(
			&seq.ID,
			&seq.Slug,
			&seq.Name,
			&seq.Trigger,
			&seq.Active,
			&seq.CreatedAt,
			&seq.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		sequences = append(sequences, seq)
	}

	return sequences, nil
}

// GetStepByID retrieves a single step.
func (r *Repository) GetStepByID(ctx context.Context, stepID string) (*domain.SequenceStep, error) {
	query := `
		SELECT id, sequence_id, step_order, delay_value, delay_unit, channel, content_kind, COALESCE(content_key, ''), active
		FROM sequence_steps
		WHERE id = $1
	`
	var step domain.SequenceStep
	err := r.db.QueryRow(ctx, query, stepID).Scan(
		&step.ID,
		&step.SequenceID,
		&step.StepOrder,
		&step.DelayValue,
		&step.DelayUnit,
		&step.Channel,
		&step.ContentKind,
		&step.ContentKey,
		&step.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrStepNotFound
		}
		return nil, fmt.Errorf("get step: %w", err)
	}
	return &step, nil
}

// CreateContentItem inserts a content item.
func (r *Repository) CreateContentItem(ctx context.Context, item *domain.ContentItem) error {
	query := `
		INSERT INTO content_items (id, key, kind, subject, body, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.Key,
		item.Kind,
		item.Subject,
		item.Body,
		item.Active,
	).Scan(&item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.ErrContentKeyTaken
		}
		return fmt.Errorf("insert content item: %w", err)
	}
	return nil
}

// GetContentByKey retrieves a content item by its key.
func (r *Repository) GetContentByKey(ctx context.Context, key string) (*domain.ContentItem, error) {
	return r.getContent(ctx, `WHERE key = $1`, key)
}

// GetContentByID retrieves a content item by id.
func (r *Repository) GetContentByID(ctx context.Context, id string) (*domain.ContentItem, error) {
	return r.getContent(ctx, `WHERE id = $1`, id)
}

func (r *Repository) getContent(ctx context.Context, where string, arg any) (*domain.ContentItem, error) {
	query := `
		SELECT id, key, kind, subject, body, active, created_at
		FROM content_items
	` + where

	var item domain.ContentItem
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&item.ID,
		&item.Key,
		&item.Kind,
		&item.Subject,
		&item.Body,
		&item.Active,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrContentNotFound
		}
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return &item, nil
}

// ListContent retrieves content items of a kind.
func (r *Repository) ListContent(ctx context.Context, kind domain.ContentKind) ([]domain.ContentItem, error) {
	query := `
		SELECT id, key, kind, subject, body, active, created_at
		FROM content_items
		WHERE kind = $1
		ORDER BY key
	`
	rows, err := r.db.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ContentItem, 0)
	for rows.Next() {
		var item domain.ContentItem
		err := rows.Scan(
			&item.ID,
			&item.Key,
			&item.Kind,
			&item.Subject,
			&item.Body,
			&item.Active,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		items = append(items, item)
	}

	return items, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
