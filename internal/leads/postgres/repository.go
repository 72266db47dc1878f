// Package postgres provides PostgreSQL implementation of the leads repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/leads"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements leads.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetByID returns a lead by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	query := `
		SELECT id, first_name, last_name, email, COALESCE(phone, ''),
		       status, do_not_contact, last_contacted_at, created_at, updated_at
		FROM leads
		WHERE id = $1`

	lead := &domain.Lead{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&lead.ID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&lead.Status,
		&lead.DoNotContact,
		&lead.LastContactedAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrLeadNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

// UpdateStatus sets a lead's pipeline status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.LeadStatus) error {
	query := `UPDATE leads SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrLeadNotFound
	}
	return nil
}

// TouchLastContacted records when a message last went out to the lead.
func (r *Repository) TouchLastContacted(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE leads SET last_contacted_at = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touch last contacted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrLeadNotFound
	}
	return nil
}

// SetDoNotContact flips the do-not-contact flag.
func (r *Repository) SetDoNotContact(ctx context.Context, id string, value bool) error {
	query := `UPDATE leads SET do_not_contact = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("set do-not-contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrLeadNotFound
	}
	return nil
}

// AddToNewsletter subscribes an email address to the newsletter list.
// Re-subscribing an existing address is a no-op.
func (r *Repository) AddToNewsletter(ctx context.Context, email string) error {
	query := `
		INSERT INTO newsletter_subscribers (email)
		VALUES ($1)
		ON CONFLICT (email) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, email); err != nil {
		return fmt.Errorf("add to newsletter: %w", err)
	}
	return nil
}
