// Package leads provides the lead data source and write-back operations.
package leads

import (
	"context"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
)

// Repository defines the interface for lead data access.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	UpdateStatus(ctx context.Context, id string, status domain.LeadStatus) error
	TouchLastContacted(ctx context.Context, id string, at time.Time) error
	SetDoNotContact(ctx context.Context, id string, value bool) error
	AddToNewsletter(ctx context.Context, email string) error
}
