// Package catalog provides the sequence and message content catalog.
package catalog

import (
	"context"

	"github.com/bissquit/lead-garden/internal/domain"
)

// Repository defines the interface for catalog data access.
type Repository interface {
	// Sequences
	CreateSequence(ctx context.Context, seq *domain.SequenceDefinition) error
	GetSequenceBySlug(ctx context.Context, slug string) (*domain.SequenceDefinition, error)
	GetSequenceByID(ctx context.Context, id string) (*domain.SequenceDefinition, error)
	ListSequences(ctx context.Context) ([]domain.SequenceDefinition, error)
	GetStepByID(ctx context.Context, stepID string) (*domain.SequenceStep, error)

	// Content items
	CreateContentItem(ctx context.Context, item *domain.ContentItem) error
	GetContentByKey(ctx context.Context, key string) (*domain.ContentItem, error)
	GetContentByID(ctx context.Context, id string) (*domain.ContentItem, error)
	ListContent(ctx context.Context, kind domain.ContentKind) ([]domain.ContentItem, error)
}
