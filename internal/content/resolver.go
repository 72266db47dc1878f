// Package content resolves and renders message content for sequence steps.
package content

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/bissquit/lead-garden/internal/domain"
)

// ErrEmptyPool is returned when a rotating step has no content to draw from.
var ErrEmptyPool = errors.New("rotating content pool is empty")

// CatalogSource provides content items.
type CatalogSource interface {
	GetContentByKey(ctx context.Context, key string) (*domain.ContentItem, error)
	ListActiveRotating(ctx context.Context) ([]domain.ContentItem, error)
}

// SentContentSource reports which content items a lead has already received.
type SentContentSource interface {
	SentContentIDs(ctx context.Context, leadID string) (map[string]bool, error)
}

// Resolver picks the content item for a step. Fixed steps always resolve to
// their named template; rotating steps never repeat an item until the lead has
// seen the whole pool, after which repeats are picked uniformly at random
// (accepted policy, not a bug).
type Resolver struct {
	catalog CatalogSource
	sent    SentContentSource

	// pick selects an index in [0, n); overridden in tests.
	pick func(n int) int
}

// NewResolver creates a new content resolver.
func NewResolver(catalog CatalogSource, sent SentContentSource) *Resolver {
	return &Resolver{
		catalog: catalog,
		sent:    sent,
		pick:    rand.IntN,
	}
}

// Resolve returns the content item to send for a step to a lead.
func (r *Resolver) Resolve(ctx context.Context, leadID string, step *domain.SequenceStep) (*domain.ContentItem, error) {
	if step.ContentKind == domain.ContentFixed {
		item, err := r.catalog.GetContentByKey(ctx, step.ContentKey)
		if err != nil {
			return nil, fmt.Errorf("resolve fixed content %q: %w", step.ContentKey, err)
		}
		return item, nil
	}

	pool, err := r.catalog.ListActiveRotating(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rotating pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}

	seen, err := r.sent.SentContentIDs(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("list sent content: %w", err)
	}

	candidates := make([]domain.ContentItem, 0, len(pool))
	for _, item := range pool {
		if !seen[item.ID] {
			candidates = append(candidates, item)
		}
	}
	// Pool exhausted for this lead: fall back to the full pool.
	if len(candidates) == 0 {
		candidates = pool
	}

	item := candidates[r.pick(len(candidates))]
	return &item, nil
}
