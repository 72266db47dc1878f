package catalog

import (
	"context"
	"fmt"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/google/uuid"
)

// Service implements catalog business logic.
type Service struct {
	repo Repository
}

// NewService creates a new catalog service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetSequence returns a sequence definition with its steps.
func (s *Service) GetSequence(ctx context.Context, slug string) (*domain.SequenceDefinition, error) {
	return s.repo.GetSequenceBySlug(ctx, slug)
}

// GetSequenceByID returns a sequence definition by id.
func (s *Service) GetSequenceByID(ctx context.Context, id string) (*domain.SequenceDefinition, error) {
	return s.repo.GetSequenceByID(ctx, id)
}

// ListSequences returns all sequence definitions.
func (s *Service) ListSequences(ctx context.Context) ([]domain.SequenceDefinition, error) {
	return s.repo.ListSequences(ctx)
}

// GetStep returns a single step by id.
func (s *Service) GetStep(ctx context.Context, stepID string) (*domain.SequenceStep, error) {
	return s.repo.GetStepByID(ctx, stepID)
}

// CreateSequence validates and stores a new sequence definition.
func (s *Service) CreateSequence(ctx context.Context, seq *domain.SequenceDefinition) (*domain.SequenceDefinition, error) {
	if err := validateSequence(seq); err != nil {
		return nil, err
	}

	seq.ID = uuid.New().String()
	for i := range seq.Steps {
		seq.Steps[i].ID = uuid.New().String()
		seq.Steps[i].SequenceID = seq.ID
	}

	if err := s.repo.CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

func validateSequence(seq *domain.SequenceDefinition) error {
	if len(seq.Steps) == 0 {
		return fmt.Errorf("%w: sequence has no steps", ErrInvalidSequence)
	}

	seen := make(map[int]bool, len(seq.Steps))
	for _, step := range seq.Steps {
		if step.StepOrder <= 0 {
			return fmt.Errorf("%w: step order must be positive", ErrInvalidSequence)
		}
		if seen[step.StepOrder] {
			return fmt.Errorf("%w: duplicate step order %d", ErrInvalidSequence, step.StepOrder)
		}
		seen[step.StepOrder] = true

		if step.ContentKind == domain.ContentFixed && step.ContentKey == "" {
			return fmt.Errorf("%w: fixed step %d requires a content key", ErrInvalidSequence, step.StepOrder)
		}
		if step.ContentKind == domain.ContentRotating && step.ContentKey != "" {
			return fmt.Errorf("%w: rotating step %d must not name a content key", ErrInvalidSequence, step.StepOrder)
		}
	}
	return nil
}

// CreateContentItem stores a new content item.
func (s *Service) CreateContentItem(ctx context.Context, item *domain.ContentItem) (*domain.ContentItem, error) {
	item.ID = uuid.New().String()
	if err := s.repo.CreateContentItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetContentByKey returns the content item for a fixed step reference.
func (s *Service) GetContentByKey(ctx context.Context, key string) (*domain.ContentItem, error) {
	return s.repo.GetContentByKey(ctx, key)
}

// ListActiveRotating returns the rotating content pool.
func (s *Service) ListActiveRotating(ctx context.Context) ([]domain.ContentItem, error) {
	items, err := s.repo.ListContent(ctx, domain.ContentRotating)
	if err != nil {
		return nil, err
	}
	active := make([]domain.ContentItem, 0, len(items))
	for _, it := range items {
		if it.Active {
			active = append(active, it)
		}
	}
	return active, nil
}

// ListContent returns content items of the given kind.
func (s *Service) ListContent(ctx context.Context, kind domain.ContentKind) ([]domain.ContentItem, error) {
	return s.repo.ListContent(ctx, kind)
}
