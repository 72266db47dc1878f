package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/lead-garden/internal/domain"
)

type mockRepository struct {
	sequences map[string]*domain.SequenceDefinition
	content   map[string]*domain.ContentItem
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		sequences: make(map[string]*domain.SequenceDefinition),
		content:   make(map[string]*domain.ContentItem),
	}
}

func (m *mockRepository) CreateSequence(_ context.Context, seq *domain.SequenceDefinition) error {
	if _, ok := m.sequences[seq.Slug]; ok {
		return ErrSlugTaken
	}
	m.sequences[seq.Slug] = seq
	return nil
}

func (m *mockRepository) GetSequenceBySlug(_ context.Context, slug string) (*domain.SequenceDefinition, error) {
	if seq, ok := m.sequences[slug]; ok {
		return seq, nil
	}
	return nil, ErrSequenceNotFound
}

func (m *mockRepository) GetSequenceByID(_ context.Context, id string) (*domain.SequenceDefinition, error) {
	for _, seq := range m.sequences {
		if seq.ID == id {
			return seq, nil
		}
	}
	return nil, ErrSequenceNotFound
}

func (m *mockRepository) ListSequences(_ context.Context) ([]domain.SequenceDefinition, error) {
	out := make([]domain.SequenceDefinition, 0, len(m.sequences))
	for _, seq := range m.sequences {
		out = append(out, *seq)
	}
	return out, nil
}

func (m *mockRepository) GetStepByID(_ context.Context, stepID string) (*domain.SequenceStep, error) {
	for _, seq := range m.sequences {
		for i := range seq.Steps {
			if seq.Steps[i].ID == stepID {
				return &seq.Steps[i], nil
			}
		}
	}
	return nil, ErrStepNotFound
}

func (m *mockRepository) CreateContentItem(_ context.Context, item *domain.ContentItem) error {
	if _, ok := m.content[item.Key]; ok {
		return ErrContentKeyTaken
	}
	m.content[item.Key] = item
	return nil
}

func (m *mockRepository) GetContentByKey(_ context.Context, key string) (*domain.ContentItem, error) {
	if item, ok := m.content[key]; ok {
		return item, nil
	}
	return nil, ErrContentNotFound
}

func (m *mockRepository) GetContentByID(_ context.Context, id string) (*domain.ContentItem, error) {
	for _, item := range m.content {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, ErrContentNotFound
}

func (m *mockRepository) ListContent(_ context.Context, kind domain.ContentKind) ([]domain.ContentItem, error) {
	out := make([]domain.ContentItem, 0, len(m.content))
	for _, item := range m.content {
		if item.Kind == kind {
			out = append(out, *item)
		}
	}
	return out, nil
}

func validSequence() *domain.SequenceDefinition {
	return &domain.SequenceDefinition{
		Slug:    "nurture",
		Name:    "Nurture",
		Trigger: domain.TriggerFormSubmission,
		Active:  true,
		Steps: []domain.SequenceStep{
			{StepOrder: 1, DelayValue: 0, DelayUnit: domain.DelayMinutes, Channel: domain.ChannelEmail, ContentKind: domain.ContentFixed, ContentKey: "welcome", Active: true},
			{StepOrder: 2, DelayValue: 2, DelayUnit: domain.DelayDays, Channel: domain.ChannelBoth, ContentKind: domain.ContentRotating, Active: true},
		},
	}
}

func TestCreateSequence_AssignsIDs(t *testing.T) {
	svc := NewService(newMockRepository())

	created, err := svc.CreateSequence(context.Background(), validSequence())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	for _, step := range created.Steps {
		assert.NotEmpty(t, step.ID)
		assert.Equal(t, created.ID, step.SequenceID)
	}
}

func TestCreateSequence_RejectsEmptySteps(t *testing.T) {
	svc := NewService(newMockRepository())

	seq := validSequence()
	seq.Steps = nil

	_, err := svc.CreateSequence(context.Background(), seq)
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestCreateSequence_RejectsDuplicateStepOrder(t *testing.T) {
	svc := NewService(newMockRepository())

	seq := validSequence()
	seq.Steps[1].StepOrder = 1

	_, err := svc.CreateSequence(context.Background(), seq)
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestCreateSequence_FixedStepNeedsContentKey(t *testing.T) {
	svc := NewService(newMockRepository())

	seq := validSequence()
	seq.Steps[0].ContentKey = ""

	_, err := svc.CreateSequence(context.Background(), seq)
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestCreateSequence_RotatingStepMustNotNameContent(t *testing.T) {
	svc := NewService(newMockRepository())

	seq := validSequence()
	seq.Steps[1].ContentKey = "welcome"

	_, err := svc.CreateSequence(context.Background(), seq)
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestCreateSequence_DuplicateSlug(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.CreateSequence(context.Background(), validSequence())
	require.NoError(t, err)

	_, err = svc.CreateSequence(context.Background(), validSequence())
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestGetSequence(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.CreateSequence(context.Background(), validSequence())
	require.NoError(t, err)

	seq, err := svc.GetSequence(context.Background(), "nurture")
	require.NoError(t, err)
	assert.Equal(t, "nurture", seq.Slug)

	_, err = svc.GetSequence(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestListActiveRotating_FiltersInactive(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	_, err := svc.CreateContentItem(context.Background(), &domain.ContentItem{Key: "a", Kind: domain.ContentRotating, Body: "a", Active: true})
	require.NoError(t, err)
	_, err = svc.CreateContentItem(context.Background(), &domain.ContentItem{Key: "b", Kind: domain.ContentRotating, Body: "b", Active: false})
	require.NoError(t, err)
	_, err = svc.CreateContentItem(context.Background(), &domain.ContentItem{Key: "c", Kind: domain.ContentFixed, Body: "c", Active: true})
	require.NoError(t, err)

	pool, err := svc.ListActiveRotating(context.Background())
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "a", pool[0].Key)
}

func TestCreateContentItem_AssignsID(t *testing.T) {
	svc := NewService(newMockRepository())

	item, err := svc.CreateContentItem(context.Background(), &domain.ContentItem{Key: "welcome", Kind: domain.ContentFixed, Body: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
}
