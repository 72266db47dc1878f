package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/lead-garden/internal/domain"
)

// EnrollParams are the inputs to Enroll.
type EnrollParams struct {
	LeadID         string
	SequenceSlug   string
	EnrolledBy     string
	AnchorOverride *time.Time
}

// Service implements enrollment lifecycle and scheduling.
type Service struct {
	repo      Repository
	sequences SequenceSource
	queue     QueueStore
	waker     Waker

	now func() time.Time
}

// NewService creates a new enrollment service.
func NewService(repo Repository, sequences SequenceSource, queue QueueStore) *Service {
	return &Service{
		repo:      repo,
		sequences: sequences,
		queue:     queue,
		now:       time.Now,
	}
}

// SetWaker wires the queue processor kick. The processor is constructed after
// this service during startup, so the hook is set late.
func (s *Service) SetWaker(w Waker) {
	s.waker = w
}

// Enroll puts a lead into a sequence. Calling it for an already-active
// enrollment returns that enrollment unchanged. A terminal enrollment is
// reactivated from step zero. Scheduling happens synchronously before return.
func (s *Service) Enroll(ctx context.Context, params EnrollParams) (*domain.Enrollment, error) {
	seq, err := s.sequences.GetSequence(ctx, params.SequenceSlug)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetLatest(ctx, params.LeadID, seq.ID)
	if err != nil && !errors.Is(err, ErrEnrollmentNotFound) {
		return nil, err
	}

	var enr *domain.Enrollment
	switch {
	case existing != nil && !existing.Status.IsTerminal():
		// Idempotent: do not reset progress.
		return existing, nil

	case existing != nil:
		enr = existing
		enr.Status = domain.EnrollmentActive
		enr.CurrentStep = 0
		enr.EnrolledAt = s.now()
		enr.EnrolledBy = params.EnrolledBy
		enr.AnchorOverride = params.AnchorOverride
		enr.CancelReason = ""
		enr.CompletedAt = nil
		enr.CancelledAt = nil
		if err := s.repo.Reactivate(ctx, enr); err != nil {
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
		slog.Info("enrollment reactivated",
			"lead_id", enr.LeadID, "sequence", seq.Slug, "enrollment_id", enr.ID)

	default:
		enr = &domain.Enrollment{
			ID:             uuid.New().String(),
			LeadID:         params.LeadID,
			SequenceID:     seq.ID,
			SequenceSlug:   seq.Slug,
			Status:         domain.EnrollmentActive,
			CurrentStep:    0,
			EnrolledAt:     s.now(),
			EnrolledBy:     params.EnrolledBy,
			AnchorOverride: params.AnchorOverride,
		}
		if err := s.repo.Create(ctx, enr); err != nil {
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
		slog.Info("lead enrolled",
			"lead_id", enr.LeadID, "sequence", seq.Slug, "enrollment_id", enr.ID)
	}

	if err := s.schedule(ctx, enr, seq); err != nil {
		return nil, err
	}
	s.wake()
	return enr, nil
}

// Cancel soft-cancels the active enrollment of a lead in one sequence and
// flips its pending queue entries. Sent records are untouched. It is a no-op
// when no active enrollment exists.
func (s *Service) Cancel(ctx context.Context, leadID, sequenceSlug, reason string) error {
	seq, err := s.sequences.GetSequence(ctx, sequenceSlug)
	if err != nil {
		return err
	}

	enr, err := s.repo.GetActive(ctx, leadID, seq.ID)
	if err != nil {
		if errors.Is(err, ErrEnrollmentNotFound) {
			return nil
		}
		return err
	}
	return s.cancelOne(ctx, enr, reason)
}

// CancelAll cancels every active (or paused) enrollment of a lead.
func (s *Service) CancelAll(ctx context.Context, leadID, reason string) error {
	active, err := s.repo.ListActiveByLead(ctx, leadID)
	if err != nil {
		return err
	}
	for _, enr := range active {
		if err := s.cancelOne(ctx, enr, reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) cancelOne(ctx context.Context, enr *domain.Enrollment, reason string) error {
	if !enr.Status.CanTransitionTo(domain.EnrollmentCancelled) {
		// Raced with a completion or another cancel; terminal rows stay put.
		return nil
	}
	if err := s.repo.Cancel(ctx, enr.ID, reason); err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	flipped, err := s.queue.CancelPending(ctx, enr.ID)
	if err != nil {
		return fmt.Errorf("cancel pending entries: %w", err)
	}
	slog.Info("enrollment cancelled",
		"lead_id", enr.LeadID, "sequence", enr.SequenceSlug,
		"enrollment_id", enr.ID, "reason", reason, "entries_cancelled", flipped)
	return nil
}

// Pause suspends an active enrollment. Its entries stay pending but the
// processor skips them until resume.
func (s *Service) Pause(ctx context.Context, enrollmentID string) error {
	enr, err := s.repo.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enr.Status != domain.EnrollmentActive {
		return ErrNotActive
	}
	return s.repo.UpdateStatus(ctx, enrollmentID, domain.EnrollmentPaused)
}

// Resume reactivates a paused enrollment and kicks the processor so overdue
// entries go out promptly.
func (s *Service) Resume(ctx context.Context, enrollmentID string) error {
	enr, err := s.repo.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enr.Status != domain.EnrollmentPaused {
		return ErrNotPaused
	}
	if err := s.repo.UpdateStatus(ctx, enrollmentID, domain.EnrollmentActive); err != nil {
		return err
	}
	s.wake()
	return nil
}

// Reschedule moves the anchor of a lead's active enrollment in a sequence and
// recomputes its queue entries. Steps already sent are not scheduled again.
func (s *Service) Reschedule(ctx context.Context, leadID, sequenceSlug string, newAnchor time.Time) (*domain.Enrollment, error) {
	seq, err := s.sequences.GetSequence(ctx, sequenceSlug)
	if err != nil {
		return nil, err
	}

	enr, err := s.repo.GetActive(ctx, leadID, seq.ID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateAnchor(ctx, enr.ID, newAnchor); err != nil {
		return nil, fmt.Errorf("update anchor: %w", err)
	}
	enr.AnchorOverride = &newAnchor

	if err := s.schedule(ctx, enr, seq); err != nil {
		return nil, err
	}
	slog.Info("enrollment rescheduled",
		"lead_id", leadID, "sequence", seq.Slug, "anchor", newAnchor)
	return enr, nil
}

// ListActive returns a lead's active and paused enrollments.
func (s *Service) ListActive(ctx context.Context, leadID string) ([]*domain.Enrollment, error) {
	return s.repo.ListActiveByLead(ctx, leadID)
}

// GetEnrollment returns an enrollment by id.
func (s *Service) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.repo.GetByID(ctx, id)
}

// GetActiveForSequence returns the lead's active enrollment in a sequence.
func (s *Service) GetActiveForSequence(ctx context.Context, leadID, sequenceID string) (*domain.Enrollment, error) {
	return s.repo.GetActive(ctx, leadID, sequenceID)
}

// schedule expands the sequence against the enrollment's anchor and upserts
// queue entries. Combinations already present in the sent ledger are skipped;
// the storage uniqueness constraint backs this up.
func (s *Service) schedule(ctx context.Context, enr *domain.Enrollment, seq *domain.SequenceDefinition) error {
	intents := Expand(seq.ActiveSteps(), enr.Anchor())

	entries := make([]domain.QueueEntry, 0, len(intents))
	for _, intent := range intents {
		sent, err := s.queue.HasSentRecord(ctx, enr.LeadID, intent.StepID, intent.Channel)
		if err != nil {
			return fmt.Errorf("check sent record: %w", err)
		}
		if sent {
			continue
		}
		entries = append(entries, domain.QueueEntry{
			ID:           uuid.New().String(),
			EnrollmentID: enr.ID,
			LeadID:       enr.LeadID,
			StepID:       intent.StepID,
			StepOrder:    intent.StepOrder,
			Channel:      intent.Channel,
			ScheduledFor: intent.ScheduledFor,
			Status:       domain.QueueStatusPending,
		})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := s.queue.UpsertEntries(ctx, entries); err != nil {
		return fmt.Errorf("schedule entries: %w", err)
	}
	slog.Debug("entries scheduled",
		"enrollment_id", enr.ID, "sequence", seq.Slug, "count", len(entries))
	return nil
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}
