package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/content"
	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/enrollment"
	"github.com/bissquit/lead-garden/internal/leads"
	"github.com/bissquit/lead-garden/internal/messaging"
)

// ServiceConfig carries the dispatch-side settings of the queue.
type ServiceConfig struct {
	MaxAttempts     int
	DispatchTimeout time.Duration
	SchedulingURL   string
}

// Service implements the dispatch-and-record primitive shared by the queue
// processor and manual sends. Funnelling both paths through one primitive is
// what keeps the at-most-once guarantee intact.
type Service struct {
	config      ServiceConfig
	repo        Repository
	leads       LeadSource
	steps       StepSource
	enrollments EnrollmentSource
	resolver    ContentResolver
	renderer    *content.Renderer
	dispatcher  *messaging.Dispatcher

	now func() time.Time
}

// NewService creates a new queue service.
func NewService(
	config ServiceConfig,
	repo Repository,
	leads LeadSource,
	steps StepSource,
	enrollments EnrollmentSource,
	resolver ContentResolver,
	renderer *content.Renderer,
	dispatcher *messaging.Dispatcher,
) *Service {
	return &Service{
		config:      config,
		repo:        repo,
		leads:       leads,
		steps:       steps,
		enrollments: enrollments,
		resolver:    resolver,
		renderer:    renderer,
		dispatcher:  dispatcher,
		now:         time.Now,
	}
}

// ProcessEntry handles one claimed queue entry end to end. Errors are
// absorbed into the entry's bookkeeping so one bad entry never aborts a
// batch; the returned error covers bookkeeping failures only.
func (s *Service) ProcessEntry(ctx context.Context, entry *domain.QueueEntry) error {
	lead, err := s.leads.GetLead(ctx, entry.LeadID)
	if err != nil {
		return s.lookupFailed(ctx, entry, leads.ErrLeadNotFound, fmt.Errorf("lead lookup: %w", err))
	}

	step, err := s.steps.GetStep(ctx, entry.StepID)
	if err != nil {
		return s.lookupFailed(ctx, entry, catalog.ErrStepNotFound, fmt.Errorf("step lookup: %w", err))
	}

	enr, err := s.enrollments.GetEnrollment(ctx, entry.EnrollmentID)
	if err != nil {
		return s.lookupFailed(ctx, entry, enrollment.ErrEnrollmentNotFound, fmt.Errorf("enrollment lookup: %w", err))
	}

	rec, err := s.dispatchAndRecord(ctx, lead, enr, step, entry.Channel)
	switch {
	case errors.Is(err, ErrAlreadySent):
		// Defensive duplicate guard: the ledger already has this
		// combination, so the entry just gets closed out.
		slog.Debug("duplicate send prevented",
			"entry_id", entry.ID, "lead_id", entry.LeadID,
			"step_id", entry.StepID, "channel", entry.Channel)
		if err := s.repo.MarkSent(ctx, entry.ID, s.now()); err != nil {
			return fmt.Errorf("mark duplicate sent: %w", err)
		}
		return s.maybeComplete(ctx, entry.EnrollmentID)

	case errors.Is(err, ErrLeadNotContactable):
		slog.Info("entry cancelled for do-not-contact lead",
			"entry_id", entry.ID, "lead_id", entry.LeadID)
		return s.repo.CancelEntry(ctx, entry.ID, "do-not-contact")

	case err != nil:
		return s.noteFailure(ctx, entry, err)
	}

	// The sent record is the durability boundary; the entry flips to sent
	// only after the ledger row exists.
	if err := s.repo.MarkSent(ctx, entry.ID, rec.SentAt); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	slog.Info("entry dispatched",
		"entry_id", entry.ID, "lead_id", entry.LeadID,
		"step_order", entry.StepOrder, "channel", entry.Channel,
		"provider_id", rec.ProviderID)
	return s.maybeComplete(ctx, entry.EnrollmentID)
}

// ManualSend forces immediate dispatch of one step to a lead, bypassing the
// schedule while still honoring the sent ledger. When every channel of the
// step has already gone out it returns ErrAlreadySent.
func (s *Service) ManualSend(ctx context.Context, leadID, stepID string) ([]*domain.SentRecord, error) {
	step, err := s.steps.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	lead, err := s.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	enr, err := s.enrollments.GetActiveForSequence(ctx, leadID, step.SequenceID)
	if err != nil {
		if !errors.Is(err, enrollment.ErrEnrollmentNotFound) {
			return nil, err
		}
		enr = nil
	}

	var records []*domain.SentRecord
	duplicates := 0
	for _, channel := range step.Channel.Expand() {
		rec, err := s.dispatchAndRecord(ctx, lead, enr, step, channel)
		if errors.Is(err, ErrAlreadySent) {
			duplicates++
			continue
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)

		if enr != nil {
			s.closePendingEntry(ctx, enr.ID, stepID, channel, rec.SentAt)
		}
	}

	if len(records) == 0 && duplicates > 0 {
		return nil, ErrAlreadySent
	}
	if enr != nil {
		if err := s.maybeComplete(ctx, enr.ID); err != nil {
			return records, err
		}
	}
	return records, nil
}

// RetryFailed puts a terminally failed entry back on the queue with a fresh
// attempt budget. Operator action only.
func (s *Service) RetryFailed(ctx context.Context, entryID string) error {
	entry, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != domain.QueueStatusFailed {
		return ErrNotFailed
	}
	return s.repo.ResetFailed(ctx, entryID)
}

// ListFailed returns failed entries for operator inspection.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]*domain.QueueEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListFailed(ctx, limit)
}

// GetStats returns queue entry counts by status.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}

// dispatchAndRecord is the single path every outbound message takes: ledger
// check, content resolution, variable substitution, bounded-timeout dispatch,
// then the ledger write. Callers flip their own queue entries afterwards.
func (s *Service) dispatchAndRecord(ctx context.Context, lead *domain.Lead, enr *domain.Enrollment, step *domain.SequenceStep, channel domain.Channel) (*domain.SentRecord, error) {
	sent, err := s.repo.HasSentRecord(ctx, lead.ID, step.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("check sent record: %w", err)
	}
	if sent {
		return nil, ErrAlreadySent
	}

	if lead.DoNotContact {
		return nil, ErrLeadNotContactable
	}

	item, err := s.resolver.Resolve(ctx, lead.ID, step)
	if err != nil {
		return nil, fmt.Errorf("resolve content: %w", err)
	}

	vars, err := s.buildVars(lead, enr)
	if err != nil {
		return nil, err
	}
	subject, body, err := s.renderer.Render(item, vars)
	if err != nil {
		return nil, err
	}

	recipient, err := recipientFor(lead, channel)
	if err != nil {
		return nil, err
	}

	msg := messaging.Message{
		To:         recipient,
		Subject:    subject,
		Body:       body,
		FirstTouch: step.StepOrder <= 1,
	}

	start := time.Now()
	dispatchCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
	result, err := s.dispatcher.Send(dispatchCtx, channel, msg)
	cancel()
	recordDispatchDuration(string(channel), time.Since(start))
	if err != nil {
		recordDispatch(string(channel), "error")
		return nil, fmt.Errorf("dispatch %s to %s: %w", channel, recipient, err)
	}

	rec := &domain.SentRecord{
		ID:         uuid.New().String(),
		LeadID:     lead.ID,
		StepID:     step.ID,
		Channel:    channel,
		ContentID:  item.ID,
		ProviderID: result.ProviderID,
		SentAt:     s.now(),
	}
	inserted, err := s.repo.InsertSentRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert sent record: %w", err)
	}
	if !inserted {
		// Lost a race with a concurrent dispatcher after our own send
		// went out. The ledger keeps the first writer's row.
		recordDispatch(string(channel), "duplicate")
		return nil, ErrAlreadySent
	}
	recordDispatch(string(channel), "sent")

	if enr != nil {
		if err := s.repo.AdvanceEnrollmentStep(ctx, enr.ID, step.StepOrder); err != nil {
			return rec, fmt.Errorf("advance enrollment step: %w", err)
		}
	}
	if err := s.leads.MarkContacted(ctx, lead.ID); err != nil {
		slog.Warn("failed to update lead last-contacted", "lead_id", lead.ID, "error", err)
	}
	return rec, nil
}

func (s *Service) buildVars(lead *domain.Lead, enr *domain.Enrollment) (content.Vars, error) {
	unsubURL, err := s.leads.UnsubscribeURL(lead.ID)
	if err != nil {
		return content.Vars{}, fmt.Errorf("unsubscribe link: %w", err)
	}

	var meetingTime *time.Time
	if enr != nil {
		meetingTime = enr.AnchorOverride
	}
	return content.BuildVars(lead, s.config.SchedulingURL, unsubURL, meetingTime), nil
}

// closePendingEntry marks the queue entry matching a manual send as sent so
// the processor does not pick it up later. Claiming first keeps this safe
// against a concurrently running tick.
func (s *Service) closePendingEntry(ctx context.Context, enrollmentID, stepID string, channel domain.Channel, at time.Time) {
	entry, err := s.repo.FindEntry(ctx, enrollmentID, stepID, channel)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			slog.Warn("failed to look up entry after manual send", "error", err)
		}
		return
	}
	if entry.Status != domain.QueueStatusPending {
		return
	}
	claimed, err := s.repo.Claim(ctx, entry.ID)
	if err != nil || !claimed {
		return
	}
	if err := s.repo.MarkSent(ctx, entry.ID, at); err != nil {
		slog.Warn("failed to close entry after manual send", "entry_id", entry.ID, "error", err)
	}
}

// lookupFailed fails an entry terminally when its lead, step or enrollment no
// longer exists. Any other lookup error is treated as transient and retried.
func (s *Service) lookupFailed(ctx context.Context, entry *domain.QueueEntry, notFound error, cause error) error {
	if !errors.Is(cause, notFound) {
		return s.noteFailure(ctx, entry, cause)
	}
	slog.Error("entry failed terminally",
		"entry_id", entry.ID, "lead_id", entry.LeadID, "error", cause)
	recordDispatch(string(entry.Channel), "failed")
	return s.repo.MarkFailed(ctx, entry.ID, cause.Error())
}

// noteFailure applies the retry policy: the entry goes back to pending until
// the attempt cap, then fails terminally and is never auto-retried again.
// Provider rejections marked permanent skip the retries entirely.
func (s *Service) noteFailure(ctx context.Context, entry *domain.QueueEntry, cause error) error {
	attempt := entry.Attempts + 1
	if errors.Is(cause, messaging.ErrPermanent) {
		slog.Error("entry failed permanently",
			"entry_id", entry.ID, "lead_id", entry.LeadID,
			"attempts", attempt, "error", cause)
		recordDispatch(string(entry.Channel), "failed")
		return s.repo.MarkFailed(ctx, entry.ID, cause.Error())
	}
	if attempt >= s.config.MaxAttempts {
		slog.Error("entry exhausted attempts",
			"entry_id", entry.ID, "lead_id", entry.LeadID,
			"attempts", attempt, "error", cause)
		recordDispatch(string(entry.Channel), "failed")
		return s.repo.MarkFailed(ctx, entry.ID, cause.Error())
	}

	slog.Warn("dispatch failed, will retry",
		"entry_id", entry.ID, "lead_id", entry.LeadID,
		"attempt", attempt, "max_attempts", s.config.MaxAttempts, "error", cause)
	recordDispatch(string(entry.Channel), "retry")
	return s.repo.Release(ctx, entry.ID, cause.Error())
}

func (s *Service) maybeComplete(ctx context.Context, enrollmentID string) error {
	outstanding, err := s.repo.CountOutstanding(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("count outstanding: %w", err)
	}
	if outstanding > 0 {
		return nil
	}
	if err := s.repo.CompleteEnrollment(ctx, enrollmentID); err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return nil
}

func recipientFor(lead *domain.Lead, channel domain.Channel) (string, error) {
	switch channel {
	case domain.ChannelEmail:
		if lead.Email == "" {
			return "", fmt.Errorf("%w: email", ErrNoRecipient)
		}
		return lead.Email, nil
	case domain.ChannelChat:
		if lead.Phone == "" {
			return "", fmt.Errorf("%w: phone", ErrNoRecipient)
		}
		return lead.Phone, nil
	}
	return "", fmt.Errorf("unsupported channel %q", channel)
}
