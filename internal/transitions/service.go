// Package transitions reacts to external lifecycle events (meeting booked,
// no-show, completed, rescheduled, cancelled) by moving leads between
// sequences.
package transitions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/enrollment"
)

// Sequences names the well-known sequence slugs the coordinator moves leads
// between.
type Sequences struct {
	Nurture string
	Booked  string
	NoShow  string
}

// EnrollmentManager is the slice of the enrollment module the coordinator
// drives.
type EnrollmentManager interface {
	Enroll(ctx context.Context, params enrollment.EnrollParams) (*domain.Enrollment, error)
	Cancel(ctx context.Context, leadID, sequenceSlug, reason string) error
	CancelAll(ctx context.Context, leadID, reason string) error
	Reschedule(ctx context.Context, leadID, sequenceSlug string, newAnchor time.Time) (*domain.Enrollment, error)
}

// LeadWriter is the slice of the leads module the coordinator writes back to.
type LeadWriter interface {
	MarkQualified(ctx context.Context, id string) error
	SetContacted(ctx context.Context, id string) error
	MarkConverted(ctx context.Context, id string) error
	SubscribeNewsletter(ctx context.Context, leadID string) error
}

// Service implements the cross-sequence state machine.
type Service struct {
	sequences   Sequences
	enrollments EnrollmentManager
	leads       LeadWriter
}

// NewService creates a new transition coordinator.
func NewService(sequences Sequences, enrollments EnrollmentManager, leads LeadWriter) *Service {
	return &Service{
		sequences:   sequences,
		enrollments: enrollments,
		leads:       leads,
	}
}

// OnMeetingBooked moves a lead out of nurturing into the pre-meeting
// sequence, anchored at the meeting time so reminder steps with negative
// offsets fire before it.
func (s *Service) OnMeetingBooked(ctx context.Context, leadID string, eventTime time.Time) (*domain.Enrollment, error) {
	if err := s.enrollments.Cancel(ctx, leadID, s.sequences.Nurture, "meeting booked"); err != nil {
		return nil, fmt.Errorf("cancel nurture: %w", err)
	}
	if err := s.enrollments.Cancel(ctx, leadID, s.sequences.NoShow, "meeting booked"); err != nil {
		return nil, fmt.Errorf("cancel no-show: %w", err)
	}

	enr, err := s.enrollments.Enroll(ctx, enrollment.EnrollParams{
		LeadID:         leadID,
		SequenceSlug:   s.sequences.Booked,
		EnrolledBy:     "transition:meeting_booked",
		AnchorOverride: &eventTime,
	})
	if err != nil {
		return nil, fmt.Errorf("enroll booked: %w", err)
	}

	if err := s.leads.MarkQualified(ctx, leadID); err != nil {
		return nil, fmt.Errorf("mark qualified: %w", err)
	}

	recordTransition("meeting_booked")
	slog.Info("lead moved to booked sequence", "lead_id", leadID, "event_time", eventTime)
	return enr, nil
}

// OnNoShow moves a lead who missed their meeting into the no-show recovery
// sequence, anchored at now.
func (s *Service) OnNoShow(ctx context.Context, leadID string) (*domain.Enrollment, error) {
	if err := s.enrollments.Cancel(ctx, leadID, s.sequences.Booked, "no show"); err != nil {
		return nil, fmt.Errorf("cancel booked: %w", err)
	}

	enr, err := s.enrollments.Enroll(ctx, enrollment.EnrollParams{
		LeadID:       leadID,
		SequenceSlug: s.sequences.NoShow,
		EnrolledBy:   "transition:no_show",
	})
	if err != nil {
		return nil, fmt.Errorf("enroll no-show: %w", err)
	}

	if err := s.leads.SetContacted(ctx, leadID); err != nil {
		return nil, fmt.Errorf("mark contacted: %w", err)
	}

	recordTransition("no_show")
	slog.Info("lead moved to no-show sequence", "lead_id", leadID)
	return enr, nil
}

// OnMeetingCompleted retires a lead from all sequences and moves them to the
// newsletter list.
func (s *Service) OnMeetingCompleted(ctx context.Context, leadID string) error {
	if err := s.enrollments.CancelAll(ctx, leadID, "meeting completed"); err != nil {
		return fmt.Errorf("cancel enrollments: %w", err)
	}
	if err := s.leads.SubscribeNewsletter(ctx, leadID); err != nil {
		return fmt.Errorf("subscribe newsletter: %w", err)
	}
	if err := s.leads.MarkConverted(ctx, leadID); err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}

	recordTransition("meeting_completed")
	slog.Info("lead converted", "lead_id", leadID)
	return nil
}

// OnReschedule re-anchors the lead's existing booked enrollment to the new
// meeting time. No duplicate enrollment is created and already-sent reminders
// stay sent.
func (s *Service) OnReschedule(ctx context.Context, leadID string, newEventTime time.Time) (*domain.Enrollment, error) {
	enr, err := s.enrollments.Reschedule(ctx, leadID, s.sequences.Booked, newEventTime)
	if err != nil {
		return nil, err
	}

	recordTransition("reschedule")
	slog.Info("meeting rescheduled", "lead_id", leadID, "event_time", newEventTime)
	return enr, nil
}

// OnCancellation drops the lead's remaining meeting reminders. Nothing is
// re-enrolled automatically.
func (s *Service) OnCancellation(ctx context.Context, leadID string) error {
	if err := s.enrollments.Cancel(ctx, leadID, s.sequences.Booked, "meeting cancelled"); err != nil {
		return err
	}

	recordTransition("cancellation")
	slog.Info("meeting cancelled", "lead_id", leadID)
	return nil
}
