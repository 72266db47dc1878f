package leads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
)

// EnrollmentCanceller stops all active sequence enrollments for a lead. It is
// satisfied by the enrollment service.
type EnrollmentCanceller interface {
	CancelAll(ctx context.Context, leadID, reason string) error
}

// Service owns lead records and the unsubscribe flow.
type Service struct {
	repo            Repository
	tokens          *TokenSigner
	enrollments     EnrollmentCanceller
	unsubscribeBase string

	now func() time.Time
}

// NewService creates a new lead service. unsubscribeBase is the public URL
// prefix unsubscribe links are built against.
func NewService(repo Repository, tokens *TokenSigner, enrollments EnrollmentCanceller, unsubscribeBase string) *Service {
	return &Service{
		repo:            repo,
		tokens:          tokens,
		enrollments:     enrollments,
		unsubscribeBase: unsubscribeBase,
		now:             time.Now,
	}
}

// GetLead returns a lead by id.
func (s *Service) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	return s.repo.GetByID(ctx, id)
}

// MarkContacted records that a message went out to the lead.
func (s *Service) MarkContacted(ctx context.Context, id string) error {
	lead, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if lead.Status == domain.LeadStatusNew {
		if err := s.repo.UpdateStatus(ctx, id, domain.LeadStatusContacted); err != nil {
			return err
		}
	}
	return s.repo.TouchLastContacted(ctx, id, s.now())
}

// SetContacted moves the lead status back to contacted regardless of where it
// currently sits, used when a qualification is rolled back after a missed
// meeting.
func (s *Service) SetContacted(ctx context.Context, id string) error {
	return s.repo.UpdateStatus(ctx, id, domain.LeadStatusContacted)
}

// MarkQualified promotes a lead after a booked meeting.
func (s *Service) MarkQualified(ctx context.Context, id string) error {
	return s.repo.UpdateStatus(ctx, id, domain.LeadStatusQualified)
}

// MarkConverted marks a lead as won.
func (s *Service) MarkConverted(ctx context.Context, id string) error {
	return s.repo.UpdateStatus(ctx, id, domain.LeadStatusConverted)
}

// UnsubscribeURL issues a tokenized unsubscribe link for a lead, used when
// composing outbound messages.
func (s *Service) UnsubscribeURL(leadID string) (string, error) {
	return s.tokens.UnsubscribeURL(s.unsubscribeBase, leadID)
}

// Unsubscribe processes an unsubscribe token: the lead is flagged as
// do-not-contact and every active enrollment is cancelled.
func (s *Service) Unsubscribe(ctx context.Context, token string) error {
	leadID, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}

	if _, err := s.repo.GetByID(ctx, leadID); err != nil {
		return err
	}

	if err := s.repo.SetDoNotContact(ctx, leadID, true); err != nil {
		return fmt.Errorf("set do-not-contact: %w", err)
	}
	if err := s.enrollments.CancelAll(ctx, leadID, "unsubscribed"); err != nil {
		return fmt.Errorf("cancel enrollments: %w", err)
	}

	slog.Info("lead unsubscribed", "lead_id", leadID)
	return nil
}

// SubscribeNewsletter adds a lead's email to the newsletter list.
func (s *Service) SubscribeNewsletter(ctx context.Context, leadID string) error {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return err
	}
	return s.repo.AddToNewsletter(ctx, lead.Email)
}
