package domain

import "time"

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

// Enrollment statuses.
const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
	EnrollmentConverted EnrollmentStatus = "converted"
)

// IsTerminal reports whether the status allows no further dispatching.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentCancelled || s == EnrollmentConverted
}

// CanTransitionTo reports whether a direct transition to the target status is
// legal. Terminal states only go back to active through reactivation; direct
// moves between terminal states are disallowed.
func (s EnrollmentStatus) CanTransitionTo(target EnrollmentStatus) bool {
	if s == target {
		return false
	}
	switch s {
	case EnrollmentActive:
		return true
	case EnrollmentPaused:
		return target == EnrollmentActive || target == EnrollmentCancelled
	case EnrollmentCompleted, EnrollmentCancelled, EnrollmentConverted:
		return target == EnrollmentActive
	}
	return false
}

// Enrollment is a lead's participation instance in one sequence.
// At most one active enrollment exists per (lead, sequence); terminal rows are
// retained and reused on reactivation.
type Enrollment struct {
	ID             string           `json:"id"`
	LeadID         string           `json:"lead_id"`
	SequenceID     string           `json:"sequence_id"`
	SequenceSlug   string           `json:"sequence_slug"`
	Status         EnrollmentStatus `json:"status"`
	CurrentStep    int              `json:"current_step"`
	EnrolledAt     time.Time        `json:"enrolled_at"`
	EnrolledBy     string           `json:"enrolled_by"`
	AnchorOverride *time.Time       `json:"anchor_override"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at"`
	CancelledAt    *time.Time       `json:"cancelled_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Anchor returns the reference instant step delays are computed from.
func (e *Enrollment) Anchor() time.Time {
	if e.AnchorOverride != nil {
		return *e.AnchorOverride
	}
	return e.EnrolledAt
}
