package domain

import "time"

// TriggerType describes what starts a sequence.
type TriggerType string

// Trigger types.
const (
	TriggerManual         TriggerType = "manual"
	TriggerFormSubmission TriggerType = "form_submission"
	TriggerMeetingBooked  TriggerType = "meeting_booked"
	TriggerNoShow         TriggerType = "no_show"
)

// Channel represents a delivery channel for a step.
// Steps may declare "both"; queue entries always carry a concrete channel.
type Channel string

// Channels.
const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
	ChannelBoth  Channel = "both"
)

// Expand returns the concrete channels a step channel fans out to.
func (c Channel) Expand() []Channel {
	if c == ChannelBoth {
		return []Channel{ChannelEmail, ChannelChat}
	}
	return []Channel{c}
}

// DelayUnit is the unit of a step's relative delay.
type DelayUnit string

// Delay units.
const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// ContentKind distinguishes fixed operational templates from rotating
// value-content steps.
type ContentKind string

// Content kinds.
const (
	ContentFixed    ContentKind = "fixed"
	ContentRotating ContentKind = "rotating"
)

// SequenceStep is one templated message position within a sequence.
type SequenceStep struct {
	ID          string      `json:"id"`
	SequenceID  string      `json:"sequence_id"`
	StepOrder   int         `json:"step_order"`
	DelayValue  int         `json:"delay_value"` // signed; negative fires before the anchor
	DelayUnit   DelayUnit   `json:"delay_unit"`
	Channel     Channel     `json:"channel"`
	ContentKind ContentKind `json:"content_kind"`
	ContentKey  string      `json:"content_key"` // empty for rotating steps
	Active      bool        `json:"active"`
}

// Delay returns the step's signed offset from the anchor time.
func (s SequenceStep) Delay() time.Duration {
	switch s.DelayUnit {
	case DelayMinutes:
		return time.Duration(s.DelayValue) * time.Minute
	case DelayDays:
		return time.Duration(s.DelayValue) * 24 * time.Hour
	default:
		return time.Duration(s.DelayValue) * time.Hour
	}
}

// SequenceDefinition is a named, ordered message sequence.
// Immutable at runtime; edited administratively.
type SequenceDefinition struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Name      string         `json:"name"`
	Trigger   TriggerType    `json:"trigger"`
	Active    bool           `json:"active"`
	Steps     []SequenceStep `json:"steps,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ActiveSteps returns the active steps in order.
func (d *SequenceDefinition) ActiveSteps() []SequenceStep {
	steps := make([]SequenceStep, 0, len(d.Steps))
	for _, s := range d.Steps {
		if s.Active {
			steps = append(steps, s)
		}
	}
	return steps
}

// ContentItem is a message body stored in the catalog. Fixed steps reference
// an item by key; rotating steps draw from the pool of active rotating items.
type ContentItem struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"`
	Kind      ContentKind `json:"kind"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}
