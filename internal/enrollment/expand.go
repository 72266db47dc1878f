package enrollment

import (
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
)

// ScheduleIntent is one planned dispatch produced by expanding a sequence
// against an anchor time. A step with channel "both" yields two intents.
type ScheduleIntent struct {
	StepID       string
	StepOrder    int
	Channel      domain.Channel
	ScheduledFor time.Time
}

// Expand computes the dispatch intents for a list of steps. Inactive steps
// are skipped. Delays are signed, so an intent may land before the anchor.
func Expand(steps []domain.SequenceStep, anchor time.Time) []ScheduleIntent {
	intents := make([]ScheduleIntent, 0, len(steps))
	for _, step := range steps {
		if !step.Active {
			continue
		}
		scheduledFor := anchor.Add(step.Delay())
		for _, ch := range step.Channel.Expand() {
			intents = append(intents, ScheduleIntent{
				StepID:       step.ID,
				StepOrder:    step.StepOrder,
				Channel:      ch,
				ScheduledFor: scheduledFor,
			})
		}
	}
	return intents
}
