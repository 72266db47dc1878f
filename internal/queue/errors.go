package queue

import "errors"

// Queue errors.
var (
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrAlreadySent signals a successful no-op: the (lead, step, channel)
	// combination already has a sent record.
	ErrAlreadySent = errors.New("step already sent to this lead")

	ErrLeadNotContactable = errors.New("lead is flagged do-not-contact")
	ErrNoRecipient        = errors.New("lead has no recipient address for channel")
	ErrNotFailed          = errors.New("queue entry is not in failed state")
)
