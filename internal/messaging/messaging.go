// Package messaging defines the outbound channel adapters and the dispatcher
// that routes messages to them.
package messaging

import (
	"context"
	"errors"

	"github.com/bissquit/lead-garden/internal/domain"
)

// ErrNotConfigured is returned by a sender that is disabled or missing
// credentials. The queue treats it like any other dispatch failure: the entry
// stays pending and the error is logged per attempt.
var ErrNotConfigured = errors.New("sender not configured")

// ErrNoSender is returned when no sender is registered for a channel.
var ErrNoSender = errors.New("no sender for channel")

// ErrPermanent wraps provider rejections that no retry can cure, such as an
// SMTP 5xx for a nonexistent mailbox. The queue fails such entries on the
// first attempt instead of burning the retry budget.
var ErrPermanent = errors.New("permanent delivery failure")

// Message is one outbound message to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
	// FirstTouch hints chat senders to use their first-contact identity.
	FirstTouch bool
}

// SendResult carries provider-side metadata for the sent-record ledger.
type SendResult struct {
	ProviderID string
}

// Sender delivers messages on one channel.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) (SendResult, error)
}
