package messaging

import (
	"context"
	"fmt"

	"github.com/bissquit/lead-garden/internal/domain"
)

// Dispatcher routes messages to the sender registered for a channel.
type Dispatcher struct {
	senders map[domain.Channel]Sender
}

// NewDispatcher creates a dispatcher over the given senders.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.Channel]Sender)
	for _, s := range senders {
		senderMap[s.Channel()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Send dispatches a message on the given channel.
func (d *Dispatcher) Send(ctx context.Context, channel domain.Channel, msg Message) (SendResult, error) {
	sender, ok := d.senders[channel]
	if !ok {
		return SendResult{}, fmt.Errorf("%w: %s", ErrNoSender, channel)
	}
	return sender.Send(ctx, msg)
}

// Supports reports whether a sender is registered for the channel.
func (d *Dispatcher) Supports(channel domain.Channel) bool {
	_, ok := d.senders[channel]
	return ok
}
