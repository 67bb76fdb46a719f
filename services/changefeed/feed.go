package changefeed

import (
	"context"
	"errors"
)

var ErrSubscriptionClosed = errors.New("changefeed: subscription closed")

type Publisher interface {
	Publish(ctx context.Context, events ...ChangeEvent) error
}

type Subscription interface {
	// Events is closed when the subscription ends, for any reason.
	Events() <-chan ChangeEvent
	// Heartbeat sends a ping through the transport. Its acknowledgement
	// arrives on Events as a TypeHeartbeat event.
	Heartbeat(ctx context.Context) error
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}
