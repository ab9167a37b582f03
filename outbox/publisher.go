package outbox

import (
	"context"
	"io"
)

// Publisher hands out broker channels. The relay opens one channel per batch
// and reuses it for every event in that batch.
type Publisher interface {
	io.Closer
	OpenChannel(ctx context.Context) (PublishChannel, error)
}

type PublishChannel interface {
	io.Closer
	// Publish sends body and returns once the broker has accepted it.
	Publish(ctx context.Context, e *Event, body []byte) error
}
