package consumer

import (
	"context"
	"database/sql"
	"encoding/json"

	"inviqa/event-outbox/event"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedPayload marks handler errors that no retry can fix. Wrap it
	// and the message goes straight to the dead letter queue.
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrUnknownEventType = errors.New("no handler registered for event type")
)

// Handler applies one event. tx is the transaction the ledger row is written
// in; effects outside it (a cache write, say) must be safe to repeat because a
// failed ledger insert redelivers the message.
type Handler interface {
	Handle(ctx context.Context, tx *sql.Tx, env event.Envelope) error
}

type HandlerFunc func(ctx context.Context, tx *sql.Tx, env event.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, tx *sql.Tx, env event.Envelope) error {
	return f(ctx, tx, env)
}

// DecodeData unmarshals the envelope data into v, reporting failures as
// ErrMalformedPayload.
func DecodeData(env event.Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return errors.Wrapf(ErrMalformedPayload, "%s event %s: %s", env.EventType, env.EventId, err)
	}

	return nil
}
