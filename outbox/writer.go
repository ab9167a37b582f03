package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"inviqa/event-outbox/config"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrInvalidEvent = errors.New("outbox: invalid event")

// Execer is satisfied by *sql.Tx, so Append joins whatever transaction the
// caller already has open. *sql.DB works too but then there is nothing to join.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type Writer struct {
	queryProvider queryProvider
	now           func() time.Time
	newEventId    func() string
}

func NewWriter(cfg *config.Config) Writer {
	return NewWriterWithQueryProvider(newQueryProvider(cfg))
}

func NewWriterWithQueryProvider(qp queryProvider) Writer {
	return Writer{
		queryProvider: qp,
		now:           utcNow,
		newEventId:    func() string { return uuid.New().String() },
	}
}

// Append inserts a pending event through tx. It does no network I/O and does
// not commit; if the enclosing transaction rolls back the event never existed.
// Payloads given as []byte or json.RawMessage must already be valid JSON, any
// other value is marshalled. The returned event has no storage Id.
func (w Writer) Append(ctx context.Context, tx Execer, eventType, aggregateId, aggregateType string, payload interface{}) (*Event, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, errors.Wrap(ErrInvalidEvent, "event type is required")
	}

	if strings.TrimSpace(aggregateId) == "" {
		return nil, errors.Wrap(ErrInvalidEvent, "aggregate id is required")
	}

	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	e := &Event{
		EventId:       w.newEventId(),
		EventType:     eventType,
		AggregateId:   aggregateId,
		AggregateType: aggregateType,
		Payload:       body,
		Status:        StatusPending,
		CreatedAt:     w.now(),
	}

	_, err = tx.ExecContext(ctx, w.queryProvider.InsertEventSql(), e.EventId, e.EventType, e.AggregateId, e.AggregateType, string(e.Payload), string(e.Status), e.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "outbox: unable to append %s event for %s %s", eventType, aggregateType, aggregateId)
	}

	return e, nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	var raw []byte

	switch p := payload.(type) {
	case nil:
		return nil, errors.Wrap(ErrInvalidEvent, "payload is required")
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidEvent, "payload cannot be encoded: %s", err)
		}
		return b, nil
	}

	if !json.Valid(raw) {
		return nil, errors.Wrap(ErrInvalidEvent, "payload is not valid JSON")
	}

	return raw, nil
}
