// Package event holds the wire envelope that crosses the broker boundary. The
// envelope wraps a domain payload without interpreting it.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ContentType = "application/json"

	HeaderEventType     = "event-type"
	HeaderAggregateId   = "aggregate-id"
	HeaderAggregateType = "aggregate-type"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")

type Envelope struct {
	EventType string          `json:"event_type"`
	EventId   string          `json:"event_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEnvelope(eventType, eventId string, data []byte, ts time.Time) Envelope {
	return Envelope{
		EventType: eventType,
		EventId:   eventId,
		Data:      data,
		Timestamp: ts.UTC(),
	}
}

// Encode marshals the envelope. Data must be valid JSON, otherwise an error is
// returned rather than a broken message.
func (e Envelope) Encode() ([]byte, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidEnvelope, e.EventId)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, err)
	}

	return b, nil
}

// Decode parses a message body into an Envelope. Any error returned wraps
// ErrInvalidEnvelope.
func Decode(body []byte) (Envelope, error) {
	var e Envelope

	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrInvalidEnvelope, err)
	}

	switch {
	case strings.TrimSpace(e.EventId) == "":
		return Envelope{}, fmt.Errorf("%w: missing event_id", ErrInvalidEnvelope)
	case strings.TrimSpace(e.EventType) == "":
		return Envelope{}, fmt.Errorf("%w: missing event_type", ErrInvalidEnvelope)
	case len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")):
		return Envelope{}, fmt.Errorf("%w: missing data", ErrInvalidEnvelope)
	}

	return e, nil
}
