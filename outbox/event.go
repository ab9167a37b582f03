package outbox

import (
	"database/sql"
	"time"
	"unicode/utf8"

	"inviqa/event-outbox/event"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"

	maxErrorLength  = 512
	truncatedSuffix = "... (truncated)"
)

type Batch struct {
	Id     uuid.UUID
	Events []*Event
}

// Event is a single outbox row. Id is the storage key, EventId the correlation
// id that travels with the message and keys the consumer ledger.
type Event struct {
	Id            uint
	EventId       string
	EventType     string
	AggregateId   string
	AggregateType string
	Payload       []byte
	Status        Status
	CreatedAt     time.Time
	ProcessedAt   sql.NullTime
	PublishedAt   sql.NullTime
	RetryCount    int
	LastError     string
	NextRetryAt   sql.NullTime
}

func (e *Event) Envelope() event.Envelope {
	return event.NewEnvelope(e.EventType, e.EventId, e.Payload, e.CreatedAt)
}

func (e *Event) Headers() map[string]string {
	return map[string]string{
		event.HeaderEventType:     e.EventType,
		event.HeaderAggregateId:   e.AggregateId,
		event.HeaderAggregateType: e.AggregateType,
	}
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLength {
		return msg
	}

	runes := []rune(msg)
	keep := maxErrorLength - utf8.RuneCountInString(truncatedSuffix)

	return string(runes[:keep]) + truncatedSuffix
}
