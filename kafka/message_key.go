package kafka

import (
	"github.com/Shopify/sarama"
)

// MessageKey encodes as the event id; AggregateId only steers partitioning.
type MessageKey struct {
	EventId     string
	AggregateId string
	sarama.StringEncoder
}

func newMessageKey(eventId, aggregateId string) MessageKey {
	return MessageKey{
		EventId:       eventId,
		AggregateId:   aggregateId,
		StringEncoder: sarama.StringEncoder(eventId),
	}
}

func (k MessageKey) partitionKey() string {
	if k.AggregateId == "" {
		return k.EventId
	}

	return k.AggregateId
}
