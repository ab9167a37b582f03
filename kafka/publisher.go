package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"inviqa/event-outbox/event"
	"inviqa/event-outbox/log"
	"inviqa/event-outbox/outbox"

	"github.com/Shopify/sarama"
)

const headerContentType = "content-type"

// Publisher relays outbox events to Kafka, one topic per event type. A sync
// producer acknowledges each message, so a single producer serves as the
// channel for every batch.
type Publisher struct {
	producer sarama.SyncProducer
	now      func() time.Time
}

func NewPublisher(kafkaHost []string, cfg *sarama.Config) *Publisher {
	return NewPublisherWithProducer(newProducer(cfg, kafkaHost))
}

func NewPublisherWithProducer(prod sarama.SyncProducer) *Publisher {
	return &Publisher{
		producer: prod,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newProducer(cfg *sarama.Config, kafkaHosts []string) sarama.SyncProducer {
	producer, err := sarama.NewSyncProducer(kafkaHosts, cfg)
	if err != nil {
		log.Logger.Panicf("could not start kafka producer: %s", err)
	}

	return producer
}

func (p *Publisher) OpenChannel(_ context.Context) (outbox.PublishChannel, error) {
	return producerChannel{p}, nil
}

func (p *Publisher) Publish(_ context.Context, e *outbox.Event, body []byte) error {
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     e.EventType,
		Key:       newMessageKey(e.EventId, e.AggregateId),
		Headers:   recordHeaders(e),
		Value:     sarama.ByteEncoder(body),
		Timestamp: p.now(),
	})

	if err != nil {
		return fmt.Errorf("error producing event %s in Kafka: %w", e.EventId, err)
	}

	log.Logger.Debugf("produced event in Kafka (topic: %s, partition: %d, offset: %d)", e.EventType, partition, offset)

	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

// producerChannel shares the producer, closing it is a no-op.
type producerChannel struct {
	*Publisher
}

func (producerChannel) Close() error {
	return nil
}

func recordHeaders(e *outbox.Event) []sarama.RecordHeader {
	headers := e.Headers()

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recs := []sarama.RecordHeader{{Key: []byte(headerContentType), Value: []byte(event.ContentType)}}
	for _, k := range keys {
		recs = append(recs, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}

	return recs
}
