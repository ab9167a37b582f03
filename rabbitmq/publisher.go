package rabbitmq

import (
	"context"
	"time"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/event"
	"inviqa/event-outbox/outbox"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrPublishNacked  = errors.New("rabbitmq: message was nacked by the broker")
	ErrConfirmTimeout = errors.New("rabbitmq: timed out waiting for the publish confirmation")
)

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type sender interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// Publisher relays outbox events to the topic exchange, using the event type
// as routing key. Every channel it hands out runs in confirm mode.
type Publisher struct {
	conn           *Connection
	topology       Topology
	confirmTimeout time.Duration
}

func NewPublisher(conn *Connection, cfg *config.Config) *Publisher {
	return &Publisher{
		conn:           conn,
		topology:       NewTopology(cfg),
		confirmTimeout: cfg.GetConfirmTimeout(),
	}
}

func (p *Publisher) OpenChannel(_ context.Context) (outbox.PublishChannel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "rabbitmq: channel does not support confirm mode")
	}

	if err := p.topology.DeclareExchange(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return newPublishChannel(amqpSender{ch: ch}, p.topology.Exchange, p.confirmTimeout), nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

type publishChannel struct {
	sender         sender
	exchange       string
	confirmTimeout time.Duration
	now            func() time.Time
}

func newPublishChannel(s sender, exchange string, confirmTimeout time.Duration) *publishChannel {
	return &publishChannel{
		sender:         s,
		exchange:       exchange,
		confirmTimeout: confirmTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Publish returns once the broker has confirmed the message.
func (c *publishChannel) Publish(ctx context.Context, e *outbox.Event, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	conf, err := c.sender.publish(ctx, c.exchange, e.EventType, newPublishing(e, body, c.now()))
	if err != nil {
		return errors.Wrapf(err, "rabbitmq: unable to publish event %s", e.EventId)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(ErrConfirmTimeout, "event %s: %s", e.EventId, err)
	}

	if !acked {
		return errors.Wrapf(ErrPublishNacked, "event %s", e.EventId)
	}

	return nil
}

func (c *publishChannel) Close() error {
	return c.sender.Close()
}

func newPublishing(e *outbox.Event, body []byte, now time.Time) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range e.Headers() {
		headers[k] = v
	}

	return amqp.Publishing{
		Headers:      headers,
		ContentType:  event.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    e.EventId,
		Timestamp:    now,
		Type:         e.EventType,
		Body:         body,
	}
}

type amqpSender struct {
	ch *amqp.Channel
}

func (s amqpSender) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}

	return dc, nil
}

func (s amqpSender) Close() error {
	return s.ch.Close()
}
