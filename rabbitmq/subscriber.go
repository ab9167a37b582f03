package rabbitmq

import (
	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const consumerTag = "event-outbox"

// Subscriber declares the consumer topology and starts a manual-ack
// subscription on the service queue.
type Subscriber struct {
	conn     *Connection
	topology Topology
}

func NewSubscriber(conn *Connection, cfg *config.Config) *Subscriber {
	return &Subscriber{
		conn:     conn,
		topology: NewTopology(cfg),
	}
}

// Subscribe returns the delivery stream and a stop func. Stopping cancels the
// subscription and closes the channel, which hands unacknowledged prefetched
// messages back to the broker.
func (s *Subscriber) Subscribe() (<-chan amqp.Delivery, func(), error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if err := s.topology.Declare(ch); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	deliveries, err := ch.Consume(s.topology.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, errors.Wrapf(err, "rabbitmq: unable to consume from %s", s.topology.Queue)
	}

	stop := func() {
		if err := ch.Cancel(consumerTag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
			log.Logger.WithError(err).Warn("error cancelling rabbitmq subscription")
		}
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			log.Logger.WithError(err).Warn("error closing rabbitmq channel")
		}
	}

	return deliveries, stop, nil
}

func (s *Subscriber) Close() error {
	return s.conn.Close()
}
