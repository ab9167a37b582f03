package rabbitmq

import (
	"inviqa/event-outbox/config"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeKind   = "topic"
	deadLetterBind = "#"
	prefetchCount  = 1
)

// Channel is the part of *amqp.Channel needed to declare the topology.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

type Topology struct {
	Exchange           string
	DeadLetterExchange string
	DeadLetterQueue    string
	Queue              string
	QueueType          string
	RoutingKeys        []string
	PrefetchCount      int
}

func NewTopology(cfg *config.Config) Topology {
	return Topology{
		Exchange:           cfg.AMQPExchange,
		DeadLetterExchange: cfg.AMQPExchange + ".dlx",
		DeadLetterQueue:    cfg.AMQPExchange + ".dlq",
		Queue:              cfg.AMQPQueue,
		QueueType:          cfg.AMQPQueueType,
		RoutingKeys:        cfg.AMQPRoutingKeys,
		PrefetchCount:      prefetchCount,
	}
}

// DeclareExchange declares the durable topic exchange events are published to.
func (t Topology) DeclareExchange(ch Channel) error {
	if err := ch.ExchangeDeclare(t.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "rabbitmq: unable to declare exchange %s", t.Exchange)
	}

	return nil
}

// Declare sets up everything a consumer needs. Every step is idempotent, so it
// runs on each start.
func (t Topology) Declare(ch Channel) error {
	if err := t.DeclareExchange(ch); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(t.DeadLetterExchange, exchangeKind, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "rabbitmq: unable to declare dead letter exchange %s", t.DeadLetterExchange)
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "rabbitmq: unable to declare dead letter queue %s", t.DeadLetterQueue)
	}

	if err := ch.QueueBind(t.DeadLetterQueue, deadLetterBind, t.DeadLetterExchange, false, nil); err != nil {
		return errors.Wrapf(err, "rabbitmq: unable to bind dead letter queue %s", t.DeadLetterQueue)
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.queueArgs()); err != nil {
		return errors.Wrapf(err, "rabbitmq: unable to declare queue %s", t.Queue)
	}

	for _, key := range t.RoutingKeys {
		if err := ch.QueueBind(t.Queue, key, t.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "rabbitmq: unable to bind queue %s to %s", t.Queue, key)
		}
	}

	if err := ch.Qos(t.PrefetchCount, 0, false); err != nil {
		return errors.Wrap(err, "rabbitmq: unable to set channel prefetch")
	}

	return nil
}

func (t Topology) queueArgs() amqp.Table {
	args := amqp.Table{"x-dead-letter-exchange": t.DeadLetterExchange}
	if t.QueueType != "" {
		args["x-queue-type"] = t.QueueType
	}

	return args
}
