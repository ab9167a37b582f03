package consumer

import (
	"context"
	"database/sql"
	"time"

	"inviqa/event-outbox/event"
	"inviqa/event-outbox/ledger"
	"inviqa/event-outbox/log"
	"inviqa/event-outbox/newrelic"
	"inviqa/event-outbox/prometheus"
	"inviqa/event-outbox/rabbitmq"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const resubscribeDelay = 5 * time.Second

var errDeliveriesClosed = errors.New("delivery channel was closed by the broker")

type Decision int

const (
	Ack Decision = iota
	Requeue
	DeadLetter
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

type processedLedger interface {
	Exists(ctx context.Context, eventId string) (bool, error)
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Record(ctx context.Context, tx *sql.Tx, pe ledger.ProcessedEvent) error
}

type subscriber interface {
	Subscribe() (<-chan amqp.Delivery, func(), error)
}

// Consumer applies each event at most once, using the processed-event ledger
// to recognise redeliveries.
type Consumer struct {
	ledger          processedLedger
	handlers        map[string]Handler
	maxRedeliveries int64
	nrApp           *nr.Application
	now             func() time.Time
}

func New(l processedLedger, maxRedeliveries int, nrApp *nr.Application) *Consumer {
	return &Consumer{
		ledger:          l,
		handlers:        map[string]Handler{},
		maxRedeliveries: int64(maxRedeliveries),
		nrApp:           nrApp,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (c *Consumer) Register(eventType string, h Handler) {
	c.handlers[eventType] = h
}

func (c *Consumer) Handles(eventType string) bool {
	_, ok := c.handlers[eventType]
	return ok
}

// Run consumes until ctx is cancelled, subscribing again whenever the broker
// drops the subscription.
func (c *Consumer) Run(ctx context.Context, sub subscriber) {
	for {
		deliveries, stop, err := sub.Subscribe()
		if err != nil {
			log.Logger.WithError(err).Errorf("unable to subscribe, retrying in %s", resubscribeDelay)
		} else {
			err = c.Consume(ctx, deliveries)
			stop()
			if err != nil {
				log.Logger.WithError(err).Warnf("subscription ended, resubscribing in %s", resubscribeDelay)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// Consume handles deliveries one at a time. It returns nil once ctx is
// cancelled; the message being handled at that point is still finished and
// settled.
func (c *Consumer) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.settle(d, c.Handle(context.WithoutCancel(ctx), d))
		}
	}
}

// Handle decides the fate of a single delivery. Malformed envelopes and
// payloads are dead-lettered on the first attempt, duplicates are acked
// without touching the handler, and other failures are requeued until the
// broker reports maxRedeliveries deliveries.
func (c *Consumer) Handle(parent context.Context, d amqp.Delivery) Decision {
	ctx, txn := newrelic.ContextWithTxn(parent, "consumer: Consumer.Handle()", c.nrApp)
	defer txn.End()

	env, err := event.Decode(d.Body)
	if err != nil {
		log.Logger.WithError(err).WithField("message_id", d.MessageId).Error("dead-lettering malformed message")
		txn.NoticeError(err)
		prometheus.ObserveConsumed(prometheus.UnknownEventType, "malformed")
		return DeadLetter
	}

	logger := log.Logger.WithFields(logrus.Fields{
		"event_id":       env.EventId,
		"event_type":     env.EventType,
		"delivery_count": rabbitmq.DeliveryCount(d.Headers),
	})

	done, err := c.ledger.Exists(ctx, env.EventId)
	if err != nil {
		txn.NoticeError(err)
		return c.retryOrDeadLetter(logger, d, env, err)
	}

	if done {
		logger.Debug("event already processed, acknowledging duplicate")
		prometheus.ObserveConsumed(c.metricLabel(env.EventType), "duplicate")
		return Ack
	}

	h, ok := c.handlers[env.EventType]
	if !ok {
		logger.Error("dead-lettering event without a registered handler")
		txn.NoticeError(ErrUnknownEventType)
		prometheus.ObserveConsumed(c.metricLabel(env.EventType), "unknown_type")
		return DeadLetter
	}

	start := c.now()
	err = c.ledger.InTx(ctx, func(tx *sql.Tx) error {
		if err := h.Handle(ctx, tx, env); err != nil {
			return err
		}

		processedAt := c.now()
		return c.ledger.Record(ctx, tx, ledger.ProcessedEvent{
			EventId:              env.EventId,
			EventType:            env.EventType,
			ProcessedAt:          processedAt,
			ProcessingDurationMs: processedAt.Sub(start).Milliseconds(),
		})
	})

	switch {
	case err == nil:
		elapsed := c.now().Sub(start)
		logger.WithField("duration_ms", elapsed.Milliseconds()).Debug("event applied")
		prometheus.ObserveConsumed(c.metricLabel(env.EventType), "applied")
		prometheus.ObserveProcessingDuration(env.EventType, elapsed)
		return Ack
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		logger.Info("event was processed concurrently by another delivery, acknowledging duplicate")
		prometheus.ObserveConsumed(c.metricLabel(env.EventType), "duplicate")
		return Ack
	case errors.Is(err, ErrMalformedPayload):
		logger.WithError(err).Error("dead-lettering event with malformed payload")
		txn.NoticeError(err)
		prometheus.ObserveConsumed(c.metricLabel(env.EventType), "malformed")
		return DeadLetter
	default:
		txn.NoticeError(err)
		return c.retryOrDeadLetter(logger, d, env, err)
	}
}

func (c *Consumer) retryOrDeadLetter(logger logrus.FieldLogger, d amqp.Delivery, env event.Envelope, cause error) Decision {
	if count := rabbitmq.DeliveryCount(d.Headers); count < c.maxRedeliveries {
		logger.WithError(cause).Warn("event processing failed, requeueing")
		prometheus.ObserveConsumed(c.metricLabel(env.EventType), "requeued")
		return Requeue
	}

	logger.WithError(cause).Error("event processing failed too many times, dead-lettering")
	prometheus.ObserveConsumed(c.metricLabel(env.EventType), "dead_lettered")
	return DeadLetter
}

// metricLabel keeps event types a publisher made up out of the metric labels.
func (c *Consumer) metricLabel(eventType string) string {
	if c.Handles(eventType) {
		return eventType
	}

	return prometheus.UnknownEventType
}

func (c *Consumer) settle(d amqp.Delivery, decision Decision) {
	var err error
	switch decision {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}

	if err != nil {
		log.Logger.WithError(err).WithField("decision", decision.String()).Error("unable to settle delivery")
	}
}
