package processor

import (
	"context"
	"errors"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"inviqa/event-outbox/log"
	"inviqa/event-outbox/newrelic"
	"inviqa/event-outbox/outbox"
	"inviqa/event-outbox/prometheus"
)

var errNoEventType = errors.New("this event has no event type")

type repository interface {
	Claim(ctx context.Context, e *outbox.Event) error
	MarkPublished(ctx context.Context, e *outbox.Event) error
	MarkFailed(ctx context.Context, e *outbox.Event, cause error) error
}

func NewBatchProcessor(r repository, p outbox.Publisher, nrApp *nr.Application) BatchProcessor {
	return BatchProcessor{
		repo:      r,
		publisher: p,
		nrApp:     nrApp,
	}
}

type BatchProcessor struct {
	repo      repository
	publisher outbox.Publisher
	nrApp     *nr.Application
}

func (p BatchProcessor) ListenAndProcess(parent context.Context, batches <-chan *outbox.Batch) {
	for {
		select {
		case b := <-batches:
			if b == nil || len(b.Events) == 0 {
				continue
			}
			p.process(parent, b)
		case <-parent.Done():
			return
		}
	}
}

// process relays the events of b in order over a single broker channel. A
// failing event never stops the rest of the batch. Cancelling parent stops the
// batch between events; the event in flight is always finished.
func (p BatchProcessor) process(parent context.Context, b *outbox.Batch) {
	ctx, txn := newrelic.ContextWithTxn(context.WithoutCancel(parent), "processor: BatchProcessor.process()", p.nrApp)
	defer txn.End()

	logger := log.Logger.WithFields(logrus.Fields{"batch_id": b.Id.String(), "num_events": len(b.Events)})
	logger.Debug("processing outbox batch")

	var ch outbox.PublishChannel
	defer func() {
		if ch != nil {
			if err := ch.Close(); err != nil {
				logger.WithError(err).Warn("error closing broker channel")
			}
		}
	}()

	for _, e := range b.Events {
		if parent.Err() != nil {
			logger.Info("relay is shutting down, leaving the rest of the batch for later")
			return
		}

		elog := logger.WithFields(logrus.Fields{"event_id": e.EventId, "event_type": e.EventType})

		if err := p.repo.Claim(ctx, e); err != nil {
			if errors.Is(err, outbox.ErrNotClaimed) {
				elog.Debug("event already claimed, skipping")
				continue
			}
			elog.WithError(err).Error("unable to claim event")
			txn.NoticeError(err)
			continue
		}

		if err := p.publish(ctx, &ch, e); err != nil {
			elog.WithError(err).Warn("error encountered whilst publishing an outbox event")
			txn.NoticeError(err)

			if err := p.repo.MarkFailed(ctx, e, err); err != nil {
				elog.WithError(err).Error("unable to record failed publish attempt")
			}
			if e.Status == outbox.StatusDead {
				elog.WithField("retry_count", e.RetryCount).Error("event exhausted its retries and is now dead")
			}
			prometheus.ObserveRelayOutcome(string(e.Status))
			continue
		}

		// a failed update leaves the event processing, so it is published again once stale
		if err := p.repo.MarkPublished(ctx, e); err != nil {
			elog.WithError(err).Error("event was published but could not be marked as published")
			txn.NoticeError(err)
		}
		prometheus.ObserveRelayOutcome(string(outbox.StatusPublished))
	}
}

func (p BatchProcessor) publish(ctx context.Context, ch *outbox.PublishChannel, e *outbox.Event) error {
	if e.EventType == "" {
		return errNoEventType
	}

	body, err := e.Envelope().Encode()
	if err != nil {
		return err
	}

	if *ch == nil {
		c, err := p.publisher.OpenChannel(ctx)
		if err != nil {
			return pkgerrors.Wrap(err, "unable to open a broker channel")
		}
		*ch = c
	}

	if err := (*ch).Publish(ctx, e, body); err != nil {
		// the channel may be unusable now, the next event opens a fresh one
		_ = (*ch).Close()
		*ch = nil
		return err
	}

	return nil
}
