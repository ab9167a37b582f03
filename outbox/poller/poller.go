package poller

import (
	"context"
	"errors"
	"time"

	"inviqa/event-outbox/log"
	"inviqa/event-outbox/outbox"
)

type Poller interface {
	Poll(ctx context.Context, interval time.Duration)
}

type repository interface {
	GetBatch(ctx context.Context) (*outbox.Batch, error)
}

func New(r repository, ch chan<- *outbox.Batch) Poller {
	return &outboxPoller{
		ch:   ch,
		repo: r,
	}
}

type outboxPoller struct {
	ch   chan<- *outbox.Batch
	repo repository
}

// Poll fetches a batch of due events on every tick and hands it to the
// processors. It returns once ctx is cancelled.
func (p outboxPoller) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !p.pollOnce(ctx) {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p outboxPoller) pollOnce(ctx context.Context) bool {
	batch, err := p.repo.GetBatch(ctx)
	if ctx.Err() != nil {
		return false
	}

	if errors.Is(err, outbox.ErrNoEvents) {
		return true
	}

	if err != nil {
		log.Logger.WithError(err).Error("an unexpected error occurred when polling the outbox")
		return true
	}

	select {
	case p.ch <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}
