package prometheus

import (
	"context"
	"time"

	"inviqa/event-outbox/log"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const sizeInterval = time.Second

var (
	outboxQueueSize = promauto.NewGauge(prom.GaugeOpts{
		Name: "outbox_queue_size",
		Help: "Events in the outbox that still have to be relayed (pending, processing or failed)",
	})
	outboxTotalSize = promauto.NewGauge(prom.GaugeOpts{
		Name: "outbox_total_size",
		Help: "All events in the outbox, whatever their status",
	})
)

type Sizer interface {
	GetQueueSize() (uint, error)
	GetTotalSize() (uint, error)
}

// ObserveQueueSize updates the queue size gauge every second until ctx is
// cancelled.
func ObserveQueueSize(ctx context.Context, s Sizer) {
	observeSize(ctx, "queue", s.GetQueueSize, outboxQueueSize)
}

// ObserveTotalSize updates the total size gauge every second until ctx is
// cancelled.
func ObserveTotalSize(ctx context.Context, s Sizer) {
	observeSize(ctx, "total", s.GetTotalSize, outboxTotalSize)
}

func observeSize(ctx context.Context, name string, size func() (uint, error), g prom.Gauge) {
	ticker := time.NewTicker(sizeInterval)
	defer ticker.Stop()

	for {
		if n, err := size(); err != nil {
			log.Logger.WithError(err).Errorf("an error occurred determining the %s size of the outbox", name)
		} else {
			g.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
