package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UnknownEventType labels deliveries whose event type has no handler or could
// not be read.
const UnknownEventType = "unknown"

var (
	consumedEvents     *prom.CounterVec
	processingDuration *prom.HistogramVec
)

func init() {
	consumedEvents = promauto.NewCounterVec(prom.CounterOpts{
		Name: "event_outbox_consumed_events_total",
		Help: "Deliveries handled by the consumer, by event type and outcome",
	}, []string{"event_type", "outcome"})

	processingDuration = promauto.NewHistogramVec(prom.HistogramOpts{
		Name:    "event_outbox_consumer_processing_seconds",
		Help:    "Time spent applying an event and recording it in the ledger",
		Buckets: prom.DefBuckets,
	}, []string{"event_type"})
}

func ObserveConsumed(eventType, outcome string) {
	consumedEvents.WithLabelValues(eventType, outcome).Inc()
}

func ObserveProcessingDuration(eventType string, d time.Duration) {
	processingDuration.WithLabelValues(eventType).Observe(d.Seconds())
}
