package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var relayedEvents *prom.CounterVec

func init() {
	relayedEvents = promauto.NewCounterVec(prom.CounterOpts{
		Name: "event_outbox_relayed_events_total",
		Help: "Publish attempts made by the relay, by resulting event status",
	}, []string{"status"})
}

// ObserveRelayOutcome counts one publish attempt that left an event in status.
func ObserveRelayOutcome(status string) {
	relayedEvents.WithLabelValues(status).Inc()
}
