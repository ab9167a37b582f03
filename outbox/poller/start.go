package poller

import (
	"context"
	"sync"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/kafka"
	"inviqa/event-outbox/log"
	"inviqa/event-outbox/outbox"
	"inviqa/event-outbox/outbox/processor"
	"inviqa/event-outbox/rabbitmq"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

type relayRepository interface {
	repository
	Claim(ctx context.Context, e *outbox.Event) error
	MarkPublished(ctx context.Context, e *outbox.Event) error
	MarkFailed(ctx context.Context, e *outbox.Event, cause error) error
}

// Start runs the poller and WriteConcurrency batch processors until ctx is
// cancelled. The returned func waits for in-flight batches to finish, then
// closes the broker publisher.
func Start(ctx context.Context, cfg *config.Config, repo relayRepository, nrApp *nr.Application) func() {
	logger := log.Logger.WithField("config", cfg)
	logger.Infof("starting outbox relay to %s", cfg.Broker)

	pub := newPublisher(cfg)
	batchCh := make(chan *outbox.Batch)
	go New(repo, batchCh).Poll(ctx, cfg.GetPollIntervalDurationInMs())

	proc := processor.NewBatchProcessor(repo, pub, nrApp)
	var wg sync.WaitGroup
	for i := 0; i < cfg.WriteConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			proc.ListenAndProcess(ctx, batchCh)
		}()
	}

	return func() {
		wg.Wait()
		if err := pub.Close(); err != nil {
			log.Logger.WithError(err).Errorf("error closing %s publisher during shutdown", cfg.Broker)
		}
	}
}

func newPublisher(cfg *config.Config) outbox.Publisher {
	if cfg.Broker == config.Kafka {
		return kafka.NewPublisher(cfg.KafkaHost, kafka.NewSaramaConfig(cfg))
	}

	return rabbitmq.NewPublisher(rabbitmq.NewConnection(cfg), cfg)
}
