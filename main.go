package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	nr "github.com/newrelic/go-agent/v3/newrelic"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/consumer"
	"inviqa/event-outbox/job"
	"inviqa/event-outbox/ledger"
	"inviqa/event-outbox/log"
	"inviqa/event-outbox/newrelic"
	"inviqa/event-outbox/outbox"
	"inviqa/event-outbox/outbox/data"
	"inviqa/event-outbox/outbox/poller"
	"inviqa/event-outbox/prometheus"
	"inviqa/event-outbox/rabbitmq"
	"inviqa/event-outbox/readmodel"
)

func main() {
	nrApp, stopAgent := newrelic.StartAgent()
	defer stopAgent()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Logger.Fatalf("unable to create configuration: %s", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, dbClose := data.NewDB(cfg)
	defer dbClose()

	var exitCode int
	switch {
	case cfg.RunReplay:
		exitCode = job.RunReplay(ctx, nrApp, outbox.NewRepository(db, cfg), cfg)
	case cfg.RunOptimize:
		exitCode = job.RunOptimize(ctx, nrApp, db, cfg)
	case cfg.RunConsumer:
		runConsumer(ctx, nrApp, db, cfg)
	default:
		runRelay(ctx, nrApp, db, cfg)
	}

	if exitCode > 0 {
		dbClose() // we call this manually because os.Exit() does not respect defer
		stopAgent()
		os.Exit(exitCode)
	}
}

func runRelay(ctx context.Context, nrApp *nr.Application, db *sql.DB, cfg *config.Config) {
	repo := outbox.NewRepository(db, cfg)
	cleanup := poller.Start(ctx, cfg, repo, nrApp)
	defer cleanup()

	go prometheus.ObserveQueueSize(ctx, repo)
	go prometheus.ObserveTotalSize(ctx, repo)
	prometheus.StartHttpServer(ctx, cfg, db)
}

func runConsumer(ctx context.Context, nrApp *nr.Application, db *sql.DB, cfg *config.Config) {
	logger := log.Logger.WithField("config", cfg)
	logger.Infof("starting consumer on queue %s", cfg.AMQPQueue)

	cache := readmodel.NewClient(cfg)
	defer func() {
		if err := cache.Close(); err != nil {
			log.Logger.WithError(err).Error("error closing redis client during shutdown")
		}
	}()

	c := consumer.New(ledger.NewRepository(db, cfg), cfg.ConsumerMaxRedeliveries, nrApp)
	readmodel.NewUsers(cache, cfg.GetReadModelTTL()).Register(c)

	sub := rabbitmq.NewSubscriber(rabbitmq.NewConnection(cfg), cfg)
	defer func() {
		if err := sub.Close(); err != nil {
			log.Logger.WithError(err).Error("error closing rabbitmq connection during shutdown")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, sub)
	}()

	prometheus.StartHttpServer(ctx, cfg, db)
	<-done
}
