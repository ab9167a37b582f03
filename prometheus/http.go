package prometheus

import (
	"context"
	"errors"
	"net/http"
	"time"

	"inviqa/event-outbox/config"
	h "inviqa/event-outbox/http"
	"inviqa/event-outbox/log"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// NewServeMux routes /metrics and /healthz.
func NewServeMux(cfg *config.Config, db h.Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", h.NewHealthzHandler(cfg.GetDependencySystemAddresses(), db))

	return mux
}

// StartHttpServer serves metrics and health checks on cfg.HttpAddr until ctx
// is cancelled.
func StartHttpServer(ctx context.Context, cfg *config.Config, db h.Pinger) {
	srv := &http.Server{
		Addr:              cfg.HttpAddr,
		Handler:           NewServeMux(cfg, db),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Logger.WithError(err).Error("error shutting down the HTTP server")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Logger.Fatalf("failed to start prometheus HTTP server: %s", err)
	}
}
