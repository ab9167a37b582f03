package job

import (
	"context"
	"net/http"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"
	"inviqa/event-outbox/newrelic"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

type replayer interface {
	Replay(ctx context.Context, eventType string, includeFailed bool) (int64, error)
}

type replay struct {
	repo          replayer
	eventType     string
	includeFailed bool
	SidecarQuitter
}

// RunReplay moves dead (and, with REPLAY_INCLUDE_FAILED, failed) outbox events
// back to pending so the relay publishes them again. It returns the process
// exit code.
func RunReplay(ctx context.Context, nrApp *nr.Application, repo replayer, cfg *config.Config) int {
	ctx, txn := newrelic.ContextWithTxn(ctx, "job: RunReplay()", nrApp)
	defer txn.End()

	j := newReplay(repo, cfg, http.DefaultClient)
	if _, err := j.Execute(ctx); err != nil {
		txn.NoticeError(err)
		return 1
	}

	return 0
}

func newReplay(repo replayer, cfg *config.Config, cl httpDoer) *replay {
	j := &replay{
		repo:           repo,
		eventType:      cfg.ReplayEventType,
		includeFailed:  cfg.ReplayIncludeFailed,
		SidecarQuitter: SidecarQuitter{Client: cl},
	}
	if cfg.SidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(cfg.SidecarProxyUrl)
	}

	return j
}

func (r *replay) Execute(ctx context.Context) (int64, error) {
	logger := log.Logger.WithFields(logrus.Fields{
		"event_type":     r.eventType,
		"include_failed": r.includeFailed,
	})

	rows, err := r.repo.Replay(ctx, r.eventType, r.includeFailed)
	if err != nil {
		logger.WithError(err).Error("an error occurred whilst replaying outbox events")
	} else {
		logger.Infof("replayed %d outbox events", rows)
	}

	return rows, r.quitAfter(ctx, err)
}
