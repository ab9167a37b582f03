package newrelic

import (
	"os"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"inviqa/event-outbox/log"
)

const (
	shutdownTimeout   = time.Second * 10
	defaultAppName    = "event-outbox"
	envKeyNewRelicEnv = "NEW_RELIC_ENV"
	envKeyLogLevel    = "NEW_RELIC_LOG_LEVEL"
	envKeyLicense     = "NEW_RELIC_LICENSE_KEY"
)

// StartAgent starts the New Relic agent configured from the NEW_RELIC_*
// environment. Without a licence key it returns a nil application, which the
// transaction helpers in this package accept.
func StartAgent() (*newrelic.Application, func()) {
	if os.Getenv(envKeyLicense) == "" {
		log.Logger.Info("no New Relic licence key configured, agent disabled")
		return nil, func() {}
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(defaultAppName),
		newrelic.ConfigFromEnvironment(),
		agentLoggingConfig(os.Getenv(envKeyLogLevel)),
		func(cfg *newrelic.Config) {
			cfg.Labels = map[string]string{
				"env": os.Getenv(envKeyNewRelicEnv),
			}
		},
	)
	if err != nil {
		log.Logger.WithError(err).Fatal("error starting New Relic agent")
	}
	return app, func() {
		log.Logger.Info("shutting down newrelic agent")
		app.Shutdown(shutdownTimeout)
	}
}

func agentLoggingConfig(level string) newrelic.ConfigOption {
	if level == "debug" {
		return newrelic.ConfigDebugLogger(log.Writer())
	}
	return newrelic.ConfigInfoLogger(log.Writer())
}
