package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const defaultLevel = logrus.ErrorLevel

var (
	Logger logrus.FieldLogger
	base   *logrus.Logger
)

func init() {
	base = newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	Logger = base.WithField("app", "event-outbox")
}

func newLogger(level, format string) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stdout
	l.Formatter = resolveFormatter(format)

	lvl, err := resolveLogLevel(level)
	l.Level = lvl

	if err != nil {
		l.Errorf("an error occurred resolving the log level: %s", err)
	}

	return l
}

// Writer exposes the underlying logger as an io.Writer for third-party agents
// that only accept a writer.
func Writer() io.Writer {
	return base.Writer()
}

func resolveFormatter(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{FullTimestamp: true}
	}

	return &logrus.JSONFormatter{}
}

func resolveLogLevel(envLvl string) (logrus.Level, error) {
	if envLvl == "" {
		return defaultLevel, nil
	}

	lvl, err := logrus.ParseLevel(envLvl)
	if err != nil {
		return defaultLevel, err
	}

	return lvl, nil
}
