package outbox

import (
	"database/sql"
	"time"

	"inviqa/event-outbox/config"
)

// RetryPolicy schedules relay retries. The delay after the nth consecutive
// failure is 2^min(n, MaxExponent) minutes. A MaxRetries of zero never gives up.
type RetryPolicy struct {
	MaxRetries  int
	MaxExponent int
}

func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  cfg.RelayMaxRetries,
		MaxExponent: cfg.RelayMaxBackoffExponent,
	}
}

func (p RetryPolicy) Delay(retryCount int) time.Duration {
	exp := retryCount
	if exp > p.MaxExponent {
		exp = p.MaxExponent
	}
	if exp < 0 {
		exp = 0
	}

	return time.Duration(1<<uint(exp)) * time.Minute
}

// Fail records a failed publish attempt on e, moving it to Failed with the next
// retry scheduled, or to Dead once the retry budget is spent.
func (p RetryPolicy) Fail(e *Event, cause error, now time.Time) {
	e.RetryCount++
	e.LastError = truncateError(cause.Error())

	if p.MaxRetries > 0 && e.RetryCount >= p.MaxRetries {
		e.Status = StatusDead
		e.NextRetryAt = sql.NullTime{}
		return
	}

	e.Status = StatusFailed
	e.NextRetryAt = sql.NullTime{Time: now.Add(p.Delay(e.RetryCount)), Valid: true}
}
