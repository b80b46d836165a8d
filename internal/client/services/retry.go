package services

import (
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy is the backoff shared by response batches, attachments and the
// completion signal: exponential from Base, capped at Max, jittered by
// JitterPercent, at most MaxAttempts attempts within one drain.
type RetryPolicy struct {
	Base          time.Duration
	Max           time.Duration
	JitterPercent uint64
	MaxAttempts   uint64
}

func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		Base:          cfg.RetryBaseDelay,
		Max:           cfg.RetryMaxDelay,
		JitterPercent: cfg.RetryJitterPercent,
		MaxAttempts:   cfg.MaxAttemptsPerDrain,
	}
}

func (p RetryPolicy) delays() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.Max, b)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	return b
}

// Backoff drives the attempts of one delivery within a drain.
func (p RetryPolicy) Backoff() retry.Backoff {
	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return retry.WithMaxRetries(retries, p.delays())
}

// Delay is the wait before the next drain may retry an entry that has
// already failed retryCount times.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	b := p.delays()
	var d time.Duration
	for i := 0; i < max(retryCount, 1); i++ {
		d, _ = b.Next()
	}
	return d
}
