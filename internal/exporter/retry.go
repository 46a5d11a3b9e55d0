package exporter

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts = 8
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultMultiplier  = 2.0
)

// RetryPolicy re-issues an attempt on retryable failures under bounded
// exponential backoff. The zero value uses the package defaults. The policy
// holds no per-call state, so one policy is safe to share across
// concurrent senders.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of attempts (first try included).
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier scales the delay between consecutive retries.
	Multiplier float64
	// Retryable classifies an attempt error. When nil, UploadError.IsRetryable
	// is consulted and any other error is treated as fatal.
	Retryable func(error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Retryable == nil {
		p.Retryable = defaultRetryable
	}
	return p
}

// defaultRetryable consults the structured upload error classification.
func defaultRetryable(err error) bool {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.IsRetryable()
	}
	return false
}

// Do invokes attempt until it succeeds, returns a non-retryable error, the
// attempt budget is exhausted, or ctx is cancelled. The last observed error
// is returned on exhaustion. onRetry, if non-nil, is called before each
// re-issue with the attempt number just failed and the upcoming delay.
func (p RetryPolicy) Do(ctx context.Context, attempt func(context.Context) error, onRetry func(n int, delay time.Duration)) error {
	p = p.withDefaults()

	delay := p.BaseDelay
	var err error
	for n := 1; ; n++ {
		err = attempt(ctx)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) || n >= p.MaxAttempts {
			return err
		}

		if onRetry != nil {
			onRetry(n, delay)
		}
		if serr := sleep(ctx, jitter(delay)); serr != nil {
			return err
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

// jitter adds ±10% to prevent concurrent senders from retrying in lockstep.
func jitter(d time.Duration) time.Duration {
	j := time.Duration(float64(d) * 0.1 * (2*rand.Float64() - 1)) //nolint:gosec // jitter doesn't need crypto randomness
	if d += j; d <= 0 {
		return time.Millisecond
	}
	return d
}

// sleep waits for d but wakes up early on context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
