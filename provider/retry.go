package provider

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/goose-run/goose-core/message"
)

// RetryConfig controls the shared exponential-backoff retry policy. The
// zero value is invalid; use DefaultRetryConfig.
type RetryConfig struct {
	MaxRetries       int
	InitialInterval  time.Duration
	BackoffMultiplier float64
	MaxInterval      time.Duration
}

// DefaultRetryConfig matches the reference retry policy: 3 retries,
// starting at 1s, doubling each attempt, capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialInterval:   time.Second,
		BackoffMultiplier: 2.0,
		MaxInterval:       30 * time.Second,
	}
}

// delayForAttempt computes the jittered backoff delay before attempt
// number n (1-indexed: the delay before the first retry is for n=1).
func (c RetryConfig) delayForAttempt(n int) time.Duration {
	raw := float64(c.InitialInterval) * math.Pow(c.BackoffMultiplier, float64(n-1))
	if raw > float64(c.MaxInterval) {
		raw = float64(c.MaxInterval)
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(raw * jitter)
}

// CompleteFunc is the shape of Provider.Complete, used by WithRetry so it
// can wrap any provider's call.
type CompleteFunc func(ctx context.Context) (message.Message, ProviderUsage, error)

// WithRetry invokes fn, retrying on RateLimitExceeded and ServerError
// provider errors up to cfg.MaxRetries additional attempts, with
// exponential backoff between attempts. Any other error, or exhaustion of
// retries, is returned as-is.
func WithRetry(ctx context.Context, cfg RetryConfig, fn CompleteFunc) (message.Message, ProviderUsage, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		msg, usage, err := fn(ctx)
		if err == nil {
			return msg, usage, nil
		}
		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) || !perr.Retryable() {
			return message.Message{}, ProviderUsage{}, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.delayForAttempt(attempt + 1)
		if perr.RetryDelay != nil {
			delay = time.Duration(*perr.RetryDelay * float64(time.Second))
		}
		select {
		case <-ctx.Done():
			return message.Message{}, ProviderUsage{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return message.Message{}, ProviderUsage{}, lastErr
}
