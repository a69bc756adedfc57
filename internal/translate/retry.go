package translate

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy holds the per-error-kind backoff schedules. Schedules are
// expressed as explicit delay lists; their length bounds the retry count.
type RetryPolicy struct {
	// RateLimited is the delay before each 429 retry (default 1s/2s/4s).
	RateLimited []time.Duration

	// ServerError is the delay before each 5xx retry (default 500ms/1s).
	ServerError []time.Duration

	// TimeoutRetries is the number of immediate retries after a timeout
	// (default 1).
	TimeoutRetries int
}

// DefaultRetryPolicy mirrors the configured defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimited:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		ServerError:    []time.Duration{500 * time.Millisecond, time.Second},
		TimeoutRetries: 1,
	}
}

// retry runs fn until it succeeds, a permanent error occurs, or the schedule
// for the observed error kind is exhausted. Each error kind consumes its own
// budget: a 429 followed by a 5xx is retried from the 5xx schedule's next
// unused slot, not from scratch.
func retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var used429, used5xx, usedTimeout int

	for {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := Classify(err)
		var delay time.Duration
		switch kind {
		case KindRateLimited:
			if used429 >= len(policy.RateLimited) {
				return fmt.Errorf("retries exhausted (%s): %w", kind, err)
			}
			delay = policy.RateLimited[used429]
			used429++
		case KindServerError:
			if used5xx >= len(policy.ServerError) {
				return fmt.Errorf("retries exhausted (%s): %w", kind, err)
			}
			delay = policy.ServerError[used5xx]
			used5xx++
		case KindTimeout:
			if usedTimeout >= policy.TimeoutRetries {
				return fmt.Errorf("retries exhausted (%s): %w", kind, err)
			}
			usedTimeout++
		default:
			return err
		}

		slog.Warn("translation api call failed, retrying",
			"kind", kind.String(), "delay", delay, "err", err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}
