// Package retry runs an operation under a bounded attempt policy with
// configurable delays between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// DelayFunc returns the wait before the attempt following the given
// zero-based failed attempt.
type DelayFunc func(attempt int) time.Duration

// Classifier reports whether err is worth another attempt.
type Classifier func(error) bool

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy holds retry configuration.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// Delay computes the wait after a failed attempt.
	Delay DelayFunc
	// Retryable decides whether a failure is retried. Nil retries everything
	// except context cancellation.
	Retryable Classifier
	// Sleep is used between attempts. Nil means a ctx-aware timer.
	Sleep Sleeper
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Exponential returns base * 2^attempt.
func Exponential(base time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(1<<uint(attempt))
	}
}

// Linear returns the same delay after every attempt.
func Linear(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// UploadPolicy is used around each platform upload attempt: 3 attempts,
// waiting 5s then 10s.
func UploadPolicy(retryable Classifier) Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       Exponential(5 * time.Second),
		Retryable:   retryable,
	}
}

// NotifyPolicy is used for notifier sends: 3 attempts, 2s apart.
func NotifyPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       Linear(2 * time.Second),
	}
}

// IsRetryable is the default classifier.
func IsRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. The value and error of the last call are
// returned as-is.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.Retryable
	if classify == nil {
		classify = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		val T
		err error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if !classify(err) || attempt == attempts-1 {
			return val, err
		}

		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return val, err
		}
	}
	return val, err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
