// Package retry implements the bounded doubling-delay retry loop shared
// by the streaming-policy poller and the chunk uploader.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retry loop. The delay between failed attempts starts
// at InitialDelay and is multiplied by Multiplier after every attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values < 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the sleep after the first failed attempt.
	InitialDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Values < 1
	// default to 2, the doubling schedule used everywhere in this
	// pipeline.
	Multiplier int

	// sleep is an unexported test seam. Production code leaves it nil
	// and gets a context-aware timer sleep; unit tests can inject a
	// recorder to assert the delay schedule without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Do invokes fn until it returns nil or the policy is exhausted.
//
// Between failed attempts Do sleeps for the current delay, honoring
// context cancellation. On exhaustion the last attempt's error is
// returned wrapped with the attempt count; on cancellation the context
// error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.InitialDelay
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= time.Duration(mult)
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
