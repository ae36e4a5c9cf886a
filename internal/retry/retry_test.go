package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// failNTimes returns a func that fails the first n calls, then succeeds.
func failNTimes(n int) func(context.Context) error {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	}
}

func TestDoSucceedsIffFailuresBelowMaxAttempts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantErr     bool
	}{
		{"first try", 0, 5, false},
		{"succeeds on last attempt", 4, 5, false},
		{"exhausted", 5, 5, true},
		{"far exhausted", 10, 5, true},
		{"single attempt success", 0, 1, false},
		{"single attempt failure", 1, 1, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := Policy{
				MaxAttempts:  tt.maxAttempts,
				InitialDelay: time.Second,
				sleep:        func(context.Context, time.Duration) error { return nil },
			}
			err := Do(context.Background(), p, failNTimes(tt.failures))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// The delay schedule must double: initial, 2x, 4x, ... between attempts.
func TestDoDoublesDelay(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	err := Do(context.Background(), p, failNTimes(5))
	if err == nil {
		t.Fatal("Do() expected exhaustion error")
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %d times, want %d (%v)", len(slept), len(want), slept)
	}
	var total time.Duration
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, slept[i], want[i])
		}
		total += slept[i]
	}
	if total != 75*time.Second {
		t.Errorf("total delay = %v, want 75s", total)
	}
}

func TestDoWrapsLastError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	p := Policy{
		MaxAttempts: 3,
		sleep:       func(context.Context, time.Duration) error { return nil },
	}
	err := Do(context.Background(), p, func(context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error %v does not wrap %v", err, sentinel)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		MaxAttempts:  10,
		InitialDelay: time.Millisecond,
		sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	err := Do(ctx, p, func(context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times after cancel, want 1", calls)
	}
}
