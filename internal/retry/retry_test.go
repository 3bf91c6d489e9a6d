package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Base:        time.Second,
		Sleep:       func(d time.Duration) { delays = append(delays, d) },
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	// Exponential backoff: 2s after attempt 1, 4s after attempt 2.
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Errorf("unexpected backoff delays: %v", delays)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		MaxAttempts: 3,
		Base:        time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
		Sleep:       func(time.Duration) {},
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d attempts", calls)
	}
}

func TestDoExhaustsBudgetAndReturnsLastError(t *testing.T) {
	p := Policy{
		MaxAttempts: 3,
		Base:        time.Millisecond,
		Sleep:       func(time.Duration) {},
	}

	calls := 0
	last := errors.New("still failing")
	err := p.Do(context.Background(), func() error {
		calls++
		return last
	})

	if !errors.Is(err, last) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDoRespectsContextDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(3, nil)
	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt before the canceled wait, got %d", calls)
	}
}
