package retry

import (
	"context"
	"time"
)

// Policy is a bounded retry with exponential backoff. The delay before
// attempt n+1 is Base * 2^n, so with the default base the waits are
// 2s, 4s, ... Errors the Retryable predicate rejects surface immediately.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Retryable   func(error) bool

	// Sleep is swapped out in tests. Nil means time.Sleep via the
	// context-aware wait below.
	Sleep func(time.Duration)
}

// New returns a policy with the given attempt budget and retryable
// predicate. A nil predicate retries every error.
func New(maxAttempts int, retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Base:        time.Second,
		Retryable:   retryable,
	}
}

// Do runs op until it succeeds, the attempt budget is exhausted, or an error
// is classified as non-retryable. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if werr := p.wait(ctx, p.Base*(1<<attempt)); werr != nil {
			return werr
		}
	}
	return err
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		p.Sleep(d)
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
