package e2e

import (
	"context"
	"fmt"
	"time"
)

// BackoffMode selects how the delay between cleanup attempts grows
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// RetryPolicy controls the port cleanup loop. It is immutable after construction.
type RetryPolicy struct {
	Mode        BackoffMode
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is three attempts with a linear 2s backoff capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Mode: BackoffLinear, Initial: 2 * time.Second, Max: 10 * time.Second, MaxAttempts: 3}
}

// NewRetryPolicy builds a policy; zero or unknown values fall back to defaults.
func NewRetryPolicy(mode BackoffMode, initial, maxDelay time.Duration, attempts int) RetryPolicy {
	p := DefaultRetryPolicy()
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	switch mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case BackoffFixed:
		return p.Initial
	case BackoffExponential:
		if attempt > 30 {
			return p.Max
		}
		d = p.Initial * (1 << (attempt - 1))
	default:
		d = time.Duration(attempt) * p.Initial
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Validate reports policies that cannot be applied
func (p RetryPolicy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial delay must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max delay must be >0")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >=1")
	}
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
