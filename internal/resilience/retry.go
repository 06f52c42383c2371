package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy describes how a collaborator call is retried. Zero fields fall back
// to the package defaults; a zero Jitter means no jitter.
type Policy struct {
	Attempts  int           // total tries, first one included
	BaseDelay time.Duration // wait before the first retry
	MaxDelay  time.Duration
	Factor    float64 // growth of the wait per retry
	Jitter    float64 // +/- fraction applied to each wait

	// Retryable decides whether an error is worth another try. IsTransient
	// when nil.
	Retryable func(error) bool

	// Notify runs before each wait.
	Notify func(attempt int, err error)
}

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
	defaultFactor    = 2.0
)

// DefaultPolicy is the policy collaborator calls start from.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  defaultAttempts,
		BaseDelay: defaultBaseDelay,
		MaxDelay:  defaultMaxDelay,
		Factor:    defaultFactor,
		Jitter:    0.25,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Factor <= 0 {
		p.Factor = defaultFactor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Delay is the wait after the n-th failed attempt (0-based), capped at
// MaxDelay before jitter is applied.
func (p Policy) Delay(n int) time.Duration {
	d := math.Min(float64(p.BaseDelay)*math.Pow(p.Factor, float64(n)), float64(p.MaxDelay))
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// Retry calls fn until it succeeds, fails with a non-retryable error, runs
// out of attempts, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is Retry for calls that produce a value.
func RetryValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}
		if p.Notify != nil {
			p.Notify(attempt, err)
		}
		if !wait(ctx, p.Delay(attempt-1)) {
			return zero, err
		}
	}
}

// wait sleeps for d and reports false when ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// LogRetries returns a Notify callback that logs each retry at warn level.
func LogRetries(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
