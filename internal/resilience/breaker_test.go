package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

func returns(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

// clocked returns a breaker whose clock reads *now.
func clocked(threshold int, now *time.Time) *Breaker {
	b := NewBreaker(BreakerConfig{Threshold: threshold, Cooldown: time.Minute})
	b.now = func() time.Time { return *now }
	return b
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Now()
	b := clocked(3, &now)
	ctx := context.Background()

	for range 3 {
		assert.ErrorIs(t, b.Call(ctx, returns(errUnreachable)), errUnreachable)
	}
	assert.True(t, b.Open())

	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_IgnoresDataErrors(t *testing.T) {
	now := time.Now()
	b := clocked(2, &now)
	bad := model.DataError(model.CodeAIFailed, errors.New("unparseable completion"))

	for range 5 {
		_ = b.Call(context.Background(), returns(bad))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessClearsFailures(t *testing.T) {
	now := time.Now()
	b := clocked(3, &now)
	ctx := context.Background()

	_ = b.Call(ctx, returns(errUnreachable))
	_ = b.Call(ctx, returns(errUnreachable))
	require.NoError(t, b.Call(ctx, returns(nil)))
	_ = b.Call(ctx, returns(errUnreachable))
	_ = b.Call(ctx, returns(errUnreachable))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	t.Run("success closes", func(t *testing.T) {
		b := clocked(1, &now)
		_ = b.Call(ctx, returns(errUnreachable))
		require.True(t, b.Open())

		now = now.Add(2 * time.Minute)
		assert.Equal(t, StateHalfOpen, b.State())
		require.NoError(t, b.Call(ctx, returns(nil)))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("failure reopens", func(t *testing.T) {
		b := clocked(1, &now)
		_ = b.Call(ctx, returns(errUnreachable))
		now = now.Add(2 * time.Minute)
		_ = b.Call(ctx, returns(errUnreachable))
		assert.True(t, b.Open())
	})
}

func TestBreaker_OnChangeAndReset(t *testing.T) {
	var seen []string
	b := NewBreaker(BreakerConfig{
		Threshold: 1,
		OnChange: func(from, to BreakerState) {
			seen = append(seen, from.String()+"->"+to.String())
		},
	})

	_ = b.Call(context.Background(), returns(errUnreachable))
	b.Reset()
	b.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, seen)
	assert.Equal(t, StateClosed, b.State())
}

func TestGuard(t *testing.T) {
	now := time.Now()
	b := clocked(1, &now)

	v, err := Guard(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, _ = Guard(context.Background(), b, func(context.Context) (int, error) { return 0, errUnreachable })
	v, err = Guard(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, v)
}

func TestBreaker_Concurrent(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1000})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Call(context.Background(), returns(errUnreachable))
			} else {
				_ = b.Call(context.Background(), returns(nil))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

func TestProviderBreaker(t *testing.T) {
	b := ProviderBreaker("ai.anthropic")
	assert.Equal(t, 3, b.cfg.Threshold)
	assert.Equal(t, 2*time.Minute, b.cfg.Cooldown)
	require.NotNil(t, b.cfg.OnChange)
	b.cfg.OnChange(StateClosed, StateOpen)
}
