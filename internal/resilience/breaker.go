// Package resilience provides retry, circuit breaking and error
// classification for collaborator calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the position of a Breaker.
type BreakerState int

const (
	StateClosed   BreakerState = iota // calls flow through
	StateOpen                         // calls are rejected until the cooldown ends
	StateHalfOpen                     // probe calls decide whether to close again
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned for calls rejected by an open breaker.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig tunes a Breaker. Zero fields take defaults.
type BreakerConfig struct {
	Threshold int           // consecutive tripping failures that open it; 5
	Cooldown  time.Duration // time spent open before probing; 30s
	Probes    int           // successful probes that close it; 1

	// Trips reports whether an error counts as a failure. IsTransient when
	// nil, so data errors leave the breaker alone.
	Trips func(error) bool

	OnChange func(from, to BreakerState)
}

// Breaker guards calls to one collaborator.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Trips == nil {
		cfg.Trips = IsTransient
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Call runs fn unless the breaker is open, in which case ErrOpen is
// returned without calling it.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Guard is Call for functions returning a value.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if !b.admit() {
		var zero T
		return zero, ErrOpen
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State reports the current state. An open breaker whose cooldown has
// passed reads as half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

// Open reports whether calls are being rejected right now.
func (b *Breaker) Open() bool { return b.State() == StateOpen }

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.set(StateClosed)
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if !b.cooledDown() {
		return false
	}
	b.set(StateHalfOpen)
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && b.cfg.Trips(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
			b.successes = 0
			b.openedAt = b.now()
			b.set(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.failures, b.successes = 0, 0
			b.set(StateClosed)
		}
	}
}

// set moves to state to, notifying OnChange on an actual change. Callers
// hold mu.
func (b *Breaker) set(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}
