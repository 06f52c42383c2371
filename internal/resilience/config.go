package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/config"
)

// FetchPolicy is the retry policy for source checks and downloads.
// fetch.max_retries counts retries, not attempts.
func FetchPolicy(cfg config.FetchConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxRetries > 0 {
		p.Attempts = cfg.MaxRetries + 1
	}
	p.Notify = LogRetries("fetch", "request")
	return p
}

// ProviderPolicy is the retry policy for one AI provider: a single retry
// after a longer pause.
func ProviderPolicy(name string) Policy {
	p := DefaultPolicy()
	p.Attempts = 2
	p.BaseDelay = 2 * time.Second
	p.Notify = LogRetries(name, "complete")
	return p
}

// ProviderBreaker returns the breaker guarding one AI provider.
func ProviderBreaker(name string) *Breaker {
	return NewBreaker(BreakerConfig{
		Threshold: 3,
		Cooldown:  2 * time.Minute,
		OnChange:  LogStateChanges(name),
	})
}

// LogStateChanges returns an OnChange callback that logs transitions.
func LogStateChanges(service string) func(from, to BreakerState) {
	return func(from, to BreakerState) {
		zap.L().Warn("resilience: breaker state change",
			zap.String("service", service),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}
