// Package breaker guards calls to external backends with a circuit breaker.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/pkg/types"
)

const (
	defaultMaxFailures = 5
	defaultOpenTimeout = 60 * time.Second
)

// Breaker trips after consecutive transient or timeout failures. Permanent
// failures (bad requests, rejected payloads) never trip it.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a Breaker named after the backend it protects.
func New(name string, cfg types.BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := defaultOpenTimeout
	if d, err := time.ParseDuration(cfg.OpenTimeout); err == nil && d > 0 {
		openTimeout = d
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || retry.Classify(err) == types.FailurePermanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
		},
	})}
}

// Do runs fn through the breaker. While open it fails fast with
// gobreaker.ErrOpenState, which retry.Classify treats as permanent.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if t, ok := v.(T); ok {
			return t, err
		}
		return zero, err
	}
	return v.(T), nil
}

// State returns the breaker state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name returns the protected backend name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}
