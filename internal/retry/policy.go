// Package retry provides bounded exponential-backoff retry policies for calls
// against external systems, with optional dead-letter recording on failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Recorder persists operations whose retries were exhausted.
// Implementations must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, operation string, payload map[string]interface{}, err error)
}

// Policy describes how an operation is retried and what happens when it
// finally fails.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable selects the error classes worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool

	// Recorder receives the final failure. Nil disables dead-lettering.
	Recorder Recorder

	// Swallow turns final failures into a zero value and a nil error.
	Swallow bool

	Logger *slog.Logger
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Durable returns the storage profile: 3 attempts, 1s base, 10s cap, final
// failures recorded to rec.
func Durable(rec Recorder) *Policy {
	return &Policy{
		Name:        "durable",
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Recorder:    rec,
	}
}

// API returns the external API profile: 3 attempts, 2s base, 30s cap, final
// failures recorded to rec.
func API(rec Recorder) *Policy {
	return &Policy{
		Name:        "api",
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Recorder:    rec,
	}
}

// BestEffort returns the telemetry profile: 2 attempts, 1s base, 5s cap.
// Failures are logged and swallowed; nothing is dead-lettered.
func BestEffort() *Policy {
	return &Policy{
		Name:        "best-effort",
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Swallow:     true,
	}
}

// ExhaustedError is returned when an operation fails for the last time.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Backoff returns the wait before the attempt following the given one:
// base * 2^(attempt-1), capped at MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p *Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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

// Do runs fn under the policy. On final failure the operation and payload are
// handed to the policy's Recorder, if any; a swallowing policy then returns the
// zero value and nil.
func Do[T any](ctx context.Context, p *Policy, op string, payload map[string]interface{}, fn func(context.Context) (T, error)) (T, error) {
	v, attempts, err := loop(ctx, p, op, fn)
	if err == nil {
		return v, nil
	}

	if p.Recorder != nil {
		p.Recorder.Record(ctx, op, payload, err)
	}
	if p.Swallow {
		p.logger().Warn("dropping failed operation", "op", op, "policy", p.Name, "attempts", attempts, "error", err)
		var zero T
		return zero, nil
	}
	return v, &ExhaustedError{Op: op, Attempts: attempts, Err: err}
}

// Exec is Do for operations without a result.
func Exec(ctx context.Context, p *Policy, op string, payload map[string]interface{}, fn func(context.Context) error) error {
	_, err := Do(ctx, p, op, payload, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry runs an idempotent read under the policy's attempt and backoff
// settings. It never dead-letters and never swallows.
func Retry[T any](ctx context.Context, p *Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	v, attempts, err := loop(ctx, p, op, fn)
	if err != nil {
		return v, &ExhaustedError{Op: op, Attempts: attempts, Err: err}
	}
	return v, nil
}

func loop[T any](ctx context.Context, p *Policy, op string, fn func(context.Context) (T, error)) (T, int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return v, attempt - 1, err
		}

		v, err = fn(ctx)
		if err == nil {
			return v, attempt, nil
		}
		if !p.retryable(err) {
			return v, attempt, err
		}
		if attempt == maxAttempts {
			return v, attempt, err
		}

		delay := p.Backoff(attempt)
		p.logger().Warn("retrying operation",
			"op", op,
			"policy", p.Name,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		if serr := p.sleep(ctx, delay); serr != nil {
			return v, attempt, errors.Join(err, serr)
		}
	}
	return v, maxAttempts, err
}
