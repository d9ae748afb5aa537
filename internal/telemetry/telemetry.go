// Package telemetry emits operational metrics through pluggable sinks.
// Emission is best-effort: a failing sink never fails the caller.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/dwsmith1983/muse/internal/retry"
)

// Sink receives a single metric observation.
type Sink interface {
	Emit(ctx context.Context, name string, value float64, tags map[string]string) error
}

// IsCounter reports whether a metric name denotes a monotonically increasing
// count rather than a point-in-time gauge.
func IsCounter(name string) bool {
	for _, suffix := range []string{".success", ".failure", ".total", ".count"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Emitter wraps a Sink with the best-effort retry profile. A nil Emitter
// discards everything.
type Emitter struct {
	sink   Sink
	policy *retry.Policy
}

// NewEmitter creates an Emitter. A nil policy selects retry.BestEffort.
func NewEmitter(sink Sink, policy *retry.Policy) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	if policy == nil {
		policy = retry.BestEffort()
	}
	return &Emitter{sink: sink, policy: policy}
}

// Emit records a value. Errors are retried, then logged and dropped.
func (e *Emitter) Emit(ctx context.Context, name string, value float64, tags map[string]string) {
	if e == nil {
		return
	}
	_ = retry.Exec(ctx, e.policy, "telemetry:"+name, nil, func(ctx context.Context) error {
		return e.sink.Emit(ctx, name, value, tags)
	})
}

// Count records a single occurrence.
func (e *Emitter) Count(ctx context.Context, name string, tags map[string]string) {
	e.Emit(ctx, name, 1, tags)
}

// NopSink discards every observation.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, float64, map[string]string) error { return nil }

// LogSink writes observations to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, name string, value float64, tags map[string]string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"metric", name, "value", value}
	for _, k := range sortedKeys(tags) {
		args = append(args, k, tags[k])
	}
	logger.DebugContext(ctx, "telemetry", args...)
	return nil
}

func sortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
