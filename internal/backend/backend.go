// Package backend invokes the external publish and translation services.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwsmith1983/muse/internal/breaker"
	"github.com/dwsmith1983/muse/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Invoker sends a JSON payload to a backend and returns its JSON response.
type Invoker interface {
	Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
}

// New builds the Invoker described by cfg.
func New(ctx context.Context, cfg types.BackendConfig) (Invoker, error) {
	switch cfg.Type {
	case "http", "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http backend requires url")
		}
		return NewHTTPInvoker(cfg), nil
	case "lambda":
		return NewLambdaInvoker(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Guarded routes every invocation through a circuit breaker.
type Guarded struct {
	inner   Invoker
	breaker *breaker.Breaker
}

// Guard wraps inner with b.
func Guard(inner Invoker, b *breaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: b}
}

func (g *Guarded) Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return breaker.Do(g.breaker, func() (map[string]interface{}, error) {
		return g.inner.Invoke(ctx, payload)
	})
}

func parseTimeout(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultTimeout
}

// toPayload converts a request struct into the generic payload shape stored
// in dead-letter entries.
func toPayload(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return out, nil
}

func decodeResponse(body []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding backend response: %w (body: %s)", err, truncate(body, 256))
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
