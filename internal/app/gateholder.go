package app

import (
	"context"
	"sync"

	"github.com/dwsmith1983/muse/internal/gate"
	"github.com/dwsmith1983/muse/pkg/types"
)

// GateHolder lets the gate configuration be swapped while runs are in flight.
// Each evaluation uses the gate current at the time it starts.
type GateHolder struct {
	mu    sync.RWMutex
	gate  *gate.Gate
	cfg   types.GateConfig
	build func(types.GateConfig) *gate.Gate
}

// NewGateHolder builds the initial gate from cfg.
func NewGateHolder(build func(types.GateConfig) *gate.Gate, cfg types.GateConfig) *GateHolder {
	return &GateHolder{gate: build(cfg), cfg: cfg, build: build}
}

// Evaluate runs the current gate.
func (h *GateHolder) Evaluate(ctx context.Context) types.GateVerdict {
	return h.Current().Evaluate(ctx)
}

// Current returns the active gate.
func (h *GateHolder) Current() *gate.Gate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gate
}

// Config returns the active gate configuration.
func (h *GateHolder) Config() types.GateConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload rebuilds the gate with new thresholds and degraded handling. Feed
// names and identifier sources are fixed at startup; a changed value is
// reported as false and the reload is skipped.
func (h *GateHolder) Reload(cfg types.GateConfig) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cfg.FeedA.Name != h.cfg.FeedA.Name || cfg.FeedB.Name != h.cfg.FeedB.Name || cfg.Identifiers != h.cfg.Identifiers {
		return false
	}
	h.gate = h.build(cfg)
	h.cfg = cfg
	return true
}
