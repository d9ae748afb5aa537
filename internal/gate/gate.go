// Package gate implements the freshness gate: a verdict over the row counts
// and age of two feeds, published as a time-boxed flag.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dwsmith1983/muse/internal/metrics"
	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/internal/telemetry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// WatcherRunsTable receives one record per evaluation.
const WatcherRunsTable = "watcher_runs"

const (
	defaultThresholdA = 300 * time.Second
	defaultThresholdB = 5400 * time.Second
)

// Options configures a Gate. Zero values select defaults.
type Options struct {
	// ReadPolicy retries identifier and freshness reads. Defaults to a
	// single attempt.
	ReadPolicy *retry.Policy

	// Sink and SinkPolicy receive the watcher_runs record. A nil Sink skips it.
	Sink       provider.DurableSink
	SinkPolicy *retry.Policy

	Telemetry *telemetry.Emitter
	Logger    *slog.Logger
	Now       func() time.Time
}

// Gate evaluates feed freshness and maintains the gate flag.
type Gate struct {
	feeds         provider.FeedQuerier
	flag          provider.FlagStore
	feedA, feedB  string
	thresholdA    time.Duration
	thresholdB    time.Duration
	allowDegraded bool

	readPolicy *retry.Policy
	sink       provider.DurableSink
	sinkPolicy *retry.Policy
	emitter    *telemetry.Emitter
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Gate over both configured feeds.
func New(feeds provider.FeedQuerier, flag provider.FlagStore, cfg types.GateConfig, opts Options) *Gate {
	g := &Gate{
		feeds:         feeds,
		flag:          flag,
		feedA:         cfg.FeedA.Name,
		feedB:         cfg.FeedB.Name,
		thresholdA:    parseDuration(cfg.FeedA.MaxLag, defaultThresholdA),
		thresholdB:    parseDuration(cfg.FeedB.MaxLag, defaultThresholdB),
		allowDegraded: cfg.AllowDegraded,
		readPolicy:    opts.ReadPolicy,
		sink:          opts.Sink,
		sinkPolicy:    opts.SinkPolicy,
		emitter:       opts.Telemetry,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if g.readPolicy == nil {
		g.readPolicy = &retry.Policy{Name: "gate-read", MaxAttempts: 1}
	}
	if g.sinkPolicy == nil {
		g.sinkPolicy = retry.Durable(nil)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Thresholds returns the lag thresholds of feed A and feed B.
func (g *Gate) Thresholds() (time.Duration, time.Duration) {
	return g.thresholdA, g.thresholdB
}

// Evaluate computes a verdict and writes or clears the flag accordingly.
// Failures become verdict states, never errors.
func (g *Gate) Evaluate(ctx context.Context) types.GateVerdict {
	v := g.verdict(ctx)
	metrics.GateEvaluations.Add(1)

	if v.State.Passes() {
		if err := g.writeFlag(ctx, v.EvaluatedAt); err != nil {
			metrics.FlagWriteErrors.Add(1)
			g.logger.Error("failed to write gate flag", "state", v.State, "error", err)
		}
	} else {
		metrics.GateFailures.Add(1)
		if err := g.clearFlag(ctx); err != nil {
			metrics.FlagWriteErrors.Add(1)
			g.logger.Error("failed to clear gate flag", "state", v.State, "error", err)
		}
	}

	g.logger.Info("gate evaluated",
		"state", v.State,
		"feedARows", v.FeedARows,
		"feedBRows", v.FeedBRows,
		"lagSeconds", v.LagSeconds,
		"reason", v.Reason,
	)

	g.record(ctx, v)
	g.emit(ctx, v)
	return v
}

func (g *Gate) verdict(ctx context.Context) types.GateVerdict {
	now := g.now().UTC()
	v := types.GateVerdict{EvaluatedAt: now, LagSeconds: types.SentinelLagSeconds}

	idA, rowsA, seenA, err := g.observe(ctx, g.feedA)
	if err != nil {
		return g.failed(v, err)
	}
	idB, rowsB, seenB, err := g.observe(ctx, g.feedB)
	if err != nil {
		return g.failed(v, err)
	}
	v.FeedAIdentifier, v.FeedBIdentifier = idA, idB

	v.FeedARows, v.FeedBRows = rowsA, rowsB
	v.LagSeconds = Lag(now, seenA, seenB)
	v.State, v.Reason = Classify(rowsA, rowsB, v.LagSeconds,
		int64(g.thresholdA/time.Second), int64(g.thresholdB/time.Second), g.allowDegraded)
	return v
}

// observe resolves a feed's identifier and counts its rows. A feed without
// any identifier has no data yet and reports zero rows.
func (g *Gate) observe(ctx context.Context, feed string) (string, int, time.Time, error) {
	id, err := g.identifier(ctx, feed)
	if errors.Is(err, provider.ErrNoIdentifier) {
		return "", 0, time.Time{}, nil
	}
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("feed %s identifier: %w", feed, err)
	}
	rows, seen, err := g.freshness(ctx, feed, id)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("feed %s freshness: %w", feed, err)
	}
	return id, rows, seen, nil
}

// failed turns an identifier or query failure into DEGRADED or ERROR. Row
// counts stay zero and the lag stays at the sentinel.
func (g *Gate) failed(v types.GateVerdict, err error) types.GateVerdict {
	v.FeedAIdentifier, v.FeedBIdentifier = "", ""
	v.FeedARows, v.FeedBRows = 0, 0
	v.LagSeconds = types.SentinelLagSeconds
	v.Reason = err.Error()
	if g.allowDegraded {
		v.State = types.GateDegraded
	} else {
		v.State = types.GateError
	}
	return v
}

func (g *Gate) identifier(ctx context.Context, feed string) (string, error) {
	return retry.Retry(ctx, g.readPolicy, "identifier:"+feed, func(ctx context.Context) (string, error) {
		return g.feeds.LatestIdentifier(ctx, feed)
	})
}

type freshnessResult struct {
	rows     int
	lastSeen time.Time
}

func (g *Gate) freshness(ctx context.Context, feed, id string) (int, time.Time, error) {
	r, err := retry.Retry(ctx, g.readPolicy, "freshness:"+feed, func(ctx context.Context) (freshnessResult, error) {
		rows, seen, err := g.feeds.RowCountAndLastSeen(ctx, feed, id)
		return freshnessResult{rows: rows, lastSeen: seen}, err
	})
	return r.rows, r.lastSeen, err
}

func (g *Gate) writeFlag(ctx context.Context, at time.Time) error {
	_, err := retry.Retry(ctx, g.readPolicy, "flag:write", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.flag.Write(ctx, at)
	})
	return err
}

func (g *Gate) clearFlag(ctx context.Context) error {
	_, err := retry.Retry(ctx, g.readPolicy, "flag:clear", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.flag.Clear(ctx)
	})
	return err
}

// record appends the watcher_runs row. Exhausted inserts are dead-lettered by
// the sink policy; the verdict is unaffected.
func (g *Gate) record(ctx context.Context, v types.GateVerdict) {
	if g.sink == nil {
		return
	}
	rec := map[string]interface{}{
		"ts":                v.EvaluatedAt,
		"state":             string(v.State),
		"feed_a":            g.feedA,
		"feed_b":            g.feedB,
		"feed_a_identifier": v.FeedAIdentifier,
		"feed_b_identifier": v.FeedBIdentifier,
		"feed_a_rows":       v.FeedARows,
		"feed_b_rows":       v.FeedBRows,
		"lag_seconds":       v.LagSeconds,
		"metric":            float64(v.LagSeconds),
		"reason":            v.Reason,
	}
	err := retry.Exec(ctx, g.sinkPolicy, "insert:"+WatcherRunsTable, rec, func(ctx context.Context) error {
		return g.sink.Insert(ctx, WatcherRunsTable, rec)
	})
	if err != nil {
		g.logger.Warn("failed to record watcher run", "error", err)
	}
}

func (g *Gate) emit(ctx context.Context, v types.GateVerdict) {
	if g.emitter == nil {
		return
	}
	tags := map[string]string{"state": string(v.State)}
	if v.State.Passes() {
		g.emitter.Count(ctx, "watcher.success", tags)
	} else {
		g.emitter.Count(ctx, "watcher.failure", tags)
	}
	g.emitter.Emit(ctx, "watcher.lag_seconds", float64(v.LagSeconds), nil)
	g.emitter.Emit(ctx, "watcher.rows", float64(v.FeedARows), map[string]string{"feed": g.feedA})
	g.emitter.Emit(ctx, "watcher.rows", float64(v.FeedBRows), map[string]string{"feed": g.feedB})
}

// Lag is the age in seconds of the newest row across both feeds, capped at
// types.SentinelLagSeconds. Zero timestamps count as the Unix epoch.
func Lag(now, lastSeenA, lastSeenB time.Time) int64 {
	epoch := time.Unix(0, 0).UTC()
	if lastSeenA.IsZero() {
		lastSeenA = epoch
	}
	if lastSeenB.IsZero() {
		lastSeenB = epoch
	}
	newest := lastSeenA
	if lastSeenB.After(newest) {
		newest = lastSeenB
	}
	lag := int64(now.Sub(newest) / time.Second)
	if lag > types.SentinelLagSeconds {
		return types.SentinelLagSeconds
	}
	if lag < 0 {
		return 0
	}
	return lag
}

// Classify maps row counts and lag onto a gate state. Lag only fails the
// gate when it exceeds both thresholds.
func Classify(rowsA, rowsB int, lagSeconds, thresholdA, thresholdB int64, allowDegraded bool) (types.GateState, string) {
	switch {
	case rowsA == 0:
		if allowDegraded {
			return types.GateDegraded, "feed A has no rows for its latest identifier"
		}
		return types.GateMissingFeedA, "feed A has no rows for its latest identifier"
	case rowsB == 0:
		if allowDegraded {
			return types.GateDegraded, "feed B has no rows for its latest identifier"
		}
		return types.GateMissingFeedB, "feed B has no rows for its latest identifier"
	case lagSeconds > thresholdA && lagSeconds > thresholdB:
		return types.GateLagExceeded, "lag " + strconv.FormatInt(lagSeconds, 10) + "s exceeds both thresholds"
	default:
		return types.GateValid, ""
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
