package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/internal/telemetry"
	"github.com/dwsmith1983/muse/internal/testutil"
	"github.com/dwsmith1983/muse/pkg/types"
)

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

var testCfg = types.GateConfig{
	FeedA: types.FeedConfig{Name: "hearts"},
	FeedB: types.FeedConfig{Name: "packs"},
}

func instant(p *retry.Policy) *retry.Policy {
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func healthyFeeds(lag time.Duration) *testutil.MockFeeds {
	return testutil.NewMockFeeds(map[string]testutil.FeedState{
		"hearts": {Identifier: "sha-a", Rows: 12, LastSeen: testNow.Add(-lag)},
		"packs":  {Identifier: "sha-b", Rows: 40, LastSeen: testNow.Add(-lag - time.Hour)},
	})
}

func newGate(feeds *testutil.MockFeeds, flag *testutil.MockFlagStore, cfg types.GateConfig, opts Options) *Gate {
	opts.Now = func() time.Time { return testNow }
	return New(feeds, flag, cfg, opts)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		rowsA, rowsB  int
		lag           int64
		allowDegraded bool
		want          types.GateState
	}{
		{"valid", 10, 10, 100, false, types.GateValid},
		{"single threshold breach is valid", 10, 10, 1000, false, types.GateValid},
		{"lag equal to larger threshold", 10, 10, 5400, false, types.GateValid},
		{"lag exceeds both", 10, 10, 5401, false, types.GateLagExceeded},
		{"lag exceeds both even when degraded allowed", 10, 10, 6000, true, types.GateLagExceeded},
		{"missing A", 0, 10, 0, false, types.GateMissingFeedA},
		{"missing A degraded", 0, 10, 0, true, types.GateDegraded},
		{"missing B", 10, 0, 0, false, types.GateMissingFeedB},
		{"missing B degraded", 10, 0, 0, true, types.GateDegraded},
		{"missing both reports A first", 0, 0, 0, false, types.GateMissingFeedA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.rowsA, tt.rowsB, tt.lag, 300, 5400, tt.allowDegraded)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLag(t *testing.T) {
	assert.Equal(t, int64(60), Lag(testNow, testNow.Add(-time.Minute), testNow.Add(-time.Hour)))
	assert.Equal(t, int64(60), Lag(testNow, testNow.Add(-time.Hour), testNow.Add(-time.Minute)))
	assert.Equal(t, int64(120), Lag(testNow, time.Time{}, testNow.Add(-2*time.Minute)))
	assert.Equal(t, types.SentinelLagSeconds, Lag(testNow, time.Time{}, time.Time{}))
	assert.Equal(t, int64(0), Lag(testNow, testNow.Add(time.Minute), time.Time{}))
}

func TestEvaluate_ValidWritesFlag(t *testing.T) {
	flag := testutil.NewMockFlagStore()
	v := newGate(healthyFeeds(1000*time.Second), flag, testCfg, Options{}).Evaluate(context.Background())

	assert.Equal(t, types.GateValid, v.State)
	assert.Equal(t, int64(1000), v.LagSeconds)
	assert.Equal(t, "sha-a", v.FeedAIdentifier)
	assert.Equal(t, "sha-b", v.FeedBIdentifier)
	assert.Equal(t, 12, v.FeedARows)
	assert.Equal(t, 40, v.FeedBRows)
	assert.True(t, flag.Present())

	writtenAt, _, _ := flag.Read(context.Background())
	assert.True(t, testNow.Equal(writtenAt))
}

func TestEvaluate_LagExceededClearsFlag(t *testing.T) {
	flag := testutil.NewMockFlagStore()
	require.NoError(t, flag.Write(context.Background(), testNow.Add(-time.Minute)))

	v := newGate(healthyFeeds(2*time.Hour), flag, testCfg, Options{}).Evaluate(context.Background())
	assert.Equal(t, types.GateLagExceeded, v.State)
	assert.False(t, flag.Present())
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	cfg := testCfg
	cfg.FeedA.MaxLag = "1m"
	cfg.FeedB.MaxLag = "2m"
	g := newGate(healthyFeeds(5*time.Minute), testutil.NewMockFlagStore(), cfg, Options{})

	a, b := g.Thresholds()
	assert.Equal(t, time.Minute, a)
	assert.Equal(t, 2*time.Minute, b)
	assert.Equal(t, types.GateLagExceeded, g.Evaluate(context.Background()).State)
}

func TestEvaluate_MissingFeedA(t *testing.T) {
	feeds := healthyFeeds(time.Minute)
	st := feeds.Feeds["hearts"]
	st.Rows = 0
	feeds.Feeds["hearts"] = st

	flag := testutil.NewMockFlagStore()
	v := newGate(feeds, flag, testCfg, Options{}).Evaluate(context.Background())
	assert.Equal(t, types.GateMissingFeedA, v.State)
	assert.False(t, flag.Present())

	cfg := testCfg
	cfg.AllowDegraded = true
	v = newGate(feeds, flag, cfg, Options{}).Evaluate(context.Background())
	assert.Equal(t, types.GateDegraded, v.State)
	assert.True(t, flag.Present())
}

func TestEvaluate_FeedWithoutIdentifierIsMissing(t *testing.T) {
	tests := []struct {
		name    string
		present string
		want    types.GateState
	}{
		{"feed A absent", "packs", types.GateMissingFeedA},
		{"feed B absent", "hearts", types.GateMissingFeedB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := healthyFeeds(time.Minute)
			feeds := testutil.NewMockFeeds(map[string]testutil.FeedState{tt.present: all.Feeds[tt.present]})

			flag := testutil.NewMockFlagStore()
			v := newGate(feeds, flag, testCfg, Options{}).Evaluate(context.Background())
			assert.Equal(t, tt.want, v.State)
			assert.NotContains(t, v.Reason, "identifier")
			assert.False(t, flag.Present())

			cfg := testCfg
			cfg.AllowDegraded = true
			v = newGate(feeds, flag, cfg, Options{}).Evaluate(context.Background())
			assert.Equal(t, types.GateDegraded, v.State)
			assert.True(t, flag.Present())
		})
	}
}

func TestEvaluate_IdentifierFailure(t *testing.T) {
	feeds := healthyFeeds(time.Minute)
	st := feeds.Feeds["packs"]
	st.IDErr = errors.New("git: not a repository")
	feeds.Feeds["packs"] = st

	v := newGate(feeds, testutil.NewMockFlagStore(), testCfg, Options{}).Evaluate(context.Background())
	assert.Equal(t, types.GateError, v.State)
	assert.Contains(t, v.Reason, "not a repository")
	assert.Equal(t, types.SentinelLagSeconds, v.LagSeconds)

	cfg := testCfg
	cfg.AllowDegraded = true
	v = newGate(feeds, testutil.NewMockFlagStore(), cfg, Options{}).Evaluate(context.Background())
	assert.Equal(t, types.GateDegraded, v.State)
	assert.Equal(t, 0, v.FeedARows)
	assert.Equal(t, 0, v.FeedBRows)
	assert.Equal(t, types.SentinelLagSeconds, v.LagSeconds)
	assert.Empty(t, v.FeedAIdentifier)
}

func TestEvaluate_QueryFailureRetriedThenDegraded(t *testing.T) {
	feeds := healthyFeeds(time.Minute)
	st := feeds.Feeds["hearts"]
	st.QueryErr = retry.Transient(errors.New("connection reset"))
	feeds.Feeds["hearts"] = st

	cfg := testCfg
	cfg.AllowDegraded = true
	g := newGate(feeds, testutil.NewMockFlagStore(), cfg, Options{ReadPolicy: instant(retry.Durable(nil))})
	v := g.Evaluate(context.Background())
	assert.Equal(t, types.GateDegraded, v.State)
	assert.Contains(t, v.Reason, "3 attempt(s)")
}

func TestEvaluate_FlagWriteFailureKeepsVerdict(t *testing.T) {
	flag := testutil.NewMockFlagStore()
	flag.WriteErr = errors.New("disk full")
	v := newGate(healthyFeeds(time.Minute), flag, testCfg, Options{}).Evaluate(context.Background())
	assert.Equal(t, types.GateValid, v.State)
	assert.False(t, flag.Present())
}

func TestEvaluate_RecordsWatcherRun(t *testing.T) {
	sink := &testutil.MockSink{}
	g := newGate(healthyFeeds(time.Minute), testutil.NewMockFlagStore(), testCfg, Options{Sink: sink})
	g.Evaluate(context.Background())

	recs := sink.Records(WatcherRunsTable)
	require.Len(t, recs, 1)
	assert.Equal(t, "VALID", recs[0].Data["state"])
	assert.Equal(t, int64(60), recs[0].Data["lag_seconds"])
	assert.Equal(t, "sha-a", recs[0].Data["feed_a_identifier"])
}

func TestEvaluate_WatcherRunDeadLettered(t *testing.T) {
	dlqStore := testutil.NewMockDLQStore()
	rec := recorderFunc(func(_ context.Context, op string, payload map[string]interface{}, err error) {
		_ = dlqStore.Put(context.Background(), types.DLQEntry{ID: op, Operation: op, Payload: payload, ErrorMessage: err.Error()})
	})
	sink := &testutil.MockSink{InsertFn: func(context.Context, string, map[string]interface{}) error {
		return retry.Transient(errors.New("connection refused"))
	}}

	g := newGate(healthyFeeds(time.Minute), testutil.NewMockFlagStore(), testCfg, Options{
		Sink:       sink,
		SinkPolicy: instant(retry.Durable(rec)),
	})
	v := g.Evaluate(context.Background())

	assert.Equal(t, types.GateValid, v.State)
	entries := dlqStore.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "insert:watcher_runs", entries[0].Operation)
}

type recorderFunc func(ctx context.Context, op string, payload map[string]interface{}, err error)

func (f recorderFunc) Record(ctx context.Context, op string, payload map[string]interface{}, err error) {
	f(ctx, op, payload, err)
}

type countingSink struct {
	success, failure, gauges atomic.Int32
}

func (s *countingSink) Emit(_ context.Context, name string, _ float64, _ map[string]string) error {
	switch name {
	case "watcher.success":
		s.success.Add(1)
	case "watcher.failure":
		s.failure.Add(1)
	default:
		s.gauges.Add(1)
	}
	return nil
}

func TestEvaluate_EmitsTelemetry(t *testing.T) {
	cs := &countingSink{}
	em := telemetry.NewEmitter(cs, instant(retry.BestEffort()))

	newGate(healthyFeeds(time.Minute), testutil.NewMockFlagStore(), testCfg, Options{Telemetry: em}).Evaluate(context.Background())
	newGate(healthyFeeds(3*time.Hour), testutil.NewMockFlagStore(), testCfg, Options{Telemetry: em}).Evaluate(context.Background())

	assert.Equal(t, int32(1), cs.success.Load())
	assert.Equal(t, int32(1), cs.failure.Load())
	assert.Equal(t, int32(6), cs.gauges.Load())
}

func TestEvaluate_TelemetryFailureIgnored(t *testing.T) {
	sink := telemetrySinkFunc(func(context.Context, string, float64, map[string]string) error {
		return errors.New("statsd unreachable")
	})
	em := telemetry.NewEmitter(sink, instant(retry.BestEffort()))

	v := newGate(healthyFeeds(time.Minute), testutil.NewMockFlagStore(), testCfg, Options{Telemetry: em}).Evaluate(context.Background())
	assert.Equal(t, types.GateValid, v.State)
}

type telemetrySinkFunc func(ctx context.Context, name string, value float64, tags map[string]string) error

func (f telemetrySinkFunc) Emit(ctx context.Context, name string, value float64, tags map[string]string) error {
	return f(ctx, name, value, tags)
}
