package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/muse/internal/backend"
	"github.com/dwsmith1983/muse/internal/collect"
	"github.com/dwsmith1983/muse/internal/confidence"
	"github.com/dwsmith1983/muse/internal/gate"
	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/internal/telemetry"
	"github.com/dwsmith1983/muse/internal/testutil"
	"github.com/dwsmith1983/muse/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type mockIngester struct {
	ingestFn func(ctx context.Context) (collect.Summary, error)
}

func (m *mockIngester) Ingest(ctx context.Context) (collect.Summary, error) {
	return m.ingestFn(ctx)
}

func okIngester(n int) *mockIngester {
	return &mockIngester{ingestFn: func(context.Context) (collect.Summary, error) {
		return collect.Summary{Collected: n, Inserted: n}, nil
	}}
}

func failingIngester() *mockIngester {
	return &mockIngester{ingestFn: func(context.Context) (collect.Summary, error) {
		return collect.Summary{Collected: 2, Failed: 2}, errors.New("sink unavailable")
	}}
}

type mockPublisher struct {
	mu        sync.Mutex
	requests  []backend.PublishRequest
	publishFn func(ctx context.Context, req backend.PublishRequest) (backend.PublishResult, error)
}

func (m *mockPublisher) Publish(ctx context.Context, req backend.PublishRequest) (backend.PublishResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, req)
	}
	return backend.PublishResult{EpisodeID: "ep-" + req.RunID, URL: "https://example.test/ep"}, nil
}

type mockTranslator struct {
	calls       int
	translateFn func(ctx context.Context, runID, episodeID string) (map[string]string, error)
}

func (m *mockTranslator) Translate(ctx context.Context, runID, episodeID string) (map[string]string, error) {
	m.calls++
	if m.translateFn != nil {
		return m.translateFn(ctx, runID, episodeID)
	}
	return map[string]string{"de": "ok", "es": "ok"}, nil
}

func strongWindow() types.CorrelationWindow {
	var w types.CorrelationWindow
	for i := 0; i < 7; i++ {
		w = append(w, types.CorrelationDay{
			Day:         testutil.Day(2026, time.March, 8-i),
			FeedARows:   20,
			FeedBRows:   20,
			Correlation: testutil.Float(0.9),
		})
	}
	return w
}

type harness struct {
	feeds      *testutil.MockFeeds
	flag       *testutil.MockFlagStore
	sink       *testutil.MockSink
	publisher  *mockPublisher
	translator *mockTranslator
	alerts     []types.Alert
	deps       Deps
	opts       Options
}

func newHarness(gateCfg types.GateConfig) *harness {
	h := &harness{
		feeds: testutil.NewMockFeeds(map[string]testutil.FeedState{
			"hearts": {Identifier: "sha-a", Rows: 12, LastSeen: testNow.Add(-time.Minute)},
			"packs":  {Identifier: "sha-b", Rows: 40, LastSeen: testNow.Add(-time.Hour)},
		}),
		flag:       testutil.NewMockFlagStore(),
		sink:       &testutil.MockSink{},
		publisher:  &mockPublisher{},
		translator: &mockTranslator{},
	}
	h.feeds.Window = strongWindow()
	gateCfg.FeedA.Name = "hearts"
	gateCfg.FeedB.Name = "packs"

	h.deps = Deps{
		Gate:       gate.New(h.feeds, h.flag, gateCfg, gate.Options{Now: clock}),
		IngestA:    okIngester(3),
		IngestB:    okIngester(5),
		Flag:       h.flag,
		Window:     h.feeds,
		Scorer:     confidence.New(types.ScoringConfig{}, confidence.Options{Now: clock}),
		Publisher:  h.publisher,
		Translator: h.translator,
		Sink:       h.sink,
		SinkPolicy: instant(retry.Durable(nil)),
		Alert:      func(_ context.Context, a types.Alert) { h.alerts = append(h.alerts, a) },
	}
	h.opts = Options{Now: clock, NewRunID: func() string { return "run-1" }}
	return h
}

func instant(p *retry.Policy) *retry.Policy {
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func (h *harness) run(t *testing.T) types.RunReport {
	t.Helper()
	return New(h.deps, h.opts).Run(context.Background())
}

func TestRun_AllStagesSucceed(t *testing.T) {
	h := newHarness(types.GateConfig{})
	report := h.run(t)

	assert.Equal(t, "run-1", report.RunID)
	assert.False(t, report.StoppedEarly)
	assert.True(t, report.Succeeded())
	assert.Equal(t, types.StageOrder, testutil.StageNames(report))
	for _, s := range report.Stages {
		assert.Equal(t, types.StageSucceeded, s.Status, "stage %s: %s", s.Stage, s.Detail)
	}

	score := testutil.RequireStage(t, report, types.StageScore, types.StageSucceeded)
	assert.InDelta(t, 0.9, score.Output["score"], 1e-9)
	assert.Equal(t, string(types.TrackHighSignal), score.Output["track"])
	assert.Equal(t, string(types.EpisodePublished), score.Output["status"])

	require.Len(t, h.publisher.requests, 1)
	req := h.publisher.requests[0]
	assert.Equal(t, "run-1", req.RunID)
	assert.Equal(t, "sha-a", req.FeedAIdentifier)
	assert.Equal(t, "sha-b", req.FeedBIdentifier)
	assert.Equal(t, 1, h.translator.calls)

	runs := h.sink.Records(RunsTable)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].Data["run_id"])
	assert.Equal(t, false, runs[0].Data["stopped_early"])

	require.Len(t, h.alerts, 1)
	assert.Equal(t, types.AlertLevelInfo, h.alerts[0].Level)
}

func TestRun_MissingFeedAStopsAtGate(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.feeds.Feeds["hearts"] = testutil.FeedState{Identifier: "sha-a", Rows: 0}

	report := h.run(t)

	assert.True(t, report.StoppedEarly)
	assert.Equal(t, []types.StageName{types.StageGate}, testutil.StageNames(report))
	g := testutil.RequireStage(t, report, types.StageGate, types.StageFailed)
	assert.Equal(t, string(types.GateMissingFeedA), g.Output["state"])
	assert.Contains(t, report.StopReason, "gate")
	assert.Empty(t, h.publisher.requests)
	assert.False(t, h.flag.Present())

	require.Len(t, h.alerts, 1)
	assert.Equal(t, types.AlertLevelError, h.alerts[0].Level)
	assert.Equal(t, types.StageGate, h.alerts[0].Stage)
}

func TestRun_FeedWithNoIdentifierStopsAtGate(t *testing.T) {
	h := newHarness(types.GateConfig{})
	// An empty feed table has no newest row to take an identifier from.
	delete(h.feeds.Feeds, "hearts")

	report := h.run(t)

	assert.True(t, report.StoppedEarly)
	g := testutil.RequireStage(t, report, types.StageGate, types.StageFailed)
	assert.Equal(t, string(types.GateMissingFeedA), g.Output["state"])
	assert.Equal(t, 0, g.Output["feedARows"])
	assert.Equal(t, 40, g.Output["feedBRows"])

	h = newHarness(types.GateConfig{AllowDegraded: true})
	delete(h.feeds.Feeds, "hearts")
	report = h.run(t)
	assert.False(t, report.StoppedEarly)
	g = testutil.RequireStage(t, report, types.StageGate, types.StageSucceeded)
	assert.Equal(t, string(types.GateDegraded), g.Output["state"])
}

func TestRun_MissingFeedADegradedContinues(t *testing.T) {
	h := newHarness(types.GateConfig{AllowDegraded: true})
	h.feeds.Feeds["hearts"] = testutil.FeedState{Identifier: "sha-a", Rows: 0}

	report := h.run(t)
	assert.False(t, report.StoppedEarly)
	g := testutil.RequireStage(t, report, types.StageGate, types.StageSucceeded)
	assert.Equal(t, string(types.GateDegraded), g.Output["state"])
	assert.Len(t, report.Stages, len(types.StageOrder))
}

func TestRun_IngestFailuresAndPublishFailure(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.deps.IngestA = failingIngester()
	h.deps.IngestB = failingIngester()
	h.publisher.publishFn = func(context.Context, backend.PublishRequest) (backend.PublishResult, error) {
		return backend.PublishResult{}, errors.New("backend returned 500")
	}

	report := h.run(t)

	assert.True(t, report.StoppedEarly)
	assert.Equal(t, []types.StageName{
		types.StageGate, types.StageIngestA, types.StageIngestB, types.StageScore, types.StagePublish,
	}, testutil.StageNames(report))
	testutil.RequireStage(t, report, types.StageIngestA, types.StageFailed)
	testutil.RequireStage(t, report, types.StageIngestB, types.StageFailed)
	testutil.RequireStage(t, report, types.StageScore, types.StageSucceeded)
	testutil.RequireStage(t, report, types.StagePublish, types.StageFailed)
	assert.Equal(t, 0, h.translator.calls)
	assert.Equal(t, []types.StageName{types.StageIngestA, types.StageIngestB, types.StagePublish}, report.FailedStages())
}

func TestRun_IngestFailureAloneWarns(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.deps.IngestB = failingIngester()

	report := h.run(t)
	assert.False(t, report.StoppedEarly)
	b := testutil.RequireStage(t, report, types.StageIngestB, types.StageFailed)
	assert.Equal(t, 2, b.Output["failed"])

	require.Len(t, h.alerts, 1)
	assert.Equal(t, types.AlertLevelWarning, h.alerts[0].Level)
	assert.Equal(t, types.StageIngestB, h.alerts[0].Stage)
}

func TestRun_ScoreRefusesWhenFlagNotOpen(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.flag.WriteErr = errors.New("disk full")

	report := h.run(t)
	assert.True(t, report.StoppedEarly)
	s := testutil.RequireStage(t, report, types.StageScore, types.StageFailed)
	assert.Contains(t, s.Detail, "not open")
	assert.Empty(t, h.publisher.requests)
}

func TestRun_ScoreStopsOnWindowError(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.feeds.WindowErr = errors.New("relation does not exist")

	report := h.run(t)
	assert.True(t, report.StoppedEarly)
	s := testutil.RequireStage(t, report, types.StageScore, types.StageFailed)
	assert.Contains(t, s.Detail, "relation does not exist")
	assert.Len(t, report.Stages, 4)
}

func TestRun_EmptyWindowPublishesDraft(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.feeds.Window = nil

	report := h.run(t)
	assert.False(t, report.StoppedEarly)
	require.Len(t, h.publisher.requests, 1)
	assert.Equal(t, types.EpisodeDraft, h.publisher.requests[0].Status)
	assert.Equal(t, types.TrackDefault, h.publisher.requests[0].Track)
	assert.Equal(t, 0.0, h.publisher.requests[0].Score)
}

func TestRun_TranslateFailureDoesNotStop(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.translator.translateFn = func(context.Context, string, string) (map[string]string, error) {
		return map[string]string{"de": "ok", "es": "timeout"}, errors.New("translate:es failed")
	}

	report := h.run(t)
	assert.False(t, report.StoppedEarly)
	tr := testutil.RequireStage(t, report, types.StageTranslate, types.StageFailed)
	assert.Equal(t, "ok", tr.Output["de"])
}

func TestRun_NoTranslator(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.deps.Translator = nil

	report := h.run(t)
	testutil.RequireStage(t, report, types.StageTranslate, types.StageSucceeded)
}

func TestRun_StagePanicIsRecovered(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.deps.IngestA = &mockIngester{ingestFn: func(context.Context) (collect.Summary, error) {
		panic("collector exploded")
	}}

	report := h.run(t)
	a := testutil.RequireStage(t, report, types.StageIngestA, types.StageFailed)
	assert.Contains(t, a.Detail, "collector exploded")
	assert.False(t, report.StoppedEarly)
}

func TestRun_CriticalPanicStops(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.publisher.publishFn = func(context.Context, backend.PublishRequest) (backend.PublishResult, error) {
		panic("nil response")
	}

	report := h.run(t)
	assert.True(t, report.StoppedEarly)
	testutil.RequireStage(t, report, types.StagePublish, types.StageFailed)
	assert.Equal(t, 0, h.translator.calls)
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.deps.IngestB = &mockIngester{ingestFn: func(ctx context.Context) (collect.Summary, error) {
		<-ctx.Done()
		return collect.Summary{}, ctx.Err()
	}}
	h.opts.Timeout = 50 * time.Millisecond

	report := h.run(t)

	assert.True(t, report.StoppedEarly)
	assert.Equal(t, []types.StageName{types.StageGate, types.StageIngestA, types.StageIngestB}, testutil.StageNames(report))
	b := testutil.RequireStage(t, report, types.StageIngestB, types.StageFailed)
	assert.Contains(t, b.Detail, "timed out")
	assert.Contains(t, report.StopReason, "ingestB")

	// the report is still persisted after the run deadline
	assert.Len(t, h.sink.Records(RunsTable), 1)
}

func TestRun_TimeoutCancelsInFlightPublish(t *testing.T) {
	h := newHarness(types.GateConfig{})
	observed := make(chan error, 1)
	h.publisher.publishFn = func(ctx context.Context, _ backend.PublishRequest) (backend.PublishResult, error) {
		<-ctx.Done()
		observed <- ctx.Err()
		return backend.PublishResult{}, ctx.Err()
	}
	h.opts.Timeout = 50 * time.Millisecond

	report := h.run(t)
	assert.True(t, report.StoppedEarly)
	p := testutil.RequireStage(t, report, types.StagePublish, types.StageFailed)
	assert.Contains(t, p.Detail, "timed out")
	assert.Equal(t, 0, h.translator.calls)

	select {
	case err := <-observed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("publish call never saw the run deadline")
	}
}

func TestRun_CallerCancellation(t *testing.T) {
	h := newHarness(types.GateConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	h.deps.IngestA = &mockIngester{ingestFn: func(ctx context.Context) (collect.Summary, error) {
		cancel()
		<-ctx.Done()
		return collect.Summary{}, ctx.Err()
	}}

	report := New(h.deps, h.opts).Run(ctx)
	assert.True(t, report.StoppedEarly)
	assert.Len(t, report.Stages, 2)
}

func TestRun_PersistFailureIsDeadLettered(t *testing.T) {
	h := newHarness(types.GateConfig{})
	h.sink.InsertFn = func(context.Context, string, map[string]interface{}) error {
		return retry.Transient(errors.New("connection refused"))
	}
	rec := &recordingRecorder{}
	h.deps.SinkPolicy = instant(retry.Durable(rec))

	report := h.run(t)
	assert.False(t, report.StoppedEarly)
	assert.Contains(t, rec.ops, "insert:"+RunsTable)
}

type recordingRecorder struct {
	ops []string
}

func (r *recordingRecorder) Record(_ context.Context, op string, _ map[string]interface{}, _ error) {
	r.ops = append(r.ops, op)
}

type countingSink struct {
	mu    sync.Mutex
	names []string
}

func (s *countingSink) Emit(_ context.Context, name string, _ float64, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return nil
}

func TestRun_Telemetry(t *testing.T) {
	h := newHarness(types.GateConfig{})
	sink := &countingSink{}
	h.opts.Telemetry = telemetry.NewEmitter(sink, nil)

	h.run(t)
	assert.Contains(t, sink.names, "pipeline.success")
	count := 0
	for _, n := range sink.names {
		if n == "pipeline.stage.duration_seconds" {
			count++
		}
	}
	assert.Equal(t, len(types.StageOrder), count)
}

func TestSummaryAlert(t *testing.T) {
	tests := []struct {
		name   string
		report types.RunReport
		want   types.AlertLevel
	}{
		{"clean", types.RunReport{Stages: []types.StageResult{{Stage: types.StageGate, Status: types.StageSucceeded}}}, types.AlertLevelInfo},
		{"partial", types.RunReport{Stages: []types.StageResult{{Stage: types.StageIngestA, Status: types.StageFailed}}}, types.AlertLevelWarning},
		{"stopped", types.RunReport{StoppedEarly: true, StopReason: "gate failed", Stages: []types.StageResult{{Stage: types.StageGate, Status: types.StageFailed}}}, types.AlertLevelError},
	}
	for _, tt := range tests {
		got := SummaryAlert(tt.report)
		if got.Level != tt.want {
			t.Errorf("%s: level = %s, want %s", tt.name, got.Level, tt.want)
		}
	}
}
