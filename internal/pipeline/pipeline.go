// Package pipeline runs the fixed gate, ingest, score, publish and translate
// sequence and produces a RunReport.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/muse/internal/backend"
	"github.com/dwsmith1983/muse/internal/collect"
	"github.com/dwsmith1983/muse/internal/confidence"
	"github.com/dwsmith1983/muse/internal/gate"
	"github.com/dwsmith1983/muse/internal/metrics"
	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/internal/telemetry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// RunsTable is the durable sink table receiving one row per run.
const RunsTable = "pipeline_runs"

// DefaultTimeout bounds a whole run when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

// Gater evaluates the freshness gate.
type Gater interface {
	Evaluate(ctx context.Context) types.GateVerdict
}

// Ingester loads one feed's records into the durable sink.
type Ingester interface {
	Ingest(ctx context.Context) (collect.Summary, error)
}

// WindowReader reads the joined daily correlation window.
type WindowReader interface {
	CorrelationWindow(ctx context.Context, days int) (types.CorrelationWindow, error)
}

// Scorer computes confidence over a window.
type Scorer interface {
	Compute(window types.CorrelationWindow) types.ConfidenceResult
	LookbackDays() int
}

// Publisher sends a scored artifact to the publish backend.
type Publisher interface {
	Publish(ctx context.Context, req backend.PublishRequest) (backend.PublishResult, error)
}

// Translator translates a published episode into the configured languages.
type Translator interface {
	Translate(ctx context.Context, runID, episodeID string) (map[string]string, error)
}

// Deps are the stage collaborators of an Orchestrator.
type Deps struct {
	Gate       Gater
	IngestA    Ingester
	IngestB    Ingester
	Flag       provider.FlagStore
	FlagTTL    time.Duration
	Window     WindowReader
	Scorer     Scorer
	Publisher  Publisher
	Translator Translator // optional

	// Sink receives the run report row; nil disables persistence.
	Sink       provider.DurableSink
	SinkPolicy *retry.Policy

	// Alert receives the run summary; nil disables notifications.
	Alert func(ctx context.Context, a types.Alert)
}

// Options tunes an Orchestrator.
type Options struct {
	// Timeout bounds a whole run. When it fires the running stage is recorded
	// FAILED straight away and the run stops, but the stage call is not
	// abandoned mid-flight: it keeps running until it observes its cancelled
	// context. The HTTP and Lambda invokers abort their in-flight request on
	// cancellation. A stage that ignores ctx may still finish its side effect
	// after the report says FAILED.
	Timeout   time.Duration
	Telemetry *telemetry.Emitter
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Now       func() time.Time
	NewRunID  func() string
}

// Orchestrator executes pipeline runs. Stages of one run are strictly
// sequential; separate runs may execute concurrently.
type Orchestrator struct {
	deps      Deps
	timeout   time.Duration
	emitter   *telemetry.Emitter
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() string
	stageList []stage
}

// stage is one step of a run. A critical stage that fails stops the run.
type stage struct {
	name     types.StageName
	critical bool
	run      func(ctx context.Context, st *runState) (map[string]interface{}, error)
}

// runState carries stage outputs forward within one run.
type runState struct {
	runID     string
	verdict   types.GateVerdict
	result    types.ConfidenceResult
	episodeID string
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	o := &Orchestrator{
		deps:     deps,
		timeout:  opts.Timeout,
		emitter:  opts.Telemetry,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		now:      opts.Now,
		newRunID: opts.NewRunID,
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	if o.deps.SinkPolicy == nil {
		o.deps.SinkPolicy = retry.Durable(nil)
	}
	if o.deps.FlagTTL <= 0 {
		o.deps.FlagTTL = gate.DefaultFlagTTL
	}
	o.stageList = []stage{
		{types.StageGate, true, o.runGate},
		{types.StageIngestA, false, o.ingest(deps.IngestA)},
		{types.StageIngestB, false, o.ingest(deps.IngestB)},
		{types.StageScore, true, o.runScore},
		{types.StagePublish, true, o.runPublish},
		{types.StageTranslate, false, o.runTranslate},
	}
	return o
}

// Run executes one full run. It never returns an error: stage failures,
// panics and the run timeout are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context) types.RunReport {
	report := types.RunReport{RunID: o.newRunID(), StartedAt: o.now().UTC()}
	logger := o.logger.With("runId", report.RunID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("muse.run_id", report.RunID)))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	st := &runState{runID: report.RunID}
	logger.Info("pipeline run started", "timeout", o.timeout)

	for _, s := range o.stageList {
		res, err := o.execute(runCtx, s, st)
		report.Stages = append(report.Stages, res)

		if err == nil {
			continue
		}
		metrics.StagesFailed.Add(1)
		logger.Warn("stage failed", "stage", s.name, "detail", res.Detail)

		if errors.Is(err, errStageTimeout) {
			metrics.StageTimeouts.Add(1)
			report.StoppedEarly = true
			report.StopReason = fmt.Sprintf("%s: %s", s.name, res.Detail)
			break
		}
		if s.critical {
			report.StoppedEarly = true
			report.StopReason = fmt.Sprintf("%s failed: %s", s.name, res.Detail)
			break
		}
	}
	report.FinishedAt = o.now().UTC()

	metrics.RunsTotal.Add(1)
	if report.StoppedEarly {
		metrics.RunsStoppedEarly.Add(1)
		span.SetStatus(codes.Error, report.StopReason)
	}
	span.SetAttributes(attribute.Bool("muse.stopped_early", report.StoppedEarly))

	logger.Info("pipeline run finished",
		"stages", len(report.Stages),
		"stoppedEarly", report.StoppedEarly,
		"stopReason", report.StopReason,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)

	// post-run bookkeeping uses the caller's context, not the expired run deadline
	o.persist(ctx, report)
	o.notify(ctx, report)
	o.emit(ctx, report)
	return report
}

var errStageTimeout = errors.New("stage timed out")

type stageOutcome struct {
	output map[string]interface{}
	err    error
}

// execute runs one stage on its own goroutine so the run deadline is honoured
// even when a stage ignores ctx.
func (o *Orchestrator) execute(ctx context.Context, s stage, st *runState) (types.StageResult, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+string(s.name))
	defer span.End()

	started := o.now().UTC()
	res := types.StageResult{Stage: s.name, StartedAt: started}

	if ctx.Err() != nil {
		err := o.timeoutErr(ctx)
		res.Status = types.StageFailed
		res.Detail = err.Error()
		span.SetStatus(codes.Error, res.Detail)
		return res, err
	}

	done := make(chan stageOutcome, 1)
	go func() {
		var out stageOutcome
		defer func() {
			if r := recover(); r != nil {
				out = stageOutcome{err: fmt.Errorf("stage panicked: %v", r)}
			}
			done <- out
		}()
		out.output, out.err = s.run(ctx, st)
	}()

	var err error
	select {
	case out := <-done:
		res.Output = out.output
		err = out.err
		if err != nil && ctx.Err() != nil {
			err = o.timeoutErr(ctx)
		}
	case <-ctx.Done():
		err = o.timeoutErr(ctx)
	}
	res.Duration = o.now().Sub(started)

	if err != nil {
		res.Status = types.StageFailed
		res.Detail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Detail)
		return res, err
	}
	res.Status = types.StageSucceeded
	return res, nil
}

func (o *Orchestrator) timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", errStageTimeout, o.timeout)
	}
	return fmt.Errorf("%w: run cancelled", errStageTimeout)
}

func (o *Orchestrator) runGate(ctx context.Context, st *runState) (map[string]interface{}, error) {
	v := o.deps.Gate.Evaluate(ctx)
	st.verdict = v
	out := map[string]interface{}{
		"state":      string(v.State),
		"feedARows":  v.FeedARows,
		"feedBRows":  v.FeedBRows,
		"lagSeconds": v.LagSeconds,
	}
	if !v.State.Passes() {
		return out, fmt.Errorf("gate verdict %s: %s", v.State, v.Reason)
	}
	return out, nil
}

func (o *Orchestrator) ingest(in Ingester) func(context.Context, *runState) (map[string]interface{}, error) {
	return func(ctx context.Context, _ *runState) (map[string]interface{}, error) {
		if in == nil {
			return map[string]interface{}{"skipped": true}, nil
		}
		sum, err := in.Ingest(ctx)
		return sum.Output(), err
	}
}

func (o *Orchestrator) runScore(ctx context.Context, st *runState) (map[string]interface{}, error) {
	open, err := gate.IsOpen(ctx, o.deps.Flag, o.deps.FlagTTL, o.now())
	if err != nil {
		return nil, fmt.Errorf("checking gate flag: %w", err)
	}
	if !open {
		return nil, fmt.Errorf("gate flag is not open")
	}

	window, err := o.deps.Window.CorrelationWindow(ctx, o.deps.Scorer.LookbackDays())
	if err != nil {
		return nil, fmt.Errorf("reading correlation window: %w", err)
	}

	res := o.deps.Scorer.Compute(window)
	st.result = res
	return map[string]interface{}{
		"score":               res.Score,
		"correlationStrength": res.CorrelationStrength,
		"days":                res.Days,
		"track":               string(confidence.Route(res)),
		"status":              string(confidence.Decide(res)),
	}, nil
}

func (o *Orchestrator) runPublish(ctx context.Context, st *runState) (map[string]interface{}, error) {
	req := backend.PublishRequest{
		RunID:               st.runID,
		Track:               confidence.Route(st.result),
		Status:              confidence.Decide(st.result),
		Score:               st.result.Score,
		CorrelationStrength: st.result.CorrelationStrength,
		Breakdown:           st.result.Breakdown,
		Days:                st.result.Days,
		FeedAIdentifier:     st.verdict.FeedAIdentifier,
		FeedBIdentifier:     st.verdict.FeedBIdentifier,
	}
	res, err := o.deps.Publisher.Publish(ctx, req)
	if err != nil {
		return nil, err
	}
	st.episodeID = res.EpisodeID
	out := map[string]interface{}{"episodeId": res.EpisodeID, "status": string(req.Status)}
	if res.URL != "" {
		out["url"] = res.URL
	}
	return out, nil
}

func (o *Orchestrator) runTranslate(ctx context.Context, st *runState) (map[string]interface{}, error) {
	if o.deps.Translator == nil {
		return map[string]interface{}{"languages": 0}, nil
	}
	results, err := o.deps.Translator.Translate(ctx, st.runID, st.episodeID)
	out := make(map[string]interface{}, len(results))
	for lang, status := range results {
		out[lang] = status
	}
	return out, err
}

func (o *Orchestrator) persist(ctx context.Context, report types.RunReport) {
	if o.deps.Sink == nil {
		return
	}
	rec := reportRecord(report)
	err := retry.Exec(ctx, o.deps.SinkPolicy, "insert:"+RunsTable, rec, func(ctx context.Context) error {
		return o.deps.Sink.Insert(ctx, RunsTable, rec)
	})
	if err != nil {
		o.logger.Warn("failed to persist run report", "runId", report.RunID, "error", err)
	}
}

// reportRecord flattens a report into a sink row of JSON-friendly values.
func reportRecord(r types.RunReport) map[string]interface{} {
	stages := make([]interface{}, 0, len(r.Stages))
	for _, s := range r.Stages {
		row := map[string]interface{}{
			"stage":       string(s.Stage),
			"status":      string(s.Status),
			"started_at":  s.StartedAt.Format(time.RFC3339Nano),
			"duration_ms": s.Duration.Milliseconds(),
		}
		if s.Detail != "" {
			row["detail"] = s.Detail
		}
		stages = append(stages, row)
	}
	return map[string]interface{}{
		"run_id":        r.RunID,
		"ts":            r.StartedAt.Format(time.RFC3339Nano),
		"finished_at":   r.FinishedAt.Format(time.RFC3339Nano),
		"stopped_early": r.StoppedEarly,
		"stop_reason":   r.StopReason,
		"stages":        stages,
	}
}

func (o *Orchestrator) notify(ctx context.Context, report types.RunReport) {
	if o.deps.Alert == nil {
		return
	}
	o.deps.Alert(ctx, SummaryAlert(report))
}

// SummaryAlert builds the notification for a finished run: error when the run
// stopped early, warning when a non-critical stage failed, info otherwise.
func SummaryAlert(r types.RunReport) types.Alert {
	a := types.Alert{
		RunID:     r.RunID,
		Timestamp: r.FinishedAt,
		Details: map[string]interface{}{
			"stages":       len(r.Stages),
			"stoppedEarly": r.StoppedEarly,
		},
	}
	failed := r.FailedStages()
	switch {
	case r.StoppedEarly:
		a.Level = types.AlertLevelError
		a.Message = "pipeline run stopped early: " + r.StopReason
		if len(r.Stages) > 0 {
			a.Stage = r.Stages[len(r.Stages)-1].Stage
		}
	case len(failed) > 0:
		a.Level = types.AlertLevelWarning
		a.Stage = failed[0]
		a.Message = fmt.Sprintf("pipeline run finished with %d failed stage(s)", len(failed))
	default:
		a.Level = types.AlertLevelInfo
		a.Message = "pipeline run succeeded"
	}
	if len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = string(f)
		}
		a.Details["failedStages"] = names
	}
	return a
}

func (o *Orchestrator) emit(ctx context.Context, report types.RunReport) {
	if o.emitter == nil {
		return
	}
	if report.StoppedEarly {
		o.emitter.Count(ctx, "pipeline.failure", nil)
	} else {
		o.emitter.Count(ctx, "pipeline.success", nil)
	}
	for _, s := range report.Stages {
		o.emitter.Emit(ctx, "pipeline.stage.duration_seconds", s.Duration.Seconds(), map[string]string{
			"stage":  string(s.Stage),
			"status": string(s.Status),
		})
	}
}
