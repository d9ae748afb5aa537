// Package app wires configuration into a runnable muse instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/muse/internal/alert"
	"github.com/dwsmith1983/muse/internal/backend"
	"github.com/dwsmith1983/muse/internal/breaker"
	"github.com/dwsmith1983/muse/internal/collect"
	"github.com/dwsmith1983/muse/internal/confidence"
	"github.com/dwsmith1983/muse/internal/dlq"
	"github.com/dwsmith1983/muse/internal/gate"
	"github.com/dwsmith1983/muse/internal/pipeline"
	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/internal/provider/dynamodb"
	"github.com/dwsmith1983/muse/internal/provider/git"
	"github.com/dwsmith1983/muse/internal/provider/local"
	"github.com/dwsmith1983/muse/internal/provider/postgres"
	"github.com/dwsmith1983/muse/internal/provider/redis"
	"github.com/dwsmith1983/muse/internal/provider/sqs"
	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/internal/telemetry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// App holds every wired component of a muse instance.
type App struct {
	Config       *types.ProjectConfig
	Logger       *slog.Logger
	Gate         *GateHolder
	Flag         provider.FlagStore
	FlagTTL      time.Duration
	Feeds        provider.FeedQuerier
	Scorer       *confidence.Scorer
	DLQ          *dlq.Queue
	Sink         provider.DurableSink
	Publisher    *backend.Publisher
	Translator   *backend.Translator
	Alerts       *alert.Dispatcher
	Telemetry    *telemetry.Emitter
	Registry     *prometheus.Registry // set when telemetry.type is prometheus
	Orchestrator *pipeline.Orchestrator

	lifecycles []provider.Lifecycle
	providers  *telemetry.Providers
	now        func() time.Time

	mu     sync.RWMutex
	latest *types.RunReport
}

// Build connects every backend named in cfg and assembles the pipeline.
// On error, anything already opened is closed.
func Build(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, now: time.Now}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	pg, err := postgres.New(ctx, cfg.Postgres, cfg.Gate.FeedA, cfg.Gate.FeedB)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a.lifecycles = append(a.lifecycles, pg)
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating postgres: %w", err)
	}

	var (
		rds *redis.Store
		ddb *dynamodb.Store
	)
	if cfg.Flag.Type == "redis" || cfg.DLQ.Type == "redis" {
		rds, err = redis.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("creating redis store: %w", err)
		}
		a.lifecycles = append(a.lifecycles, rds)
		if err := rds.Ping(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Flag.Type == "dynamodb" || cfg.DLQ.Type == "dynamodb" || cfg.Sink.Type == "dynamodb" {
		ddb, err = dynamodb.New(cfg.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("creating dynamodb store: %w", err)
		}
		a.lifecycles = append(a.lifecycles, ddb)
		if err := ddb.Start(ctx); err != nil {
			return nil, err
		}
	}

	dlqStore, err := newDeadLetterStore(ctx, cfg.DLQ, rds, ddb)
	if err != nil {
		return nil, err
	}
	a.DLQ = dlq.New(dlqStore, dlq.Options{Logger: logger})

	if a.Flag, err = newFlagStore(cfg.Flag, rds, ddb); err != nil {
		return nil, err
	}
	a.FlagTTL = gate.ParseFlagTTL(cfg.Gate.FlagTTL)

	a.Sink = provider.DurableSink(pg)
	if cfg.Sink.Type == "dynamodb" {
		a.Sink = ddb
	}

	var ids provider.IdentifierSource = pg
	if cfg.Gate.Identifiers == "git" {
		ids = git.New(map[string]string{
			cfg.Gate.FeedA.Name: cfg.Gate.FeedA.RepoDir,
			cfg.Gate.FeedB.Name: cfg.Gate.FeedB.RepoDir,
		})
	}
	a.Feeds = provider.CombineFeeds(ids, pg)

	var tracer trace.Tracer
	sink, err := a.telemetrySink(ctx)
	if err != nil {
		return nil, err
	}
	if a.providers != nil {
		tracer = a.providers.Tracer.Tracer(telemetry.InstrumentationName)
	}
	a.Telemetry = telemetry.NewEmitter(sink, withLogger(retry.BestEffort(), logger))

	if a.Alerts, err = alert.NewDispatcher(cfg.Alerts, logger); err != nil {
		return nil, fmt.Errorf("creating alert dispatcher: %w", err)
	}

	durable := withLogger(retry.Durable(a.DLQ), logger)
	a.Gate = NewGateHolder(func(gc types.GateConfig) *gate.Gate {
		return gate.New(a.Feeds, a.Flag, gc, gate.Options{
			ReadPolicy: withLogger(retry.Durable(nil), logger),
			Sink:       a.Sink,
			SinkPolicy: durable,
			Telemetry:  a.Telemetry,
			Logger:     logger,
		})
	}, cfg.Gate)

	a.Scorer = confidence.New(cfg.Scoring, confidence.Options{Logger: logger})

	pub, err := backend.New(ctx, cfg.Publish)
	if err != nil {
		return nil, fmt.Errorf("creating publish backend: %w", err)
	}
	a.Publisher = backend.NewPublisher(
		backend.Guard(pub, breaker.New("publish", cfg.Breaker, logger)),
		withLogger(retry.API(a.DLQ), logger),
	)

	var translator pipeline.Translator
	if len(cfg.Translate.Languages) > 0 {
		inv, err := backend.New(ctx, cfg.Translate.BackendConfig)
		if err != nil {
			return nil, fmt.Errorf("creating translate backend: %w", err)
		}
		a.Translator = backend.NewTranslator(
			backend.Guard(inv, breaker.New("translate", cfg.Breaker, logger)),
			withLogger(retry.API(a.DLQ), logger),
			cfg.Translate.Languages,
		)
		translator = a.Translator
	}

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Gate:       a.Gate,
		IngestA:    a.ingester(cfg.Gate.FeedA, cfg.Ingest.FeedADir, durable),
		IngestB:    a.ingester(cfg.Gate.FeedB, cfg.Ingest.FeedBDir, durable),
		Flag:       a.Flag,
		FlagTTL:    a.FlagTTL,
		Window:     a.Feeds,
		Scorer:     a.Scorer,
		Publisher:  a.Publisher,
		Translator: translator,
		Sink:       a.Sink,
		SinkPolicy: durable,
		Alert:      a.Alerts.AlertFunc(),
	}, pipeline.Options{
		Timeout:   parseDuration(cfg.Run.Timeout, pipeline.DefaultTimeout),
		Telemetry: a.Telemetry,
		Tracer:    tracer,
		Logger:    logger,
	})

	logger.Info("muse initialised",
		"flag", cfg.Flag.Type,
		"dlq", cfg.DLQ.Type,
		"sink", cfg.Sink.Type,
		"identifiers", cfg.Gate.Identifiers,
		"telemetry", cfg.Telemetry.Type,
		"languages", len(cfg.Translate.Languages),
	)
	return a, nil
}

func newDeadLetterStore(ctx context.Context, cfg types.StoreConfig, rds *redis.Store, ddb *dynamodb.Store) (provider.DeadLetterStore, error) {
	switch cfg.Type {
	case "redis":
		return rds, nil
	case "dynamodb":
		return ddb, nil
	case "sqs":
		s, err := sqs.New(ctx, cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("creating sqs dlq: %w", err)
		}
		return s, nil
	default:
		d, err := local.NewDLQDir(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("creating dlq directory: %w", err)
		}
		return d, nil
	}
}

func newFlagStore(cfg types.StoreConfig, rds *redis.Store, ddb *dynamodb.Store) (provider.FlagStore, error) {
	switch cfg.Type {
	case "redis":
		return rds, nil
	case "dynamodb":
		return ddb, nil
	default:
		f, err := local.NewFlagFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("creating flag file: %w", err)
		}
		return f, nil
	}
}

func (a *App) telemetrySink(ctx context.Context) (telemetry.Sink, error) {
	switch a.Config.Telemetry.Type {
	case "nop":
		return telemetry.NopSink{}, nil
	case "otel":
		p, err := telemetry.Setup(ctx, a.Config.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("setting up opentelemetry: %w", err)
		}
		a.providers = p
		return telemetry.NewOTelSink(p.Meter.Meter(telemetry.InstrumentationName)), nil
	case "prometheus":
		a.Registry = prometheus.NewRegistry()
		return telemetry.NewPrometheusSink(a.Registry), nil
	default:
		return telemetry.LogSink{Logger: a.Logger}, nil
	}
}

// ingester returns nil when no collection directory is configured, which
// the orchestrator records as a skipped stage.
func (a *App) ingester(feed types.FeedConfig, dir string, policy *retry.Policy) pipeline.Ingester {
	if dir == "" {
		return nil
	}
	return collect.NewIngester(feed.Name, collect.NewDirCollector(dir, feed.Table), a.Sink, policy, a.Logger)
}

// Run executes one pipeline run and remembers its report.
func (a *App) Run(ctx context.Context) types.RunReport {
	report := a.Orchestrator.Run(ctx)
	a.mu.Lock()
	a.latest = &report
	a.mu.Unlock()
	return report
}

// EvaluateGate runs the gate outside a pipeline run. Like any evaluation it
// writes the flag on a passing verdict and clears it otherwise.
func (a *App) EvaluateGate(ctx context.Context) types.GateVerdict {
	return a.Gate.Evaluate(ctx)
}

// LatestReport returns the report of the most recent Run in this process.
func (a *App) LatestReport() (types.RunReport, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return types.RunReport{}, false
	}
	return *a.latest, true
}

// FlagStatus inspects the gate flag.
func (a *App) FlagStatus(ctx context.Context) (gate.FlagStatus, error) {
	return gate.Status(ctx, a.Flag, a.FlagTTL, a.now())
}

// Score computes confidence over the configured lookback window without
// running the rest of the pipeline.
func (a *App) Score(ctx context.Context) (types.ConfidenceResult, error) {
	window, err := a.Feeds.CorrelationWindow(ctx, a.Scorer.LookbackDays())
	if err != nil {
		return types.ConfidenceResult{}, fmt.Errorf("reading correlation window: %w", err)
	}
	return a.Scorer.Compute(window), nil
}

// Replay redelivers dead-lettered operations matching filter.
func (a *App) Replay(ctx context.Context, filter string) (types.ReplayResult, error) {
	return a.DLQ.Replay(ctx, filter, a.Redeliver)
}

// Ping checks every connected backend.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	for _, l := range a.lifecycles {
		if err := l.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases backend connections and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.providers.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.lifecycles) - 1; i >= 0; i-- {
		if err := a.lifecycles[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.lifecycles = nil
	return errors.Join(errs...)
}

func withLogger(p *retry.Policy, logger *slog.Logger) *retry.Policy {
	p.Logger = logger
	return p
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

// Redeliver routes a dead-lettered operation back to the component that
// failed it: "insert:<table>" to the sink, "publish" and "translate:<lang>"
// to their backends. Unknown operations fail and stay queued.
func (a *App) Redeliver(ctx context.Context, entry types.DLQEntry) error {
	op := entry.Operation
	switch {
	case strings.HasPrefix(op, "insert:"):
		table := strings.TrimPrefix(op, "insert:")
		if table == "" || entry.Payload == nil {
			return fmt.Errorf("malformed insert entry %s: %w", entry.ID, dlq.ErrAbandon)
		}
		return a.Sink.Insert(ctx, table, entry.Payload)
	case op == backend.OpPublish:
		if a.Publisher == nil {
			return fmt.Errorf("publish backend not configured")
		}
		return a.Publisher.Redeliver(ctx, entry.Payload)
	case strings.HasPrefix(op, backend.OpTranslatePrefix):
		if _, ok := backend.LanguageFromOp(op); !ok {
			return fmt.Errorf("malformed translate entry %s: %w", entry.ID, dlq.ErrAbandon)
		}
		if a.Translator == nil {
			return fmt.Errorf("translate backend not configured")
		}
		return a.Translator.Redeliver(ctx, entry.Payload)
	default:
		return fmt.Errorf("no redelivery route for operation %q", op)
	}
}
