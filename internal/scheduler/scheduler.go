// Package scheduler runs the pipeline on a fixed interval inside a
// long-running process.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dwsmith1983/muse/pkg/types"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) types.RunReport
}

// Scheduler periodically runs the pipeline. Runs never overlap: a tick that
// fires while a run is in progress is dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. A non-positive interval is rejected by Start.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the run loop. The first run starts immediately. It reports
// false when the interval is not positive and nothing was started.
func (s *Scheduler) Start(ctx context.Context) bool {
	if s.interval <= 0 {
		return false
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("scheduler started", "interval", s.interval)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return true
}

// Stop cancels the loop, including any run in flight, and waits for it to
// exit or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report := s.runner.Run(ctx)
	if report.StoppedEarly {
		s.logger.Warn("scheduled run stopped early", "runId", report.RunID, "reason", report.StopReason)
		return
	}
	s.logger.Info("scheduled run finished", "runId", report.RunID, "failedStages", report.FailedStages())
}
