// Package confidence scores a correlation window and routes the result to a
// publication track.
package confidence

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dwsmith1983/muse/pkg/types"
)

const (
	defaultLookbackDays       = 7
	defaultExpectedRowsPerDay = 10

	// High-signal routing requires both thresholds.
	highSignalScore       = 0.7
	highSignalCorrelation = 0.6

	// Publication threshold, separate from routing.
	publishScore = 0.6

	minRecency = 0.5
)

// Scorer computes min-of-four-signals confidence.
type Scorer struct {
	lookbackDays       int
	expectedRowsPerDay int
	now                func() time.Time
	logger             *slog.Logger
}

// Options configures a Scorer. Zero values select defaults.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// New creates a Scorer from the scoring config.
func New(cfg types.ScoringConfig, opts Options) *Scorer {
	s := &Scorer{
		lookbackDays:       cfg.LookbackDays,
		expectedRowsPerDay: cfg.ExpectedRowsPerDay,
		now:                opts.Now,
		logger:             opts.Logger,
	}
	if s.lookbackDays <= 0 {
		s.lookbackDays = defaultLookbackDays
	}
	if s.expectedRowsPerDay <= 0 {
		s.expectedRowsPerDay = defaultExpectedRowsPerDay
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// LookbackDays returns the window size the scorer expects.
func (s *Scorer) LookbackDays() int { return s.lookbackDays }

// Compute scores the window. An empty window scores zero. A panic during
// computation is logged and also scores zero.
func (s *Scorer) Compute(window types.CorrelationWindow) (res types.ConfidenceResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("confidence computation panicked", "panic", fmt.Sprint(r), "days", len(window))
			res = types.ConfidenceResult{}
		}
	}()

	if len(window) == 0 {
		return types.ConfidenceResult{}
	}

	d := float64(s.lookbackDays)
	b := types.ConfidenceBreakdown{
		Completeness:        math.Min(1, float64(len(window))/d),
		CorrelationStrength: correlationStrength(window),
		Recency:             s.recency(window),
		DataQuality:         math.Min(1, float64(window.TotalRows())/(d*float64(s.expectedRowsPerDay))),
	}
	score := math.Min(math.Min(b.Completeness, b.CorrelationStrength), math.Min(b.Recency, b.DataQuality))

	s.logger.Info("confidence computed",
		"completeness", b.Completeness,
		"correlation", b.CorrelationStrength,
		"recency", b.Recency,
		"quality", b.DataQuality,
		"score", score,
	)

	return types.ConfidenceResult{
		Score:               clamp01(score),
		CorrelationStrength: b.CorrelationStrength,
		Breakdown:           b,
		Days:                len(window),
	}
}

// correlationStrength is the mean absolute correlation over days that have
// one; zero when none do.
func correlationStrength(window types.CorrelationWindow) float64 {
	var sum float64
	var n int
	for _, day := range window {
		if day.Correlation == nil || math.IsNaN(*day.Correlation) {
			continue
		}
		sum += math.Abs(*day.Correlation)
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp01(sum / float64(n))
}

// recency decays linearly from 1 to the floor over the lookback, counted in
// whole UTC calendar days since the newest day in the window.
func (s *Scorer) recency(window types.CorrelationWindow) float64 {
	latest, ok := window.MostRecent()
	if !ok {
		return 0
	}
	daysOld := calendarDays(latest, s.now())
	if daysOld < 0 {
		daysOld = 0
	}
	return math.Max(minRecency, 1-float64(daysOld)/float64(s.lookbackDays))
}

func calendarDays(from, to time.Time) int {
	f := from.UTC()
	t := to.UTC()
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd).Hours() / 24)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Route picks the publication track.
func Route(res types.ConfidenceResult) types.Track {
	if res.Score >= highSignalScore && res.CorrelationStrength >= highSignalCorrelation {
		return types.TrackHighSignal
	}
	return types.TrackDefault
}

// Decide picks whether the episode is published or held as a draft.
func Decide(res types.ConfidenceResult) types.EpisodeStatus {
	if res.Score >= publishScore {
		return types.EpisodePublished
	}
	return types.EpisodeDraft
}
