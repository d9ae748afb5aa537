package confidence

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dwsmith1983/muse/internal/testutil"
	"github.com/dwsmith1983/muse/pkg/types"
)

var testNow = time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC)

func newScorer() *Scorer {
	return New(types.ScoringConfig{}, Options{Now: func() time.Time { return testNow }})
}

func fullWeek(corr float64, rowsPerFeed int) types.CorrelationWindow {
	var w types.CorrelationWindow
	for i := 6; i >= 0; i-- {
		w = append(w, types.CorrelationDay{
			Day:         testNow.Truncate(24*time.Hour).AddDate(0, 0, -i),
			FeedAMetric: 1,
			FeedBMetric: 2,
			FeedARows:   rowsPerFeed,
			FeedBRows:   rowsPerFeed,
			Correlation: testutil.Float(corr),
		})
	}
	return w
}

func TestCompute_EmptyWindow(t *testing.T) {
	res := newScorer().Compute(nil)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 0.0, res.CorrelationStrength)
	assert.Equal(t, types.EpisodeDraft, Decide(res))
	assert.Equal(t, types.TrackDefault, Route(res))
}

func TestCompute_FullStrongWeek(t *testing.T) {
	res := newScorer().Compute(fullWeek(0.9, 10))

	assert.Equal(t, 1.0, res.Breakdown.Completeness)
	assert.InDelta(t, 0.9, res.Breakdown.CorrelationStrength, 1e-9)
	assert.Equal(t, 1.0, res.Breakdown.Recency)
	assert.Equal(t, 1.0, res.Breakdown.DataQuality)
	assert.InDelta(t, 0.9, res.Score, 1e-9)
	assert.Equal(t, 7, res.Days)
	assert.Equal(t, types.TrackHighSignal, Route(res))
	assert.Equal(t, types.EpisodePublished, Decide(res))
}

func TestCompute_ScoreIsExactMinimum(t *testing.T) {
	windows := map[string]types.CorrelationWindow{
		"full":       fullWeek(0.8, 10),
		"sparse":     fullWeek(0.95, 1),
		"weak":       fullWeek(-0.2, 10),
		"short":      fullWeek(0.9, 10)[4:],
		"negative":   fullWeek(-0.75, 3),
		"stale-tail": fullWeek(0.9, 10)[:2],
	}
	s := newScorer()
	for name, w := range windows {
		res := s.Compute(w)
		b := res.Breakdown
		want := math.Min(math.Min(b.Completeness, b.CorrelationStrength), math.Min(b.Recency, b.DataQuality))
		if res.Score != want {
			t.Errorf("%s: score = %v, want min %v", name, res.Score, want)
		}
		if res.Score < 0 || res.Score > 1 || res.CorrelationStrength < 0 || res.CorrelationStrength > 1 {
			t.Errorf("%s: out of bounds %+v", name, res)
		}
	}
}

func TestCompute_NullAndNaNCorrelationsIgnored(t *testing.T) {
	w := fullWeek(0.5, 10)
	w[0].Correlation = nil
	w[1].Correlation = testutil.Float(math.NaN())
	w[2].Correlation = testutil.Float(-0.5)

	res := newScorer().Compute(w)
	assert.InDelta(t, 0.5, res.CorrelationStrength, 1e-9)
}

func TestCompute_AllNullCorrelations(t *testing.T) {
	w := fullWeek(0.5, 10)
	for i := range w {
		w[i].Correlation = nil
	}
	res := newScorer().Compute(w)
	assert.Equal(t, 0.0, res.CorrelationStrength)
	assert.Equal(t, 0.0, res.Score)
}

func TestRecency(t *testing.T) {
	tests := []struct {
		daysOld int
		want    float64
	}{
		{0, 1.0},
		{1, 1 - 1.0/7},
		{3, 1 - 3.0/7},
		{7, 0.5},
		{30, 0.5},
		{-2, 1.0}, // future-dated rows clamp to today
	}
	s := newScorer()
	for _, tt := range tests {
		w := types.CorrelationWindow{{Day: testutil.Day(2026, 3, 8).AddDate(0, 0, -tt.daysOld)}}
		if got := s.recency(w); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("recency(%d days) = %v, want %v", tt.daysOld, got, tt.want)
		}
	}
}

func TestCompute_RecoversPanic(t *testing.T) {
	s := New(types.ScoringConfig{}, Options{Now: func() time.Time { panic("clock broke") }})

	var res types.ConfidenceResult
	assert.NotPanics(t, func() { res = s.Compute(fullWeek(0.9, 10)) })
	assert.Equal(t, types.ConfidenceResult{}, res)
}

func TestRoute_Thresholds(t *testing.T) {
	tests := []struct {
		score, strength float64
		want            types.Track
	}{
		{0.7, 0.6, types.TrackHighSignal},
		{0.69, 0.9, types.TrackDefault},
		{0.9, 0.59, types.TrackDefault},
		{1, 1, types.TrackHighSignal},
	}
	for _, tt := range tests {
		got := Route(types.ConfidenceResult{Score: tt.score, CorrelationStrength: tt.strength})
		if got != tt.want {
			t.Errorf("Route(%v, %v) = %s, want %s", tt.score, tt.strength, got, tt.want)
		}
	}
}

func TestDecide_ThresholdIndependentOfRouting(t *testing.T) {
	// 0.65 publishes but does not reach the high-signal track.
	res := types.ConfidenceResult{Score: 0.65, CorrelationStrength: 0.9}
	assert.Equal(t, types.EpisodePublished, Decide(res))
	assert.Equal(t, types.TrackDefault, Route(res))

	assert.Equal(t, types.EpisodePublished, Decide(types.ConfidenceResult{Score: 0.6}))
	assert.Equal(t, types.EpisodeDraft, Decide(types.ConfidenceResult{Score: 0.59}))
}

func TestNew_Defaults(t *testing.T) {
	s := New(types.ScoringConfig{}, Options{})
	assert.Equal(t, 7, s.LookbackDays())
	assert.Equal(t, 10, s.expectedRowsPerDay)

	s = New(types.ScoringConfig{LookbackDays: 14, ExpectedRowsPerDay: 4}, Options{})
	assert.Equal(t, 14, s.LookbackDays())
}
