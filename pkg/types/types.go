// Package types defines the public domain types for the muse content pipeline.
package types

import (
	"time"
)

// SentinelLagSeconds is reported when feed timestamps are unavailable.
const SentinelLagSeconds int64 = 999999

// GateVerdict is the outcome of one freshness gate evaluation.
type GateVerdict struct {
	State           GateState `json:"state"`
	FeedAIdentifier string    `json:"feedAIdentifier,omitempty"`
	FeedBIdentifier string    `json:"feedBIdentifier,omitempty"`
	FeedARows       int       `json:"feedARows"`
	FeedBRows       int       `json:"feedBRows"`
	LagSeconds      int64     `json:"lagSeconds"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
	Reason          string    `json:"reason,omitempty"`
}

// CorrelationDay is one joined per-day aggregate of both feeds.
// Correlation is nil when the day has too few points to correlate.
type CorrelationDay struct {
	Day         time.Time `json:"day"`
	FeedAMetric float64   `json:"feedAMetric"`
	FeedBMetric float64   `json:"feedBMetric"`
	FeedARows   int       `json:"feedARows"`
	FeedBRows   int       `json:"feedBRows"`
	Correlation *float64  `json:"correlation,omitempty"`
}

// CorrelationWindow is an ordered sequence of joined daily aggregates.
type CorrelationWindow []CorrelationDay

// TotalRows sums the row counts of both feeds across the window.
func (w CorrelationWindow) TotalRows() int {
	total := 0
	for _, d := range w {
		total += d.FeedARows + d.FeedBRows
	}
	return total
}

// MostRecent returns the latest day in the window, or false when empty.
func (w CorrelationWindow) MostRecent() (time.Time, bool) {
	if len(w) == 0 {
		return time.Time{}, false
	}
	latest := w[0].Day
	for _, d := range w[1:] {
		if d.Day.After(latest) {
			latest = d.Day
		}
	}
	return latest, true
}

// ConfidenceBreakdown holds the four independent signals behind a score.
type ConfidenceBreakdown struct {
	Completeness        float64 `json:"completeness"`
	CorrelationStrength float64 `json:"correlationStrength"`
	Recency             float64 `json:"recency"`
	DataQuality         float64 `json:"dataQuality"`
}

// ConfidenceResult is the bounded confidence computed for a window snapshot.
type ConfidenceResult struct {
	Score               float64             `json:"score"`
	CorrelationStrength float64             `json:"correlationStrength"`
	Breakdown           ConfidenceBreakdown `json:"breakdown"`
	Days                int                 `json:"days"`
}

// DLQEntry is a durable record of an operation whose retries were exhausted.
type DLQEntry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Operation    string                 `json:"operation"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	ErrorMessage string                 `json:"errorMessage"`
	ErrorKind    string                 `json:"errorKind"`

	// Handle is a backend-specific token needed to delete the entry
	// (an SQS receipt handle, for example). It is never persisted.
	Handle string `json:"-"`
}

// Record is one row destined for the durable sink.
type Record struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

// StageResult is the outcome of one stage within a run.
type StageResult struct {
	Stage     StageName              `json:"stage"`
	Status    StageStatus            `json:"status"`
	Detail    string                 `json:"detail,omitempty"`
	StartedAt time.Time              `json:"startedAt"`
	Duration  time.Duration          `json:"durationNs"`
	Output    map[string]interface{} `json:"output,omitempty"`
}

// RunReport is the structured outcome of one orchestration run.
type RunReport struct {
	RunID        string        `json:"runId"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Stages       []StageResult `json:"stages"`
	StoppedEarly bool          `json:"stoppedEarly"`
	StopReason   string        `json:"stopReason,omitempty"`
}

// Succeeded reports whether the run reached its end without being stopped.
func (r RunReport) Succeeded() bool {
	return !r.StoppedEarly
}

// FailedStages returns the names of stages that failed, in order.
func (r RunReport) FailedStages() []StageName {
	var failed []StageName
	for _, s := range r.Stages {
		if s.Status == StageFailed {
			failed = append(failed, s.Stage)
		}
	}
	return failed
}

// Stage returns the result for a stage, if it ran.
func (r RunReport) Stage(name StageName) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Alert is a notification about a pipeline run.
type Alert struct {
	Level     AlertLevel             `json:"level"`
	RunID     string                 `json:"runId,omitempty"`
	Stage     StageName              `json:"stage,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ReplayResult summarises a dead-letter replay pass.
type ReplayResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Skipped   int `json:"skipped"`
}
