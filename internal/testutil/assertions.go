package testutil

import (
	"testing"
	"time"

	"github.com/dwsmith1983/muse/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// StageNames returns the stage names of a report in order.
func StageNames(r types.RunReport) []types.StageName {
	names := make([]types.StageName, 0, len(r.Stages))
	for _, s := range r.Stages {
		names = append(names, s.Stage)
	}
	return names
}

// RequireStage fails the test unless the report contains stage with status.
func RequireStage(t *testing.T, r types.RunReport, stage types.StageName, status types.StageStatus) types.StageResult {
	t.Helper()
	s, ok := r.Stage(stage)
	if !ok {
		t.Fatalf("stage %s missing from report (have %v)", stage, StageNames(r))
	}
	if s.Status != status {
		t.Fatalf("stage %s: expected %s, got %s (%s)", stage, status, s.Status, s.Detail)
	}
	return s
}

// Day returns midnight UTC for the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
