package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/muse/pkg/types"
)

func TestExtractFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	f := extractFields(map[string]interface{}{
		"identifier": "abc123",
		"ts":         ts,
		"metric":     42.5,
		"other":      "kept in data",
	})
	require.NotNil(t, f.identifier)
	assert.Equal(t, "abc123", *f.identifier)
	require.NotNil(t, f.ts)
	assert.True(t, ts.Equal(*f.ts))
	require.NotNil(t, f.metric)
	assert.Equal(t, 42.5, *f.metric)
}

func TestExtractFields_StringTimestampAndIntMetric(t *testing.T) {
	f := extractFields(map[string]interface{}{
		"ts":     "2026-03-01T09:30:00+02:00",
		"metric": 7,
	})
	require.NotNil(t, f.ts)
	assert.Equal(t, 7, f.ts.Hour())
	assert.Equal(t, time.UTC, f.ts.Location())
	require.NotNil(t, f.metric)
	assert.Equal(t, 7.0, *f.metric)
	assert.Nil(t, f.identifier)
}

func TestExtractFields_JSONNumber(t *testing.T) {
	f := extractFields(map[string]interface{}{"metric": json.Number("3.25")})
	require.NotNil(t, f.metric)
	assert.Equal(t, 3.25, *f.metric)
}

func TestExtractFields_Mistyped(t *testing.T) {
	f := extractFields(map[string]interface{}{
		"identifier": 12,
		"ts":         "yesterday",
		"metric":     "fast",
	})
	assert.Nil(t, f.identifier)
	assert.Nil(t, f.ts)
	assert.Nil(t, f.metric)
}

func TestNewStore_TableMapping(t *testing.T) {
	s := newStore(nil,
		types.FeedConfig{Name: "banterhearts", Table: "bench_runs"},
		types.FeedConfig{Name: "banterpacks", Table: "ui_events"},
	)
	table, err := s.table("banterhearts")
	require.NoError(t, err)
	assert.Equal(t, "bench_runs", table)

	_, err = s.table("unknown")
	assert.Error(t, err)
}
