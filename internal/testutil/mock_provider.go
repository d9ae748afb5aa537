// Package testutil provides shared test utilities for muse.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/pkg/types"
)

// Compile-time interface satisfaction checks.
var (
	_ provider.FlagStore       = (*MockFlagStore)(nil)
	_ provider.DeadLetterStore = (*MockDLQStore)(nil)
	_ provider.DurableSink     = (*MockSink)(nil)
	_ provider.FeedQuerier     = (*MockFeeds)(nil)
)

// MockFlagStore is an in-memory FlagStore.
type MockFlagStore struct {
	mu        sync.Mutex
	writtenAt time.Time
	present   bool

	WriteErr error
	ReadErr  error
	ClearErr error
}

// NewMockFlagStore creates an empty flag store.
func NewMockFlagStore() *MockFlagStore { return &MockFlagStore{} }

func (m *MockFlagStore) Write(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.writtenAt = t
	m.present = true
	return nil
}

func (m *MockFlagStore) Read(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return time.Time{}, false, m.ReadErr
	}
	return m.writtenAt, m.present, nil
}

func (m *MockFlagStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.writtenAt = time.Time{}
	m.present = false
	return nil
}

// Present reports whether the flag is currently set.
func (m *MockFlagStore) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

// MockDLQStore is an in-memory DeadLetterStore keyed by entry ID.
type MockDLQStore struct {
	mu      sync.Mutex
	entries map[string]types.DLQEntry

	PutErr    error
	ListErr   error
	DeleteErr error
}

// NewMockDLQStore creates an empty dead-letter store.
func NewMockDLQStore() *MockDLQStore {
	return &MockDLQStore{entries: make(map[string]types.DLQEntry)}
}

func (m *MockDLQStore) Put(_ context.Context, e types.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	if _, exists := m.entries[e.ID]; exists {
		return fmt.Errorf("dlq entry %q already exists", e.ID)
	}
	m.entries[e.ID] = e
	return nil
}

func (m *MockDLQStore) List(_ context.Context) ([]types.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]types.DLQEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockDLQStore) Delete(_ context.Context, e types.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.entries, e.ID)
	return nil
}

// Len returns the number of stored entries.
func (m *MockDLQStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns stored entries ordered by ID.
func (m *MockDLQStore) Entries() []types.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.DLQEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MockSink is an in-memory DurableSink. InsertFn, when set, overrides storage.
type MockSink struct {
	mu      sync.Mutex
	records []types.Record

	InsertFn func(ctx context.Context, table string, record map[string]interface{}) error
}

func (m *MockSink) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, table, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, types.Record{Table: table, Data: record})
	return nil
}

// Records returns inserted records for a table, or all records when table is empty.
func (m *MockSink) Records(table string) []types.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Record
	for _, r := range m.records {
		if table == "" || r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

// FeedState is the canned answer for one feed in MockFeeds.
type FeedState struct {
	Identifier string
	IDErr      error
	Rows       int
	LastSeen   time.Time
	QueryErr   error
}

// MockFeeds is a FeedQuerier with canned per-feed answers.
type MockFeeds struct {
	mu     sync.Mutex
	Feeds  map[string]FeedState
	Window types.CorrelationWindow

	WindowErr error
	WindowFn  func(ctx context.Context, days int) (types.CorrelationWindow, error)
}

// NewMockFeeds creates a MockFeeds with the given feed states.
func NewMockFeeds(feeds map[string]FeedState) *MockFeeds {
	if feeds == nil {
		feeds = make(map[string]FeedState)
	}
	return &MockFeeds{Feeds: feeds}
}

func (m *MockFeeds) LatestIdentifier(_ context.Context, feed string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Feeds[feed]
	if !ok {
		return "", fmt.Errorf("feed %q: %w", feed, provider.ErrNoIdentifier)
	}
	if s.IDErr != nil {
		return "", s.IDErr
	}
	return s.Identifier, nil
}

func (m *MockFeeds) RowCountAndLastSeen(_ context.Context, feed, _ string) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.Feeds[feed]
	if s.QueryErr != nil {
		return 0, time.Time{}, s.QueryErr
	}
	return s.Rows, s.LastSeen, nil
}

func (m *MockFeeds) CorrelationWindow(ctx context.Context, days int) (types.CorrelationWindow, error) {
	if m.WindowFn != nil {
		return m.WindowFn(ctx, days)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WindowErr != nil {
		return nil, m.WindowErr
	}
	return m.Window, nil
}
