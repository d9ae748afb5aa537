package dlq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/internal/testutil"
	"github.com/dwsmith1983/muse/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRecord_PersistsEntry(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{Now: fixedNow})

	payload := map[string]interface{}{"table": "benchmarks", "row": 1}
	q.Record(context.Background(), "insert:benchmarks", payload, syscall.ECONNRESET)

	entries := store.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "insert:benchmarks", e.Operation)
	assert.Equal(t, payload, e.Payload)
	assert.Equal(t, fixedNow(), e.Timestamp)
	assert.Equal(t, string(types.FailureTransient), e.ErrorKind)
	assert.Contains(t, e.ErrorMessage, "connection reset")

	id, err := ulid.Parse(e.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(fixedNow()), id.Time())
}

func TestRecord_UnwrapsExhaustedForKind(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})

	err := &retry.ExhaustedError{Op: "publish", Attempts: 3, Err: context.DeadlineExceeded}
	q.Record(context.Background(), "publish", nil, err)

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string(types.FailureTimeout), entries[0].ErrorKind)
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	store := testutil.NewMockDLQStore()
	store.PutErr = errors.New("disk full")
	q := New(store, Options{})

	assert.NotPanics(t, func() {
		q.Record(context.Background(), "insert:x", nil, errors.New("boom"))
	})
	assert.Equal(t, 0, store.Len())
}

type panickingStore struct{ *testutil.MockDLQStore }

func (panickingStore) Put(context.Context, types.DLQEntry) error { panic("store exploded") }

func TestRecord_StorePanicIsRecovered(t *testing.T) {
	q := New(panickingStore{testutil.NewMockDLQStore()}, Options{})
	assert.NotPanics(t, func() {
		q.Record(context.Background(), "insert:x", nil, errors.New("boom"))
	})
}

type ctxCapturingStore struct {
	*testutil.MockDLQStore
	ctxErr      error
	hasDeadline bool
}

func (s *ctxCapturingStore) Put(ctx context.Context, e types.DLQEntry) error {
	s.ctxErr = ctx.Err()
	_, s.hasDeadline = ctx.Deadline()
	return s.MockDLQStore.Put(ctx, e)
}

func TestRecord_DetachedFromCallerCancellation(t *testing.T) {
	store := &ctxCapturingStore{MockDLQStore: testutil.NewMockDLQStore()}
	q := New(store, Options{WriteTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Record(ctx, "insert:x", nil, errors.New("boom"))

	assert.NoError(t, store.ctxErr)
	assert.True(t, store.hasDeadline)
	assert.Equal(t, 1, store.Len())
}

func TestRecord_ConcurrentWritersNeverCollide(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{Now: fixedNow})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Record(context.Background(), fmt.Sprintf("insert:t%d", i), nil, errors.New("x"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, store.Len())
}

func seed(t *testing.T, q *Queue, ops ...string) {
	t.Helper()
	for _, op := range ops {
		q.Record(context.Background(), op, map[string]interface{}{"op": op}, errors.New("failed"))
	}
}

func TestReplay_AllSucceed(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "insert:a", "insert:b", "publish")

	var seen []string
	res, err := q.Replay(context.Background(), "", func(_ context.Context, e types.DLQEntry) error {
		seen = append(seen, e.Operation)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.ReplayResult{Succeeded: 3}, res)
	assert.Len(t, seen, 3)
	assert.Equal(t, 0, store.Len())
}

func TestReplay_FailuresStayQueued(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "insert:a", "publish")

	res, err := q.Replay(context.Background(), "", func(_ context.Context, e types.DLQEntry) error {
		if e.Operation == "publish" {
			return errors.New("still down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	remaining := store.Entries()
	require.Len(t, remaining, 1)
	assert.Equal(t, "publish", remaining[0].Operation)
}

func TestReplay_Abandon(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "unknown-op")

	res, err := q.Replay(context.Background(), "", func(context.Context, types.DLQEntry) error {
		return fmt.Errorf("no handler: %w", ErrAbandon)
	})
	require.NoError(t, err)
	assert.Equal(t, types.ReplayResult{Abandoned: 1}, res)
	assert.Equal(t, 0, store.Len())
}

func TestReplay_FilterBySubstring(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "insert:benchmarks", "insert:watcher_runs", "translate:de")

	res, err := q.Replay(context.Background(), "insert", func(context.Context, types.DLQEntry) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)

	remaining := store.Entries()
	require.Len(t, remaining, 1)
	assert.Equal(t, "translate:de", remaining[0].Operation)
}

func TestReplay_FilterMatchesInsideOperation(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "insert:benchmarks", "insert:watcher_runs", "translate:de")

	var replayed []string
	res, err := q.Replay(context.Background(), "benchmarks", func(_ context.Context, e types.DLQEntry) error {
		replayed = append(replayed, e.Operation)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"insert:benchmarks"}, replayed)
	assert.Equal(t, 2, res.Skipped)
}

func TestReplay_RedeliveryPanicCountsAsFailed(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "publish")

	res, err := q.Replay(context.Background(), "", func(context.Context, types.DLQEntry) error {
		panic("handler bug")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, store.Len())
}

func TestReplay_ListError(t *testing.T) {
	store := testutil.NewMockDLQStore()
	store.ListErr = errors.New("unreachable")
	q := New(store, Options{})

	_, err := q.Replay(context.Background(), "", func(context.Context, types.DLQEntry) error { return nil })
	assert.Error(t, err)
}

func TestList_DoesNotRemove(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})
	seed(t, q, "a", "b")

	entries, err := q.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, store.Len())
}

func TestQueue_AsRetryRecorder(t *testing.T) {
	store := testutil.NewMockDLQStore()
	q := New(store, Options{})

	p := retry.Durable(q)
	p.Sleep = func(context.Context, time.Duration) error { return nil }

	err := retry.Exec(context.Background(), p, "insert:x", map[string]interface{}{"k": "v"}, func(context.Context) error {
		return syscall.ECONNREFUSED
	})
	require.Error(t, err)
	require.Equal(t, 1, store.Len())
	assert.Equal(t, "insert:x", store.Entries()[0].Operation)
}
