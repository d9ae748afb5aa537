// Package dlq implements the dead-letter queue for operations whose retries
// were exhausted, and its replay mechanism.
package dlq

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/muse/internal/metrics"
	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// ErrAbandon tells Replay to delete an entry that can never be redelivered.
var ErrAbandon = errors.New("dlq: abandon entry")

// DefaultWriteTimeout bounds a single Record write.
const DefaultWriteTimeout = 5 * time.Second

// RedeliverFunc re-executes the operation captured by an entry.
type RedeliverFunc func(ctx context.Context, entry types.DLQEntry) error

// Options configures a Queue.
type Options struct {
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time // defaults to time.Now
}

// Queue records failed operations to a DeadLetterStore and replays them.
type Queue struct {
	store        provider.DeadLetterStore
	writeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ retry.Recorder = (*Queue)(nil)

// New creates a Queue over store.
func New(store provider.DeadLetterStore, opts Options) *Queue {
	q := &Queue{
		store:        store,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		now:          opts.Now,
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}
	if q.writeTimeout <= 0 {
		q.writeTimeout = DefaultWriteTimeout
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

func (q *Queue) newID(ts time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(ts), q.entropy)
	if err != nil {
		// Monotonic entropy overflowed within one millisecond; fall back
		// to a fresh random suffix.
		return ulid.MustNew(ulid.Timestamp(ts), rand.Reader).String()
	}
	return id.String()
}

// Record persists a failed operation. It never returns an error and never
// panics: store failures are logged and the entry is dropped. The write runs
// detached from ctx cancellation and bounded by the queue's write timeout.
func (q *Queue) Record(ctx context.Context, operation string, payload map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DLQDropped.Add(1)
			q.logger.Error("dlq record panicked", "op", operation, "panic", fmt.Sprint(r))
		}
	}()

	now := q.now().UTC()
	entry := types.DLQEntry{
		ID:        q.newID(now),
		Timestamp: now,
		Operation: operation,
		Payload:   payload,
		ErrorKind: errorKind(err),
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.writeTimeout)
	defer cancel()

	if perr := q.store.Put(wctx, entry); perr != nil {
		metrics.DLQDropped.Add(1)
		q.logger.Error("failed to write dlq entry", "op", operation, "id", entry.ID, "error", perr)
		return
	}
	metrics.DLQRecorded.Add(1)
	q.logger.Warn("operation dead-lettered", "op", operation, "id", entry.ID, "error", entry.ErrorMessage)
}

// List returns all entries without removing them.
func (q *Queue) List(ctx context.Context) ([]types.DLQEntry, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing dlq entries: %w", err)
	}
	return entries, nil
}

// Replay redelivers every entry whose Operation contains filter (all entries
// when filter is empty). Entries are deleted only after a successful
// redelivery or an ErrAbandon; all others stay queued.
func (q *Queue) Replay(ctx context.Context, filter string, redeliver RedeliverFunc) (types.ReplayResult, error) {
	var result types.ReplayResult

	entries, err := q.List(ctx)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if filter != "" && !strings.Contains(entry.Operation, filter) {
			result.Skipped++
			continue
		}

		rerr := q.redeliver(ctx, redeliver, entry)
		switch {
		case rerr == nil:
			if derr := q.store.Delete(ctx, entry); derr != nil {
				q.logger.Error("failed to delete replayed dlq entry", "id", entry.ID, "error", derr)
			}
			metrics.DLQReplayed.Add(1)
			result.Succeeded++
		case errors.Is(rerr, ErrAbandon):
			if derr := q.store.Delete(ctx, entry); derr != nil {
				q.logger.Error("failed to delete abandoned dlq entry", "id", entry.ID, "error", derr)
			}
			q.logger.Warn("dlq entry abandoned", "id", entry.ID, "op", entry.Operation)
			result.Abandoned++
		default:
			q.logger.Warn("dlq redelivery failed", "id", entry.ID, "op", entry.Operation, "error", rerr)
			result.Failed++
		}
	}

	q.logger.Info("dlq replay complete",
		"filter", filter,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"abandoned", result.Abandoned,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (q *Queue) redeliver(ctx context.Context, fn RedeliverFunc, entry types.DLQEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("redelivery panicked: %v", r)
		}
	}()
	return fn(ctx, entry)
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) && ex.Err != nil {
		err = ex.Err
	}
	return string(retry.Classify(err))
}
