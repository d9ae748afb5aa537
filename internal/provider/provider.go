// Package provider defines the external backend interfaces for muse.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/dwsmith1983/muse/pkg/types"
)

// ErrNoIdentifier is returned when a feed has no current identifier.
var ErrNoIdentifier = errors.New("no identifier for feed")

// IdentifierSource resolves the current identifier (commit, batch id) of a feed.
type IdentifierSource interface {
	LatestIdentifier(ctx context.Context, feed string) (string, error)
}

// FeedStore answers freshness and correlation queries over both feeds.
type FeedStore interface {
	// RowCountAndLastSeen returns how many rows a feed has for an identifier
	// and the newest row timestamp. A zero time means no timestamp is known.
	RowCountAndLastSeen(ctx context.Context, feed, identifier string) (int, time.Time, error)

	// CorrelationWindow returns the inner join of both feeds' daily
	// aggregates over the last days, ordered by day.
	CorrelationWindow(ctx context.Context, days int) (types.CorrelationWindow, error)
}

// FeedQuerier is the full query surface the gate and scoring stages use.
type FeedQuerier interface {
	IdentifierSource
	FeedStore
}

type combinedFeeds struct {
	IdentifierSource
	FeedStore
}

// CombineFeeds joins an identifier source and a feed store that live in
// different backends.
func CombineFeeds(ids IdentifierSource, store FeedStore) FeedQuerier {
	return combinedFeeds{IdentifierSource: ids, FeedStore: store}
}

// DurableSink stores records that must not be lost.
type DurableSink interface {
	Insert(ctx context.Context, table string, record map[string]interface{}) error
}

// FlagStore persists the gate flag: a single written-at timestamp.
type FlagStore interface {
	Write(ctx context.Context, writtenAt time.Time) error
	Read(ctx context.Context) (time.Time, bool, error)
	Clear(ctx context.Context) error
}

// DeadLetterStore persists dead-letter entries.
type DeadLetterStore interface {
	Put(ctx context.Context, entry types.DLQEntry) error
	List(ctx context.Context) ([]types.DLQEntry, error)
	Delete(ctx context.Context, entry types.DLQEntry) error
}

// Lifecycle is implemented by backends holding connections.
type Lifecycle interface {
	Ping(ctx context.Context) error
	Close() error
}
