package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/pkg/types"
)

var (
	_ provider.FeedQuerier = (*Store)(nil)
	_ provider.DurableSink = (*Store)(nil)
	_ provider.Lifecycle   = (*Store)(nil)
)

// Store is a Postgres-backed feed store and durable sink.
type Store struct {
	pool   *pgxpool.Pool
	feedA  string
	feedB  string
	tables map[string]string // feed name -> records.table_name
}

// New creates a new Postgres Store and verifies the connection. Each feed's
// Table names the sink table its rows are ingested into.
func New(ctx context.Context, cfg *types.PostgresConfig, feedA, feedB types.FeedConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newStore(pool, feedA, feedB), nil
}

func newStore(pool *pgxpool.Pool, feedA, feedB types.FeedConfig) *Store {
	return &Store{
		pool:  pool,
		feedA: feedA.Name,
		feedB: feedB.Name,
		tables: map[string]string{
			feedA.Name: feedA.Table,
			feedB.Name: feedB.Table,
		},
	}
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) table(feed string) (string, error) {
	t, ok := s.tables[feed]
	if !ok || t == "" {
		return "", fmt.Errorf("no table configured for feed %q", feed)
	}
	return t, nil
}
