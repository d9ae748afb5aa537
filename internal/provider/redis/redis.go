// Package redis implements the gate flag and dead-letter stores using Redis/Valkey.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/pkg/types"
)

const defaultPrefix = "muse:"

var (
	_ provider.FlagStore       = (*Store)(nil)
	_ provider.DeadLetterStore = (*Store)(nil)
	_ provider.Lifecycle       = (*Store)(nil)
)

// Store is backed by a single Redis/Valkey client.
type Store struct {
	client       *goredis.Client
	prefix       string
	retentionTTL time.Duration
}

// New creates a new Store.
func New(cfg *types.RedisConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s := NewFromClient(client, cfg.KeyPrefix)
	if cfg.RetentionTTL != "" {
		d, err := time.ParseDuration(cfg.RetentionTTL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis retentionTtl %q: %w", cfg.RetentionTTL, err)
		}
		s.retentionTTL = d
	}
	return s, nil
}

// NewFromClient creates a Store from an existing client (useful for testing).
// Dead-letter entries it writes never expire.
func NewFromClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
	}
}

// Ping checks connectivity to the Redis server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (s *Store) Client() *goredis.Client {
	return s.client
}

func (s *Store) flagKey() string {
	return s.prefix + "gate:flag"
}

func (s *Store) dlqKey(id string) string {
	return s.prefix + "dlq:" + id
}

func (s *Store) dlqIndexKey() string {
	return s.prefix + "dlq:index"
}
