package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Write stores the flag's written-at timestamp. Last write wins.
func (s *Store) Write(ctx context.Context, writtenAt time.Time) error {
	if err := s.client.Set(ctx, s.flagKey(), writtenAt.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("writing gate flag: %w", err)
	}
	return nil
}

// Read returns the flag's written-at timestamp and whether it exists.
func (s *Store) Read(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.flagKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading gate flag: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing gate flag %q: %w", raw, err)
	}
	return t, true, nil
}

// Clear removes the flag. Clearing an absent flag is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.flagKey()).Err(); err != nil {
		return fmt.Errorf("clearing gate flag: %w", err)
	}
	return nil
}
