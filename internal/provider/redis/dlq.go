package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/muse/pkg/types"
)

// Put stores a dead-letter entry. Entry IDs are unique; an existing key is
// never overwritten.
func (s *Store) Put(ctx context.Context, entry types.DLQEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dlq entry %q: %w", entry.ID, err)
	}

	key := s.dlqKey(entry.ID)
	ok, err := s.client.SetNX(ctx, key, data, s.retentionTTL).Result()
	if err != nil {
		return fmt.Errorf("storing dlq entry %q: %w", entry.ID, err)
	}
	if !ok {
		return fmt.Errorf("dlq entry %q already exists", entry.ID)
	}

	if err := s.client.ZAdd(ctx, s.dlqIndexKey(), goredis.Z{
		Score:  float64(entry.Timestamp.UnixMilli()),
		Member: entry.ID,
	}).Err(); err != nil {
		return fmt.Errorf("indexing dlq entry %q: %w", entry.ID, err)
	}
	return nil
}

// List returns all stored entries, oldest first. Index members whose entry
// has expired under a configured retention window are pruned.
func (s *Store) List(ctx context.Context) ([]types.DLQEntry, error) {
	ids, err := s.client.ZRange(ctx, s.dlqIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dlq index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dlqKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading dlq entries: %w", err)
	}

	var (
		entries []types.DLQEntry
		expired []interface{}
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var e types.DLQEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling dlq entry %q: %w", ids[i], err)
		}
		entries = append(entries, e)
	}

	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, s.dlqIndexKey(), expired...).Err()
	}
	return entries, nil
}

// Delete removes an entry and its index member.
func (s *Store) Delete(ctx context.Context, entry types.DLQEntry) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dlqKey(entry.ID))
	pipe.ZRem(ctx, s.dlqIndexKey(), entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting dlq entry %q: %w", entry.ID, err)
	}
	return nil
}
