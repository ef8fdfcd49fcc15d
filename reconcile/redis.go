package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vitwit/tokenpay/types"
)

const DefaultKeyPrefix = "tokenpay"

// RedisLedger stores each entry under its own key and indexes attempt ids in
// a sorted set scored by creation time. Entries never expire.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLedger parses url (redis://...) and connects.
func NewRedisLedger(ctx context.Context, url, prefix string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLedgerFromClient(rdb, prefix), nil
}

func NewRedisLedgerFromClient(rdb *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

// Key helpers
func (r *RedisLedger) indexKey() string {
	return fmt.Sprintf("%s:reconciliations", r.prefix)
}

func (r *RedisLedger) entryKey(id string) string {
	return fmt.Sprintf("%s:reconciliation:%s", r.prefix, id)
}

func (r *RedisLedger) Append(ctx context.Context, rec types.Reconciliation) error {
	if rec.AttemptID == "" {
		return errors.New("reconciliation without attempt id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(rec.AttemptID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(rec.CreatedAt.UnixNano()),
			Member: rec.AttemptID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store reconciliation: %w", err)
	}
	return nil
}

func (r *RedisLedger) List(ctx context.Context) ([]types.Reconciliation, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]types.Reconciliation, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, r.entryKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get reconciliation %s: %w", id, err)
		}

		var rec types.Reconciliation
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reconciliation %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisLedger) Resolve(ctx context.Context, attemptID string) error {
	removed, err := r.rdb.ZRem(ctx, r.indexKey(), attemptID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	if err := r.rdb.Del(ctx, r.entryKey(attemptID)).Err(); err != nil {
		return fmt.Errorf("failed to delete reconciliation: %w", err)
	}
	return nil
}

func (r *RedisLedger) Close() error {
	return r.rdb.Close()
}
