package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "sensor:"
	defaultTTL       = 24 * time.Hour
	maxTxRetries     = 8
)

// RedisStore keeps both cache views in Redis so several consoles can share
// the same hot state. Records are stored as JSON under
// "<prefix>detail:<id>" and "<prefix>list". Updates run inside
// WATCH/MULTI transactions and are retried on conflict.
type RedisStore struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// RedisConfig holds the configuration for RedisStore.
type RedisConfig struct {
	Client    redis.UniversalClient
	Logger    *slog.Logger
	KeyPrefix string
	// TTL expires keys of sensors that stop reporting. Zero means 24h.
	TTL time.Duration
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.New("redis store config cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisStore{rdb: cfg.Client, logger: cfg.Logger, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) detailKey(id string) string { return s.prefix + "detail:" + id }
func (s *RedisStore) listKey() string            { return s.prefix + "list" }

// Detail implements Store.
func (s *RedisStore) Detail(ctx context.Context, id string) (Record, bool, error) {
	raw, err := s.rdb.Get(ctx, s.detailKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get detail %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil || r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// UpdateDetail implements Store.
func (s *RedisStore) UpdateDetail(ctx context.Context, id string, fn DetailUpdater) error {
	key := s.detailKey(id)
	return s.transact(ctx, key, func(tx *redis.Tx) error {
		current, ok := Record(nil), false
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if jsonErr := json.Unmarshal(raw, &current); jsonErr == nil && current != nil {
				ok = true
			}
		}

		next, err := json.Marshal(fn(current, ok))
		if err != nil {
			return fmt.Errorf("encode detail %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	})
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Record, bool, error) {
	raw, err := s.rdb.Get(ctx, s.listKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get list: %w", err)
	}
	var list []Record
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false, nil
	}
	return list, true, nil
}

// UpdateList implements Store.
func (s *RedisStore) UpdateList(ctx context.Context, fn ListUpdater) error {
	key := s.listKey()
	return s.transact(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var list []Record
		if err := json.Unmarshal(raw, &list); err != nil {
			s.logger.Debug("cached sensor list is not list-shaped, skipping update", "error", err)
			return nil
		}

		next, err := json.Marshal(fn(list))
		if err != nil {
			return fmt.Errorf("encode list: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	})
}

// SetList implements Store.
func (s *RedisStore) SetList(ctx context.Context, list []Record) error {
	if list == nil {
		list = []Record{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode list: %w", err)
	}
	if err := s.rdb.Set(ctx, s.listKey(), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set list: %w", err)
	}
	return nil
}

// transact runs fn under WATCH key, retrying when another writer wins.
func (s *RedisStore) transact(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for range maxTxRetries {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too many concurrent writers", key)
}
