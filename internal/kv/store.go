package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/profile-ledger/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key or member is absent
var ErrNotFound = errors.New("key not found")

// Member is a scored member of a sorted set
type Member struct {
	ID    string
	Score int64
}

// Store provides typed access to the shared key-value store. Multi-key
// sequences are not transactional; callers must tolerate partially-applied
// prior writes.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Store and verifies connectivity
func New(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client, used by tests
func NewWithClient(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// GetJSON reads a key and unmarshals it into v
func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return fmt.Errorf("getting %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and writes it under key. A zero ttl means no expiry.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// GetString reads a plain string value
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting %s: %w", key, err)
	}
	return val, nil
}

// SetString writes a plain string value. A zero ttl means no expiry.
func (s *Store) SetString(ctx context.Context, key, val string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Del removes keys
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// Incr atomically increments a counter key
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	return n, nil
}

// Expire sets a ttl on an existing key
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expiring %s: %w", key, err)
	}
	return nil
}

// ZUpsert sets a member's score in a sorted set
func (s *Store) ZUpsert(ctx context.Context, key, member string, score int64) error {
	err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("upserting score in %s: %w", key, err)
	}
	return nil
}

// ZRem removes a member from a sorted set
func (s *Store) ZRem(ctx context.Context, key, member string) error {
	if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("removing member from %s: %w", key, err)
	}
	return nil
}

// ZScore returns a member's score, or ErrNotFound
func (s *Store) ZScore(ctx context.Context, key, member string) (int64, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("getting score in %s: %w", key, err)
	}
	return int64(score), nil
}

// ZRank returns a member's 0-indexed rank, descending by score
func (s *Store) ZRank(ctx context.Context, key, member string) (int64, error) {
	rank, err := s.client.ZRevRank(ctx, key, member).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("getting rank in %s: %w", key, err)
	}
	return rank, nil
}

// ZRange returns members by rank position, inclusive, 0-indexed
func (s *Store) ZRange(ctx context.Context, key string, start, stop int64, descending bool) ([]Member, error) {
	var results []redis.Z
	var err error
	if descending {
		results, err = s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	} else {
		results, err = s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("ranging %s: %w", key, err)
	}
	return toMembers(results), nil
}

// ZRangeByScore returns members whose scores fall in [min, max], descending
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max int64, limit int64) ([]Member, error) {
	results, err := s.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   fmt.Sprintf("%d", min),
		Max:   fmt.Sprintf("%d", max),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("ranging %s by score: %w", key, err)
	}
	return toMembers(results), nil
}

// ZCard returns the cardinality of a sorted set
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", key, err)
	}
	return n, nil
}

func toMembers(results []redis.Z) []Member {
	members := make([]Member, len(results))
	for i, z := range results {
		members[i] = Member{ID: z.Member.(string), Score: int64(z.Score)}
	}
	return members
}

// LPush prepends values to a list key
func (s *Store) LPush(ctx context.Context, key string, vals ...any) error {
	if err := s.client.LPush(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("pushing to %s: %w", key, err)
	}
	return nil
}

// RPopCount pops up to n values from the tail of a list key. An empty list
// yields no values and no error.
func (s *Store) RPopCount(ctx context.Context, key string, n int) ([]string, error) {
	vals, err := s.client.RPopCount(ctx, key, n).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("popping from %s: %w", key, err)
	}
	return vals, nil
}

// LTrim bounds a list key to the given range
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("trimming %s: %w", key, err)
	}
	return nil
}

// ScanBudget iterates keys matching pattern, invoking fn per key, until the
// keyspace is exhausted or budget elapses. Returns false when the scan was
// cut short. Used only by degraded fallback paths; never an error to run out
// of budget.
func (s *Store) ScanBudget(ctx context.Context, pattern string, budget time.Duration, fn func(key string) (done bool, err error)) (bool, error) {
	deadline := time.Now().Add(budget)
	var cursor uint64
	for {
		if time.Now().After(deadline) {
			s.logger.Warn("key scan exhausted its time budget", "pattern", pattern)
			return false, nil
		}
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return false, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		for _, key := range keys {
			done, err := fn(key)
			if err != nil {
				return false, err
			}
			if done {
				return true, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return true, nil
		}
	}
}
