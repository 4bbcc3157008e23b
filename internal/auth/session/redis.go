package session

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/bhandzo/cw-search-prototype/pkg/redis"
)

const redisKeyPrefix = "session:"

// KV is the subset of pkg/redis.Client the redis store needs.
type KV interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
}

// RedisStore keeps sessions as JSON values whose TTL matches the session
// expiry, so Redis evicts them on its own.
type RedisStore struct {
	kv  KV
	now func() time.Time
}

func NewRedisStore(kv KV) *RedisStore {
	return &RedisStore{kv: kv, now: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, tokenHash string, rec *Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired at %s", rec.ExpiresAt)
	}
	if err := s.kv.SetJSON(ctx, redisKeyPrefix+tokenHash, rec, ttl); err != nil {
		return fmt.Errorf("writing session to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tokenHash string) (*Record, error) {
	var rec Record
	if err := s.kv.GetJSON(ctx, redisKeyPrefix+tokenHash, &rec); err != nil {
		if pkgredis.IsNilError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, tokenHash string) error {
	n, err := s.kv.Del(ctx, redisKeyPrefix+tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
