// Package cache keeps ranked candidate lists in Redis so repeated searches
// for the same firm and keywords skip the ATS fan-out.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/ranker"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	pkgredis "github.com/bhandzo/cw-search-prototype/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Store is the subset of pkg/redis.Client the cache needs.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// defaultComputeTimeout bounds a shared fan-out once it no longer follows
// any one caller's context.
const defaultComputeTimeout = 60 * time.Second

type RankedCache struct {
	store          Store
	ttl            time.Duration
	computeTimeout time.Duration
	group          singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *RankedCache {
	return &RankedCache{
		store:          store,
		ttl:            ttl,
		computeTimeout: defaultComputeTimeout,
		metrics:        m,
		logger:         logger.WithComponent("ranked-cache"),
	}
}

// SetComputeTimeout changes how long a shared compute may run.
func (c *RankedCache) SetComputeTimeout(d time.Duration) {
	if d > 0 {
		c.computeTimeout = d
	}
}

// Key identifies one ranked list: the full credential bundle, strategy and
// the normalised keyword set. Two sessions share an entry only when they
// would send the ATS the same keys.
func Key(creds ats.Credentials, strategy ranker.Strategy, keywords parser.KeywordSet) string {
	raw := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s",
		creds.FirmSlug, creds.FirmAPIKey, creds.ClockworkAuthKey, strategy, keywords.CacheKey())
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func (c *RankedCache) Get(ctx context.Context, key string) ([]ats.Person, bool) {
	var ranked []ats.Person
	if err := c.store.GetJSON(ctx, key, &ranked); err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ObserveCache(true)
	c.logger.Debug("cache hit", "key", key, "candidates", len(ranked))
	return ranked, true
}

func (c *RankedCache) Set(ctx context.Context, key string, ranked []ats.Person) {
	if err := c.store.SetJSON(ctx, key, ranked, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached list for key or runs computeFn once for
// all concurrent callers with the same key. Errors are not cached.
//
// The shared compute runs detached from every caller, bounded by the
// compute timeout. Each caller waits only as long as its own ctx lives,
// so one caller leaving does not fail the others.
func (c *RankedCache) GetOrCompute(
	ctx context.Context,
	key string,
	computeFn func(ctx context.Context) ([]ats.Person, error),
) ([]ats.Person, bool, error) {
	if ranked, ok := c.Get(ctx, key); ok {
		return ranked, true, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(shared, c.computeTimeout)
		defer cancel()
		ranked, err := computeFn(cctx)
		if err != nil {
			return nil, err
		}
		c.Set(cctx, key, ranked)
		return ranked, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]ats.Person), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops every cached ranked list.
func (c *RankedCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *RankedCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *RankedCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveCache(false)
}
