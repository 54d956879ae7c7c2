// Package cache keeps recommendation results in Redis. Keys carry the build
// ID of the index that produced the result, so a swapped index never serves
// stale entries; concurrent misses for one key are collapsed with
// singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/novelnest/bookmatch/internal/searcher/recommender"
	"github.com/novelnest/bookmatch/pkg/metrics"
	pkgredis "github.com/novelnest/bookmatch/pkg/redis"
	"github.com/novelnest/bookmatch/pkg/resilience"
)

const keyPrefix = "bookmatch:rec:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one query against one index build. Mode is free-form
// ("text", "title", "id"); text queries get whitespace-insensitive keys.
type Key struct {
	BuildID string
	Mode    string
	Query   string
	K       int
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. m may be nil. After repeated store
// errors the cache is bypassed until the store recovers.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewBreaker("result-cache", resilience.BreakerConfig{}),
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, key Key) (*recommender.Result, bool) {
	k := buildKey(key)
	if err := c.breaker.Allow(); err != nil {
		c.miss()
		return nil, false
	}
	data, err := c.store.Get(ctx, k)
	if pkgredis.IsNilError(err) {
		c.breaker.Record(nil)
		c.miss()
		return nil, false
	}
	c.breaker.Record(err)
	if err != nil {
		c.logger.Error("cache get failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	var result recommender.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "mode", key.Mode, "key", k)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, result *recommender.Result) {
	k := buildKey(key)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, k, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result for key or runs compute once per
// key across concurrent callers. Errors are never cached. A nil cache
// always computes.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	compute func() (*recommender.Result, error),
) (*recommender.Result, bool, error) {
	if c == nil {
		result, err := compute()
		return result, false, err
	}
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(buildKey(key), func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*recommender.Result), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Available reports whether the store is currently being used.
func (c *QueryCache) Available() bool {
	return c.breaker.State() != resilience.StateOpen
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(key Key) string {
	query := strings.ToLower(strings.TrimSpace(key.Query))
	if key.Mode == recommender.ModeText {
		query = NormalizeQuery(key.Query)
	}
	raw := fmt.Sprintf("%s|%s|k=%d", key.Mode, query, key.K)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, key.BuildID, hash[:16])
}

// NormalizeQuery lower-cases and collapses whitespace so trivially
// different spellings of one query share an entry.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
