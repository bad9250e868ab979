package redis

import (
	"context"
	"errors"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/circuitbreaker"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// valueStore is the subset of Cache used by CatalogCache.
type valueStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CatalogCache serves AllAchievements from Redis and falls back to the
// wrapped repository on a miss or any Redis error. Writes go straight to the
// repository and drop the cached copy. Redis reads and writes pass through a
// circuit breaker; while it is open the repository is read directly.
type CatalogCache struct {
	repo    achievement.CatalogRepository
	cache   valueStore
	ttl     time.Duration
	log     *logger.Logger
	breaker *circuitbreaker.CircuitBreaker
}

// NewCatalogCache wraps repo. A non-positive ttl uses TTLCatalog.
func NewCatalogCache(repo achievement.CatalogRepository, cache valueStore, ttl time.Duration, log *logger.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = TTLCatalog
	}
	if log == nil {
		log = logger.NewNop()
	}
	c := &CatalogCache{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		log:   log.With(logger.Component("catalog_cache")),
	}
	c.breaker = NewBreaker("catalog_cache", c.log)
	return c
}

// NewBreaker returns the breaker used in front of Redis. Cache misses do not
// count as failures.
func NewBreaker(name string, log *logger.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.CacheBreaker(name,
		func(err error) bool { return !errors.Is(err, ErrCacheMiss) },
		func(name string, from, to circuitbreaker.State) {
			log.Warn("redis circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	)
}

// SetBreaker replaces the default breaker.
func (c *CatalogCache) SetBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// AllAchievements implements achievement.CatalogRepository.
func (c *CatalogCache) AllAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	var cached []achievement.Achievement
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, CatalogKey(), &cached)
	})
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
	case circuitbreaker.IsRejected(err):
		c.log.Debug("catalog cache bypassed", logger.Err(err))
	default:
		c.log.Warn("catalog cache read failed", logger.Err(err))
	}

	entries, err := c.repo.AllAchievements(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, CatalogKey(), entries, c.ttl)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		c.log.Warn("catalog cache write failed", logger.Err(err))
	}
	return entries, nil
}

// UpsertAchievements implements achievement.CatalogRepository.
func (c *CatalogCache) UpsertAchievements(ctx context.Context, entries []achievement.Achievement) error {
	if err := c.repo.UpsertAchievements(ctx, entries); err != nil {
		return err
	}
	_ = c.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached catalog. It skips the breaker so an upsert
// never leaves a stale copy behind when Redis is reachable.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	if err := c.cache.Delete(ctx, CatalogKey()); err != nil {
		c.log.Warn("catalog cache invalidation failed", logger.Err(err))
		return err
	}
	return nil
}

var _ achievement.CatalogRepository = (*CatalogCache)(nil)
