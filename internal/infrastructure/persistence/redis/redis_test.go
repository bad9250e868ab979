package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/circuitbreaker"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type memValues struct {
	mu      sync.Mutex
	data    map[string][]achievement.Achievement
	ttls    map[string]time.Duration
	tokens  map[string]string
	failGet error
	failSet error
	failDel error
	failNX  error
}

func newMemValues() *memValues {
	return &memValues{
		data:   map[string][]achievement.Achievement{},
		ttls:   map[string]time.Duration{},
		tokens: map[string]string{},
	}
}

func (m *memValues) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return ErrCacheMiss
	}
	*(dest.(*[]achievement.Achievement)) = v
	return nil
}

func (m *memValues) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value.([]achievement.Achievement)
	m.ttls[key] = ttl
	return nil
}

func (m *memValues) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDel != nil {
		return m.failDel
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memValues) SetNX(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNX != nil {
		return false, m.failNX
	}
	if _, held := m.tokens[key]; held {
		return false, nil
	}
	m.tokens[key] = token
	return true, nil
}

func (m *memValues) DeleteIfEquals(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens[key] != token {
		return false, nil
	}
	delete(m.tokens, key)
	return true, nil
}

type countingCatalog struct {
	entries []achievement.Achievement
	reads   int
	writes  int
	err     error
}

func (c *countingCatalog) AllAchievements(context.Context) ([]achievement.Achievement, error) {
	c.reads++
	return c.entries, c.err
}

func (c *countingCatalog) UpsertAchievements(_ context.Context, entries []achievement.Achievement) error {
	c.writes++
	if c.err != nil {
		return c.err
	}
	c.entries = entries
	return nil
}

func sampleCatalog() []achievement.Achievement {
	return []achievement.Achievement{
		{ID: "primer_2", Name: "Primera nota", Category: achievement.CategoryMilestones},
		{ID: "racha_5_aprobadas", Name: "Racha de 5", Category: achievement.CategoryStreaks},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalog cache
// ─────────────────────────────────────────────────────────────────────────────

func TestCatalogCacheReadThrough(t *testing.T) {
	repo := &countingCatalog{entries: sampleCatalog()}
	store := newMemValues()
	cache := NewCatalogCache(repo, store, 0, nil)
	ctx := context.Background()

	first, err := cache.AllAchievements(ctx)
	require.NoError(t, err)
	second, err := cache.AllAchievements(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.reads)
	assert.Equal(t, TTLCatalog, store.ttls[CatalogKey()])
}

func TestCatalogCacheFallsBackOnRedisError(t *testing.T) {
	repo := &countingCatalog{entries: sampleCatalog()}
	store := newMemValues()
	store.failGet = errors.New("connection refused")
	store.failSet = errors.New("connection refused")
	log, logs := logger.NewObserved(zapcore.WarnLevel)
	cache := NewCatalogCache(repo, store, time.Minute, log)

	got, err := cache.AllAchievements(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, logs.FilterMessage("catalog cache read failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("catalog cache write failed").Len())
}

func TestCatalogCacheDoesNotCacheEmptyCatalog(t *testing.T) {
	repo := &countingCatalog{}
	store := newMemValues()
	cache := NewCatalogCache(repo, store, 0, nil)

	_, err := cache.AllAchievements(context.Background())
	require.NoError(t, err)
	_, err = cache.AllAchievements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.reads)
}

func TestCatalogCachePropagatesStoreError(t *testing.T) {
	repo := &countingCatalog{err: errors.New("db down")}
	cache := NewCatalogCache(repo, newMemValues(), 0, nil)

	_, err := cache.AllAchievements(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestCatalogCacheUpsertInvalidates(t *testing.T) {
	repo := &countingCatalog{entries: sampleCatalog()}
	store := newMemValues()
	cache := NewCatalogCache(repo, store, 0, nil)
	ctx := context.Background()

	_, err := cache.AllAchievements(ctx)
	require.NoError(t, err)

	updated := append(sampleCatalog(), achievement.Achievement{ID: "nuevo", Name: "Nuevo", Category: achievement.CategorySocial})
	require.NoError(t, cache.UpsertAchievements(ctx, updated))

	got, err := cache.AllAchievements(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, repo.reads)
}

func TestCatalogCacheUpsertToleratesInvalidateFailure(t *testing.T) {
	repo := &countingCatalog{}
	store := newMemValues()
	store.failDel = errors.New("timeout")
	cache := NewCatalogCache(repo, store, 0, nil)

	assert.NoError(t, cache.UpsertAchievements(context.Background(), sampleCatalog()))
	assert.Error(t, cache.Invalidate(context.Background()))
}

func TestCatalogCacheBreakerBypassesRedis(t *testing.T) {
	repo := &countingCatalog{entries: sampleCatalog()}
	store := newMemValues()
	store.failGet = errors.New("connection refused")
	store.failSet = errors.New("connection refused")
	log, logs := logger.NewObserved(zapcore.WarnLevel)
	cache := NewCatalogCache(repo, store, time.Minute, log)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.AllAchievements(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}

	assert.Equal(t, 3, repo.reads)
	assert.Equal(t, 2, logs.FilterMessage("catalog cache read failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("catalog cache write failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("redis circuit state changed").Len())
}

func TestCatalogCacheBreakerRecovers(t *testing.T) {
	repo := &countingCatalog{entries: sampleCatalog()}
	store := newMemValues()
	store.failGet = errors.New("connection refused")
	cache := NewCatalogCache(repo, store, 0, nil)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cache.SetBreaker(circuitbreaker.New(circuitbreaker.Settings{
		Name:        "test",
		MaxFailures: 1,
		Probes:      1,
		Cooldown:    time.Minute,
		Now:         func() time.Time { return now },
		IsFailure:   func(err error) bool { return !errors.Is(err, ErrCacheMiss) },
	}))
	ctx := context.Background()

	_, err := cache.AllAchievements(ctx)
	require.NoError(t, err)
	store.failGet = nil

	// Still open: the cache is not consulted or filled.
	_, err = cache.AllAchievements(ctx)
	require.NoError(t, err)
	assert.NotContains(t, store.data, CatalogKey())

	now = now.Add(time.Minute)
	_, err = cache.AllAchievements(ctx)
	require.NoError(t, err)
	assert.Contains(t, store.data, CatalogKey())

	_, err = cache.AllAchievements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.reads)
}

// ─────────────────────────────────────────────────────────────────────────────
// Evaluation lock
// ─────────────────────────────────────────────────────────────────────────────

func TestEvaluationLockExclusive(t *testing.T) {
	store := newMemValues()
	lock := NewEvaluationLock(store, 0, nil)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = lock.Acquire(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	_, ok, err = lock.Acquire(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluationLockReleaseKeepsForeignToken(t *testing.T) {
	store := newMemValues()
	log, logs := logger.NewObserved(zapcore.WarnLevel)
	lock := NewEvaluationLock(store, time.Second, log)

	release, ok, err := lock.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)

	store.tokens[EvaluationLockKey("u1")] = "someone-else"
	release()

	assert.Equal(t, "someone-else", store.tokens[EvaluationLockKey("u1")])
	assert.Equal(t, 1, logs.FilterMessage("evaluation lock expired before release").Len())
}

func TestEvaluationLockErrors(t *testing.T) {
	store := newMemValues()
	store.failNX = errors.New("READONLY")
	lock := NewEvaluationLock(store, 0, nil)

	_, ok, err := lock.Acquire(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)

	_, _, err = lock.Acquire(context.Background(), "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "catalog:all", CatalogKey())
	assert.Equal(t, "lock:evaluation:u1", EvaluationLockKey("u1"))
	assert.Equal(t, "pubsub:achievement.unlocked", PubSubChannel("achievement.unlocked"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Live Redis
// ─────────────────────────────────────────────────────────────────────────────

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.DB = 15
	cache, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	require.NoError(t, cache.Client().FlushDB(context.Background()).Err())
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, CatalogKey(), sampleCatalog(), time.Minute))

	var got []achievement.Achievement
	require.NoError(t, cache.Get(ctx, CatalogKey(), &got))
	assert.Equal(t, sampleCatalog(), got)

	ttl, err := cache.Client().TTL(ctx, CatalogKey()).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	require.NoError(t, cache.Delete(ctx, CatalogKey()))
	assert.ErrorIs(t, cache.Get(ctx, CatalogKey(), &got), ErrCacheMiss)

	assert.ErrorIs(t, cache.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, cache.Set(ctx, "k", nil, 0), ErrCacheNilValue)
}

func TestCacheLockAgainstRedis(t *testing.T) {
	cache := openTestCache(t)
	lock := NewEvaluationLock(cache, 5*time.Second, nil)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	exists, err := cache.Client().Exists(ctx, EvaluationLockKey("u1")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
