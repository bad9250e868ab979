// Package bootstrap wires the store, the optional Redis layer, the event bus
// and the evaluation flow from a loaded configuration. Both binaries build
// their engine through it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/config"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/command"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/eventhandler"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/saga"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/catalog"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/messaging"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/metrics"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/persistence/postgres"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/persistence/redis"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/persistence/sqlite"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store groups the repositories one driver provides.
type Store struct {
	Records academic.RecordRepository
	Grades  academic.GradeWriter
	Catalog achievement.CatalogRepository
	Unlocks achievement.UnlockRepository

	// IsTransient classifies driver errors worth retrying.
	IsTransient func(error) bool

	Driver string
	ping   func(context.Context) error
	close  func()
}

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the store.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore opens the configured driver and applies its migrations.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("sqlite store ready", logger.String("path", cfg.SQLitePath))
		return &Store{
			Records:     db,
			Grades:      db,
			Catalog:     db,
			Unlocks:     db,
			IsTransient: sqlite.IsTransient,
			Driver:      config.DriverSQLite,
			ping:        db.Ping,
			close:       func() { _ = db.Close() },
		}, nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.PostgresURL
		pgCfg.MaxConns = cfg.MaxConns
		pgCfg.MinConns = cfg.MinConns
		pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pgCfg.QueryTimeout = cfg.QueryTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("postgres store ready")

		records := postgres.NewRecordRepository(conn)
		achievements := postgres.NewAchievementRepository(conn)
		return &Store{
			Records:     records,
			Grades:      records,
			Catalog:     achievements,
			Unlocks:     achievements,
			IsTransient: postgres.IsTransient,
			Driver:      config.DriverPostgres,
			ping:        conn.Ping,
			close:       conn.Close,
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// OpenRedis connects when Redis is enabled. It returns nil, nil when it is
// not configured.
func OpenRedis(cfg config.RedisConfig) (*redis.Cache, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	rc := redis.DefaultConfig()
	rc.Addr = cfg.Addr
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout

	return redis.NewCache(rc)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine is a ready evaluation flow together with the pieces it was built
// from.
type Engine struct {
	Flow        *saga.EvaluationFlowSaga
	RecordGrade *command.RecordGradeHandler
	Bus         *messaging.InMemoryEventBus
	Catalog     achievement.CatalogRepository
	Metrics     *metrics.Recorder
	Seeded      int
}

// Close drains the event bus.
func (e *Engine) Close() error {
	return e.Bus.Close()
}

// NewEngine builds the evaluation flow on top of store. cache may be nil;
// when set it backs the catalog cache, the per-user lock and, if the
// events.redis_relay flag is on, the pub/sub relay.
func NewEngine(ctx context.Context, cfg *config.Config, store *Store, cache *redis.Cache, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}

	flags := cfg.Features
	if flags == nil {
		flags = config.NewFeatureFlags()
	}

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Engine.AsyncEvents,
		WorkerPoolSize: cfg.Engine.EventWorkers,
		Logger:         log,
		EnableMetrics:  true,
	})

	notify := eventhandler.NewOnAchievementUnlockedHandler(store.Unlocks, flags, log)
	if err := bus.Subscribe(shared.EventAchievementUnlocked, notify.Handle); err != nil {
		_ = bus.Close()
		return nil, err
	}

	catalogRepo := store.Catalog
	var locker saga.EvaluationLocker
	if cache != nil {
		catalogRepo = redis.NewCatalogCache(store.Catalog, cache, cfg.Engine.CatalogCacheTTL, log)
		locker = redis.NewEvaluationLock(cache, cfg.Engine.LockTTL, log)

		if flags.IsEnabled(config.FeatureEventsRedisRelay, nil) {
			relay := messaging.NewRedisRelay(cache, 2*time.Second, log)
			if err := relay.Attach(bus); err != nil {
				_ = bus.Close()
				return nil, err
			}
		}
	}

	seeded := 0
	if cfg.Engine.SeedCatalog {
		n, err := catalog.Seed(ctx, catalogRepo)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		seeded = n
		log.Info("catalog seeded", logger.Count(n))
	}

	recorder := metrics.NewRecorder()
	unlocker := command.NewUnlockAchievementHandler(store.Unlocks, log, command.UnlockAchievementHandlerConfig{
		IsTransient: store.IsTransient,
	})

	builder := saga.NewEvaluationFlowSagaBuilder().
		WithRecordRepo(store.Records).
		WithCatalogRepo(catalogRepo).
		WithUnlockRepo(store.Unlocks).
		WithUnlocker(unlocker).
		WithCategoryGate(flags).
		WithEventBus(bus).
		WithMetrics(recorder).
		WithLogger(log).
		WithConfig(saga.DefaultEvaluationFlowConfig())
	if locker != nil {
		builder = builder.WithLocker(locker)
	}

	flow, err := builder.Build()
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("build evaluation flow: %w", err)
	}

	return &Engine{
		Flow:        flow,
		RecordGrade: command.NewRecordGradeHandler(store.Grades, flow, bus, log),
		Bus:         bus,
		Catalog:     catalogRepo,
		Metrics:     recorder,
		Seeded:      seeded,
	}, nil
}
