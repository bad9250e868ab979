package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jose-Baigorria/tracking-carrera/config"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/command"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/saga"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/catalog"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/persistence/sqlite"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "engine.db"),
		},
		Engine:   config.EngineConfig{SeedCatalog: true},
		Features: config.NewFeatureFlags(),
	}
}

func openEngine(t *testing.T, cfg *config.Config) (*Store, *Engine) {
	t.Helper()
	ctx := context.Background()

	store, err := OpenStore(ctx, cfg.Store, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	engine, err := NewEngine(ctx, cfg, store, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return store, engine
}

func seedEnrollment(t *testing.T, store *Store) {
	t.Helper()
	db, ok := store.Records.(*sqlite.Store)
	require.True(t, ok)
	for _, stmt := range []string{
		`INSERT INTO users (id, display_name) VALUES ('u1', 'Ana')`,
		`INSERT INTO subjects (id, name, level) VALUES ('am1', 'Analisis Matematico I', 1)`,
		`INSERT INTO enrollments (id, user_id, subject_id, status, attempt, enrolled_at) VALUES ('e1', 'u1', 'am1', 'cursando', 1, '2024-03-01')`,
	} {
		_, err := db.DB().Exec(stmt)
		require.NoError(t, err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestOpenRedisDisabled(t *testing.T) {
	cache, err := OpenRedis(config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, cache)

	cache, err = OpenRedis(config.RedisConfig{Addr: "localhost:6379", Disabled: true})
	require.NoError(t, err)
	assert.Nil(t, cache)
}

func TestEngineSeedsCatalog(t *testing.T) {
	cfg := sqliteConfig(t)
	store, engine := openEngine(t, cfg)

	entries, err := catalog.Load()
	require.NoError(t, err)
	assert.Equal(t, len(entries), engine.Seeded)

	stored, err := engine.Catalog.AllAchievements(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, len(entries))
	assert.Equal(t, entries[0].ID, stored[0].ID)
	assert.Equal(t, config.DriverSQLite, store.Driver)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestEngineRecordGradeUnlocksOnce(t *testing.T) {
	cfg := sqliteConfig(t)
	store, engine := openEngine(t, cfg)
	seedEnrollment(t, store)
	ctx := context.Background()

	res, err := engine.RecordGrade.Handle(ctx, command.RecordGradeCommand{
		UserID:              "u1",
		EnrollmentID:        "e1",
		Kind:                "parcial",
		Value:               10,
		Date:                time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		IsPartial:           true,
		CountsTowardAverage: true,
	})
	require.NoError(t, err)
	require.NoError(t, res.EvaluationError)
	assert.Equal(t, "am1", res.Grade.SubjectID)
	assert.Subset(t, res.NewUnlocks, []string{"primer_2", "primer_4", "primer_10", "primer_parcial"})
	assert.NotContains(t, res.NewUnlocks, "primera_materia_aprobada")

	again, err := engine.Flow.Execute(ctx, saga.EvaluationInput{UserID: "u1", Trigger: saga.TriggerCLI})
	require.NoError(t, err)
	assert.Empty(t, again.NewUnlocks)
	assert.Equal(t, len(res.NewUnlocks), again.AlreadyUnlocked)

	unlocks, err := store.Unlocks.ListUnlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, len(res.NewUnlocks))
	for _, u := range unlocks {
		assert.True(t, u.Notified, u.AchievementID)
	}

	snap := engine.Bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Published["grade.recorded"])
	assert.Equal(t, int64(len(res.NewUnlocks)), snap.Published["achievement.unlocked"])
}

func TestEngineCategoryFlagSkipsEntries(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, cfg.Features.DisableFeature(config.FeatureAchievementsMilestones))
	store, engine := openEngine(t, cfg)
	seedEnrollment(t, store)

	res, err := engine.RecordGrade.Handle(context.Background(), command.RecordGradeCommand{
		UserID:       "u1",
		EnrollmentID: "e1",
		Kind:         "parcial",
		Value:        10,
		IsPartial:    true,
	})
	require.NoError(t, err)
	assert.NotContains(t, res.NewUnlocks, "primer_2")
	assert.NotContains(t, res.NewUnlocks, "primer_10")
}
