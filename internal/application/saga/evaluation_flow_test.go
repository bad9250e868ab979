package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement/predicates"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeRecords struct {
	grades []academic.Grade
	err    error
}

func (f *fakeRecords) GradesForUser(context.Context, string) ([]academic.Grade, error) {
	return f.grades, f.err
}
func (f *fakeRecords) EnrollmentsForUser(context.Context, string) ([]academic.Enrollment, error) {
	return nil, nil
}
func (f *fakeRecords) AllSubjects(context.Context) ([]academic.Subject, error) { return nil, nil }
func (f *fakeRecords) StudySessionsForUser(context.Context, string) ([]academic.StudySession, error) {
	return nil, nil
}
func (f *fakeRecords) SocialCountsForUser(context.Context, string) (academic.SocialCounts, error) {
	return academic.SocialCounts{}, nil
}
func (f *fakeRecords) ProfileForUser(context.Context, string) (academic.Profile, error) {
	return academic.Profile{}, nil
}
func (f *fakeRecords) UsersWithActivitySince(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

type staticCatalog []achievement.Achievement

func (c staticCatalog) AllAchievements(context.Context) ([]achievement.Achievement, error) {
	return c, nil
}
func (c staticCatalog) UpsertAchievements(context.Context, []achievement.Achievement) error {
	return nil
}

// memUnlocks is both the unlock repository and the unlocker.
type memUnlocks struct {
	mu      sync.Mutex
	held    map[string]map[string]struct{}
	inserts int
	// raced ids are inserted by "another writer" right before ours.
	raced map[string]bool
	// failing ids make TryUnlock return the error without inserting.
	failing map[string]error
}

func newMemUnlocks() *memUnlocks {
	return &memUnlocks{
		held:    map[string]map[string]struct{}{},
		raced:   map[string]bool{},
		failing: map[string]error{},
	}
}

func (m *memUnlocks) UnlockedIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for id := range m.held[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *memUnlocks) Exists(_ context.Context, achievementID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[userID][achievementID]
	return ok, nil
}

func (m *memUnlocks) InsertUnlock(_ context.Context, u achievement.Unlock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[u.UserID] == nil {
		m.held[u.UserID] = map[string]struct{}{}
	}
	if _, ok := m.held[u.UserID][u.AchievementID]; ok {
		return false, nil
	}
	m.held[u.UserID][u.AchievementID] = struct{}{}
	m.inserts++
	return true, nil
}

func (m *memUnlocks) MarkNotified(context.Context, string) error { return nil }

func (m *memUnlocks) ListUnlocks(context.Context, string) ([]achievement.Unlock, error) {
	return nil, nil
}

func (m *memUnlocks) TryUnlock(ctx context.Context, achievementID, userID string, c map[string]any) (bool, error) {
	if err := m.failing[achievementID]; err != nil {
		return false, err
	}
	if m.raced[achievementID] {
		_, _ = m.InsertUnlock(ctx, achievement.Unlock{AchievementID: achievementID, UserID: userID})
	}
	return m.InsertUnlock(ctx, achievement.Unlock{AchievementID: achievementID, UserID: userID, Context: c})
}

type recordingBus struct {
	events []shared.Event
	err    error
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.events = append(b.events, e)
	return b.err
}

func (b *recordingBus) types() []shared.EventType {
	out := make([]shared.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventType()
	}
	return out
}

type denyGate map[string]bool

func (g denyGate) AchievementCategoryEnabled(category, _ string) bool {
	return !g[category]
}

type fakeLocker struct {
	acquired bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(context.Context, string) (func(), bool, error) {
	return func() { l.released++ }, l.acquired, l.err
}

type countingMetrics struct {
	outcomes []string
	unlocks  map[string]int
	faults   []string
}

func (m *countingMetrics) ObserveEvaluation(_, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}
func (m *countingMetrics) IncUnlock(category string) {
	if m.unlocks == nil {
		m.unlocks = map[string]int{}
	}
	m.unlocks[category]++
}
func (m *countingMetrics) IncPredicateFault(id string) { m.faults = append(m.faults, id) }

// ─── fixtures ────────────────────────────────────────────────────────────────

func testRegistry() *predicates.Registry {
	r := predicates.NewRegistry()
	r.Register("has_grade", func(s *academic.Snapshot) bool { return len(s.Grades()) > 0 })
	r.Register("has_ten", func(s *academic.Snapshot) bool {
		for _, g := range s.Grades() {
			if g.Value == 10 {
				return true
			}
		}
		return false
	})
	r.Register("never", func(*academic.Snapshot) bool { return false })
	r.Register("boom", func(*academic.Snapshot) bool { panic("index out of range") })
	r.Register("social_any", func(s *academic.Snapshot) bool { return len(s.Grades()) > 0 })
	return r
}

func testCatalog() staticCatalog {
	return staticCatalog{
		{ID: "has_grade", Name: "Has grade", Category: achievement.CategoryMilestones, Rarity: achievement.RarityCommon, Points: 10},
		{ID: "has_ten", Name: "Has ten", Category: achievement.CategoryCuriosities, Rarity: achievement.RarityRare, Points: 25},
		{ID: "never", Name: "Never", Category: achievement.CategoryNegative, Rarity: achievement.RarityCommon, Points: 10},
		{ID: "unregistered", Name: "No predicate", Category: achievement.CategoryNegative, Rarity: achievement.RarityCommon, Points: 10},
		{ID: "social_any", Name: "Social", Category: achievement.CategorySocial, Rarity: achievement.RarityCommon, Points: 10},
	}
}

type flowFixture struct {
	records *fakeRecords
	unlocks *memUnlocks
	bus     *recordingBus
	metrics *countingMetrics
	builder *EvaluationFlowSagaBuilder
}

func newFlowFixture(grades ...academic.Grade) *flowFixture {
	f := &flowFixture{
		records: &fakeRecords{grades: grades},
		unlocks: newMemUnlocks(),
		bus:     &recordingBus{},
		metrics: &countingMetrics{},
	}
	f.builder = NewEvaluationFlowSagaBuilder().
		WithRecordRepo(f.records).
		WithCatalogRepo(testCatalog()).
		WithUnlockRepo(f.unlocks).
		WithUnlocker(f.unlocks).
		WithRegistry(testRegistry()).
		WithEventBus(f.bus).
		WithMetrics(f.metrics)
	return f
}

func (f *flowFixture) saga(t *testing.T) *EvaluationFlowSaga {
	t.Helper()
	s, err := f.builder.Build()
	require.NoError(t, err)
	return s
}

func grade(id string, value float64) academic.Grade {
	return academic.Grade{
		ID: id, EnrollmentID: "e1", SubjectID: "s1", Kind: "parcial",
		Value: value, Date: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		IsPartial: true, CountsTowardAverage: true,
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestEvaluationInputValidate(t *testing.T) {
	assert.ErrorIs(t, EvaluationInput{}.Validate(), shared.ErrUserIDRequired)
	assert.NoError(t, EvaluationInput{UserID: "u1"}.Validate())
}

func TestExecuteUnlocksSatisfiedAchievements(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1", Trigger: TriggerGrade})
	require.NoError(t, err)

	assert.Equal(t, []string{"has_grade", "has_ten", "social_any"}, result.NewUnlocks)
	assert.True(t, result.HasNewUnlocks())
	assert.Empty(t, result.Faulted)
	assert.Equal(t, 4, result.Evaluated)
	assert.Equal(t, 0, result.AlreadyUnlocked)
	assert.False(t, result.Skipped)

	assert.Equal(t, []shared.EventType{
		shared.EventAchievementUnlocked,
		shared.EventAchievementUnlocked,
		shared.EventAchievementUnlocked,
		shared.EventEvaluationCompleted,
	}, f.bus.types())
	assert.Equal(t, "has_grade", f.bus.events[0].Payload()["achievement_id"])
	assert.Equal(t, []string{"ok"}, f.metrics.outcomes)
	assert.Equal(t, 1, f.metrics.unlocks["curiosities"])
}

func TestExecuteIsIdempotent(t *testing.T) {
	f := newFlowFixture(grade("g1", 7))
	s := f.saga(t)
	ctx := context.Background()

	first, err := s.Execute(ctx, EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"has_grade", "social_any"}, first.NewUnlocks)

	second, err := s.Execute(ctx, EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, second.NewUnlocks)
	assert.False(t, second.HasNewUnlocks())
	assert.Equal(t, 2, second.AlreadyUnlocked)
	assert.Equal(t, 2, f.unlocks.inserts)
}

func TestExecuteWithoutRecordsUnlocksNothing(t *testing.T) {
	f := newFlowFixture()
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, result.NewUnlocks)
	assert.Equal(t, []shared.EventType{shared.EventEvaluationCompleted}, f.bus.types())
}

func TestExecuteRejectsEmptyUser(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	s := f.saga(t)

	_, err := s.Execute(context.Background(), EvaluationInput{})
	require.Error(t, err)

	var flowErr *EvaluationFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepValidateInput, flowErr.Step)
	assert.ErrorIs(t, err, shared.ErrUserIDRequired)
	assert.Zero(t, f.unlocks.inserts)
}

func TestExecuteLoadFailureWritesNothing(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.records.err = errors.New("connection refused")
	s := f.saga(t)

	_, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.Error(t, err)

	var flowErr *EvaluationFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepLoadSnapshot, flowErr.Step)
	assert.Equal(t, "u1", flowErr.UserID)
	assert.ErrorContains(t, err, "connection refused")
	assert.Zero(t, f.unlocks.inserts)
	assert.Empty(t, f.bus.events)
	assert.Equal(t, []string{"error"}, f.metrics.outcomes)
}

func TestExecuteIsolatesPanickingPredicate(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	catalog := append(testCatalog(), achievement.Achievement{
		ID: "boom", Name: "Boom", Category: achievement.CategoryChallenges, Rarity: achievement.RarityEpic, Points: 50,
	})
	log, logs := logger.NewObserved(zapcore.ErrorLevel)
	f.builder.WithCatalogRepo(catalog).WithLogger(log)
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, result.Faulted)
	assert.Equal(t, []string{"has_grade", "has_ten", "social_any"}, result.NewUnlocks)
	assert.Equal(t, []string{"boom"}, f.metrics.faults)

	faults := logs.FilterMessage("predicate panicked").All()
	require.Len(t, faults, 1)
	fields := faults[0].ContextMap()
	assert.Equal(t, "boom", fields["achievement_id"])
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "index out of range", fields["panic"])
}

func TestExecuteAnnouncesStoredUnlocksWhenAnotherFails(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.unlocks.failing["has_ten"] = errors.New("disk full")
	s := f.saga(t)
	ctx := context.Background()

	result, err := s.Execute(ctx, EvaluationInput{UserID: "u1"})
	require.Error(t, err)
	var flowErr *EvaluationFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepRecordUnlocks, flowErr.Step)
	assert.ErrorContains(t, err, "has_ten")

	// Entries before and after the failing one are stored and announced.
	require.NotNil(t, result)
	assert.Equal(t, []string{"has_grade", "social_any"}, result.NewUnlocks)
	assert.Equal(t, []shared.EventType{
		shared.EventAchievementUnlocked,
		shared.EventAchievementUnlocked,
		shared.EventEvaluationCompleted,
	}, f.bus.types())
	assert.Equal(t, "has_grade", f.bus.events[0].Payload()["achievement_id"])
	assert.Equal(t, "social_any", f.bus.events[1].Payload()["achievement_id"])
	assert.Equal(t, []string{"error"}, f.metrics.outcomes)

	// Once the store recovers only the failed entry is left.
	delete(f.unlocks.failing, "has_ten")
	f.bus.events = nil
	second, err := s.Execute(ctx, EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"has_ten"}, second.NewUnlocks)
	assert.Equal(t, "has_ten", f.bus.events[0].Payload()["achievement_id"])
}

func TestExecuteSkipsDisabledCategories(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.builder.WithCategoryGate(denyGate{"social": true})
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"has_grade", "has_ten"}, result.NewUnlocks)
	assert.Equal(t, 1, result.SkippedCount)
}

func TestExecuteSkipsWhenLockHeld(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	locker := &fakeLocker{acquired: false}
	f.builder.WithLocker(locker)
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, result.NewUnlocks)
	assert.Zero(t, f.unlocks.inserts)
	assert.Zero(t, locker.released)
}

func TestExecuteReleasesLock(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	locker := &fakeLocker{acquired: true}
	f.builder.WithLocker(locker)
	s := f.saga(t)

	_, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestExecuteProceedsWhenLockerFails(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.builder.WithLocker(&fakeLocker{err: errors.New("redis down")})
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, result.NewUnlocks, 3)
}

func TestExecuteDoesNotReportLostInsertRace(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.unlocks.raced["has_ten"] = true
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"has_grade", "social_any"}, result.NewUnlocks)
}

func TestExecuteIgnoresPublishFailures(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.bus.err = errors.New("bus closed")
	s := f.saga(t)

	result, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, result.NewUnlocks, 3)
}

func TestExecuteWithEventsDisabled(t *testing.T) {
	f := newFlowFixture(grade("g1", 10))
	f.builder.WithConfig(EvaluationFlowConfig{EnableEvents: false})
	s := f.saga(t)

	_, err := s.Execute(context.Background(), EvaluationInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, f.bus.events)
}

func TestBuilderRequiresDependencies(t *testing.T) {
	_, err := NewEvaluationFlowSagaBuilder().Build()
	assert.EqualError(t, err, "record repository is required")

	_, err = NewEvaluationFlowSagaBuilder().WithRecordRepo(&fakeRecords{}).Build()
	assert.EqualError(t, err, "catalog repository is required")

	_, err = NewEvaluationFlowSagaBuilder().
		WithRecordRepo(&fakeRecords{}).
		WithCatalogRepo(staticCatalog{}).
		Build()
	assert.EqualError(t, err, "unlock repository is required")

	u := newMemUnlocks()
	_, err = NewEvaluationFlowSagaBuilder().
		WithRecordRepo(&fakeRecords{}).
		WithCatalogRepo(staticCatalog{}).
		WithUnlockRepo(u).
		Build()
	assert.EqualError(t, err, "unlocker is required")
}
