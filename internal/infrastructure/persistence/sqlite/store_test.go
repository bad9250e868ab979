package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func execAll(t *testing.T, s *Store, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := s.DB().Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func seedStudent(t *testing.T, s *Store) {
	t.Helper()
	execAll(t, s,
		`INSERT INTO users (id, display_name, birth_date) VALUES ('u1', 'Ana', '2001-09-21'), ('u2', 'Bruno', NULL)`,
		`INSERT INTO subjects (id, name, level, credits, is_elective) VALUES
			('am1', 'Analisis Matematico I', 1, NULL, 0),
			('fis1', 'Fisica I', 1, 8, 0),
			('elec', 'Electiva', 3, 4, 1)`,
		`INSERT INTO enrollments (id, user_id, subject_id, status, attempt, enrolled_at, approved_at, promoted) VALUES
			('e1', 'u1', 'am1', 'aprobada', 1, '2024-03-01', '2024-07-10', 1),
			('e2', 'u1', 'fis1', 'cursando', 2, NULL, NULL, 0)`,
		`INSERT INTO study_sessions (id, user_id, started_at, duration_minutes, kind) VALUES
			('s1', 'u1', '2024-05-01 23:30:00', 50, ''),
			('s2', 'u1', '2024-05-02 06:15:00', 25, 'pomodoro')`,
	)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.db")

	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	var applied int
	require.NoError(t, second.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	store := openTestStore(t)
	fsys := fstest.MapFS{
		"900_extra.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE extra(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE extra;")},
	}

	require.NoError(t, applyMigrations(context.Background(), store.DB(), fsys))
	require.NoError(t, applyMigrations(context.Background(), store.DB(), fsys))

	var n int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = '900_extra.sql'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nA;\n", upSection("-- +migrate Up\nA;\n-- +migrate Down\nB;"))
	assert.Equal(t, "\nA;", upSection("-- +migrate Up\nA;"))
	assert.Equal(t, "A;", upSection("A;"))
}

func TestGradesRoundTrip(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)
	ctx := context.Background()

	stored, err := store.InsertGrade(ctx, "u1", academic.Grade{
		EnrollmentID:        "e1",
		Kind:                "parcial",
		Value:               10,
		Date:                time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		IsPartial:           true,
		CountsTowardAverage: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "am1", stored.SubjectID)

	_, err = store.InsertGrade(ctx, "u1", academic.Grade{EnrollmentID: "e2", Value: academic.PendingGrade})
	require.NoError(t, err)

	grades, err := store.GradesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, grades, 2)

	byValue := map[float64]academic.Grade{}
	for _, g := range grades {
		byValue[g.Value] = g
	}
	ten := byValue[10]
	assert.True(t, ten.IsPartial)
	assert.True(t, ten.CountsTowardAverage)
	assert.Equal(t, "2024-05-10", ten.Date.Format(dateLayout))
	assert.False(t, byValue[academic.PendingGrade].HasDate())
}

func TestInsertGradeRejectsForeignEnrollment(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)

	_, err := store.InsertGrade(context.Background(), "u2", academic.Grade{EnrollmentID: "e1", Value: 7})
	assert.ErrorIs(t, err, shared.ErrEnrollmentNotFound)

	_, err = store.InsertGrade(context.Background(), "u1", academic.Grade{EnrollmentID: "e1", Value: 11})
	assert.ErrorIs(t, err, shared.ErrInvalidGradeValue)
}

func TestEnrollmentsSubjectsSessions(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)
	ctx := context.Background()

	enrollments, err := store.EnrollmentsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	for _, e := range enrollments {
		switch e.ID {
		case "e1":
			assert.True(t, e.IsApproved())
			assert.True(t, e.Promoted)
			days, ok := e.DaysToApproval()
			assert.True(t, ok)
			assert.Equal(t, 131, days)
		case "e2":
			assert.Equal(t, academic.StatusEnrolled, e.Status)
			assert.Equal(t, 2, e.Attempt)
			assert.Nil(t, e.EnrolledAt)
		}
	}

	subjects, err := store.AllSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 3)
	assert.Equal(t, "am1", subjects[0].ID)
	assert.Equal(t, academic.DefaultCredits, subjects[0].Credits)
	assert.Equal(t, 8, subjects[1].Credits)
	assert.True(t, subjects[2].IsElective)

	sessions, err := store.StudySessionsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, academic.DefaultSessionKind, s.Kind)
		if s.ID == "s1" {
			assert.Equal(t, 23, s.StartedAt.Hour())
		}
	}
}

func TestRecordsComeBackInIDOrder(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)
	execAll(t, store,
		`INSERT INTO enrollments (id, user_id, subject_id, status) VALUES
			('e9', 'u1', 'elec', 'aprobada'),
			('e0', 'u1', 'elec', 'aprobada')`,
		`INSERT INTO grades (id, enrollment_id, user_id, subject_id, value, graded_on) VALUES
			('g3', 'e1', 'u1', 'am1', 7, '2024-06-01'),
			('g1', 'e1', 'u1', 'am1', 8, '2024-06-01'),
			('g2', 'e1', 'u1', 'am1', 9, '2024-06-01')`,
		`INSERT INTO study_sessions (id, user_id, started_at, duration_minutes) VALUES
			('s0', 'u1', '2024-05-03 10:00:00', 30)`,
	)
	ctx := context.Background()

	enrollments, err := store.EnrollmentsForUser(ctx, "u1")
	require.NoError(t, err)
	var enrollmentIDs []string
	for _, e := range enrollments {
		enrollmentIDs = append(enrollmentIDs, e.ID)
	}
	assert.Equal(t, []string{"e0", "e1", "e2", "e9"}, enrollmentIDs)

	grades, err := store.GradesForUser(ctx, "u1")
	require.NoError(t, err)
	var gradeIDs []string
	for _, g := range grades {
		gradeIDs = append(gradeIDs, g.ID)
	}
	assert.Equal(t, []string{"g1", "g2", "g3"}, gradeIDs)

	sessions, err := store.StudySessionsForUser(ctx, "u1")
	require.NoError(t, err)
	var sessionIDs []string
	for _, s := range sessions {
		sessionIDs = append(sessionIDs, s.ID)
	}
	assert.Equal(t, []string{"s0", "s1", "s2"}, sessionIDs)
}

func TestProfileForUser(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)
	ctx := context.Background()

	p, err := store.ProfileForUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p.BirthDate)
	assert.Equal(t, time.September, p.BirthDate.Month())

	p, err = store.ProfileForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, p.BirthDate)

	p, err = store.ProfileForUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, p.BirthDate)
}

func TestSocialCountsForUser(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)

	execAll(t, store,
		`INSERT INTO study_groups (id, creator_id, name) VALUES ('g1', 'u1', 'Fisica'), ('g2', 'u2', 'Quimica')`,
		`INSERT INTO group_members (group_id, user_id) VALUES ('g1', 'u1'), ('g2', 'u1')`,
		`INSERT INTO group_sessions (id, group_id, held_on) VALUES ('gs1', 'g1', '2024-04-01'), ('gs2', 'g1', '2024-04-08'), ('gs3', 'g2', '2024-04-09')`,
		`INSERT INTO shared_notes (id, user_id, title) VALUES ('n1', 'u1', 'Limites')`,
		`INSERT INTO tutoring_sessions (id, tutor_id, student_id, successful, held_on) VALUES
			('t1', 'u1', 'u2', 1, '2024-04-02'), ('t2', 'u1', 'u2', 0, '2024-04-03')`,
		`INSERT INTO thanks (id, sender_id, receiver_id, kind) VALUES
			('th1', 'u2', 'u1', 'explicacion'), ('th2', 'u1', 'u2', 'explicacion'), ('th3', 'u1', 'u2', 'apunte')`,
		`INSERT INTO flashcards (id, user_id, times_reviewed) VALUES ('f1', 'u1', 30), ('f2', 'u1', 25), ('f3', 'u2', 99)`,
	)

	c, err := store.SocialCountsForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, academic.SocialCounts{
		GroupsCreated:           1,
		GroupMemberships:        2,
		NotesShared:             1,
		TutoringGiven:           2,
		TutoringSuccessful:      1,
		ThanksReceived:          1,
		ExplanationThanksSent:   1,
		SessionsInCreatedGroups: 2,
		FlashcardsReviewed:      55,
	}, c)

	empty, err := store.SocialCountsForUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestUsersWithActivitySince(t *testing.T) {
	store := openTestStore(t)
	seedStudent(t, store)
	ctx := context.Background()

	old := toMillis(time.Now().Add(-72 * time.Hour))
	_, err := store.DB().Exec(`UPDATE enrollments SET updated_at = ?`, old)
	require.NoError(t, err)
	_, err = store.DB().Exec(`UPDATE study_sessions SET created_at = ?`, old)
	require.NoError(t, err)

	users, err := store.UsersWithActivitySince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = store.InsertGrade(ctx, "u1", academic.Grade{EnrollmentID: "e2", Value: 6})
	require.NoError(t, err)

	users, err = store.UsersWithActivitySince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

func TestCatalogUpsertKeepsOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	catalog := []achievement.Achievement{
		{ID: "zeta", Name: "Zeta", Category: achievement.CategoryMilestones},
		{ID: "alfa", Name: "Alfa", Category: achievement.CategoryStreaks, Points: 50, Rarity: achievement.RarityEpic},
	}
	require.NoError(t, store.UpsertAchievements(ctx, catalog))

	catalog[0].Name = "Zeta renombrado"
	require.NoError(t, store.UpsertAchievements(ctx, catalog))

	got, err := store.AllAchievements(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "zeta", got[0].ID)
	assert.Equal(t, "Zeta renombrado", got[0].Name)
	assert.Equal(t, achievement.DefaultPoints, got[0].Points)
	assert.Equal(t, achievement.RarityCommon, got[0].Rarity)
	assert.Equal(t, achievement.ConditionPredicate, got[0].ConditionType)
	assert.Equal(t, achievement.RarityEpic, got[1].Rarity)
}

func TestInsertUnlockAtMostOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertAchievements(ctx, []achievement.Achievement{
		{ID: "primer_10", Name: "Primer 10", Category: achievement.CategoryMilestones},
	}))

	first, err := achievement.NewUnlock("x1", "primer_10", "u1", map[string]any{"trigger": "manual"})
	require.NoError(t, err)
	second, err := achievement.NewUnlock("x2", "primer_10", "u1", nil)
	require.NoError(t, err)

	inserted, err := store.InsertUnlock(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertUnlock(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	unlocks, err := store.ListUnlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "x1", unlocks[0].ID)
	assert.Equal(t, "manual", unlocks[0].Context["trigger"])
	assert.WithinDuration(t, first.UnlockedAt, unlocks[0].UnlockedAt, time.Millisecond)

	ids, err := store.UnlockedIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"primer_10": {}}, ids)

	exists, err := store.Exists(ctx, "primer_10", "u1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "primer_10", "u2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInsertUnlockUnknownAchievement(t *testing.T) {
	store := openTestStore(t)

	u, err := achievement.NewUnlock("x1", "ghost", "u1", nil)
	require.NoError(t, err)
	_, err = store.InsertUnlock(context.Background(), u)
	assert.ErrorIs(t, err, shared.ErrAchievementNotFound)
}

func TestMarkNotified(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertAchievements(ctx, []achievement.Achievement{
		{ID: "primer_2", Name: "Primera nota", Category: achievement.CategoryMilestones},
	}))
	u, err := achievement.NewUnlock("x1", "primer_2", "u1", nil)
	require.NoError(t, err)
	_, err = store.InsertUnlock(ctx, u)
	require.NoError(t, err)

	require.NoError(t, store.MarkNotified(ctx, "x1"))
	unlocks, err := store.ListUnlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.True(t, unlocks[0].Notified)

	assert.ErrorIs(t, store.MarkNotified(ctx, "missing"), shared.ErrUnlockNotFound)
}

func TestErrorClassifiers(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsForeignKeyViolation(assert.AnError))
	assert.False(t, IsTransient(assert.AnError))

	store := openTestStore(t)
	execAll(t, store, `INSERT INTO users (id) VALUES ('dup')`)
	_, err := store.DB().Exec(`INSERT INTO users (id) VALUES ('dup')`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}
