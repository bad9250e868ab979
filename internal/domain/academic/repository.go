package academic

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// RecordRepository is the read side of the record store. Each method
// returns the full collection for one user; ordering is not guaranteed and
// is fixed when the Snapshot is built.
type RecordRepository interface {
	// GradesForUser returns every grade of every enrollment of the user,
	// pending ones included.
	GradesForUser(ctx context.Context, userID string) ([]Grade, error)

	// EnrollmentsForUser returns the user's enrollments.
	EnrollmentsForUser(ctx context.Context, userID string) ([]Enrollment, error)

	// AllSubjects returns the program catalog, ordered by level and id.
	AllSubjects(ctx context.Context) ([]Subject, error)

	// StudySessionsForUser returns the user's study sessions.
	StudySessionsForUser(ctx context.Context, userID string) ([]StudySession, error)

	// SocialCountsForUser aggregates the social stores for the user.
	SocialCountsForUser(ctx context.Context, userID string) (SocialCounts, error)

	// ProfileForUser returns the profile. An unknown user yields an empty
	// profile, not an error.
	ProfileForUser(ctx context.Context, userID string) (Profile, error)

	// UsersWithActivitySince lists users with grades, enrollments or study
	// sessions recorded at or after since.
	UsersWithActivitySince(ctx context.Context, since time.Time) ([]string, error)
}

// GradeWriter stores new grades.
type GradeWriter interface {
	// InsertGrade persists the grade and returns it with its stored id.
	// Returns ErrEnrollmentNotFound when the enrollment does not belong to
	// the user.
	InsertGrade(ctx context.Context, userID string, grade Grade) (Grade, error)
}
