package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RecordRepository implements academic.RecordRepository and
// academic.GradeWriter for PostgreSQL.
type RecordRepository struct {
	conn *Connection
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(conn *Connection) *RecordRepository {
	return &RecordRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Grades
// ─────────────────────────────────────────────────────────────────────────────

// GradesForUser returns every grade of the user, pending ones included.
func (r *RecordRepository) GradesForUser(ctx context.Context, userID string) ([]academic.Grade, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, enrollment_id, subject_id, kind, value, graded_on,
			   is_partial, is_final, is_assignment, is_makeup, counts_toward_average
		FROM grades
		WHERE user_id = $1
		ORDER BY id
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grades: %w", err)
	}
	defer rows.Close()

	var grades []academic.Grade
	for rows.Next() {
		var g academic.Grade
		var gradedOn *time.Time
		if err := rows.Scan(
			&g.ID, &g.EnrollmentID, &g.SubjectID, &g.Kind, &g.Value, &gradedOn,
			&g.IsPartial, &g.IsFinal, &g.IsAssignment, &g.IsMakeup, &g.CountsTowardAverage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan grade: %w", err)
		}
		if gradedOn != nil {
			g.Date = *gradedOn
		}
		grades = append(grades, g)
	}

	return grades, rows.Err()
}

// InsertGrade stores a grade for one of the user's enrollments.
func (r *RecordRepository) InsertGrade(ctx context.Context, userID string, g academic.Grade) (academic.Grade, error) {
	if err := g.Validate(); err != nil {
		return academic.Grade{}, err
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var subjectID string
	err := r.conn.QueryRow(ctx,
		`SELECT subject_id FROM enrollments WHERE id = $1 AND user_id = $2`,
		g.EnrollmentID, userID,
	).Scan(&subjectID)
	if err != nil {
		if IsNoRows(err) {
			return academic.Grade{}, shared.ErrEnrollmentNotFound
		}
		return academic.Grade{}, fmt.Errorf("failed to find enrollment: %w", err)
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.SubjectID == "" {
		g.SubjectID = subjectID
	}

	var gradedOn *time.Time
	if g.HasDate() {
		d := g.Date
		gradedOn = &d
	}

	query := `
		INSERT INTO grades (
			id, enrollment_id, user_id, subject_id, kind, value, graded_on,
			is_partial, is_final, is_assignment, is_makeup, counts_toward_average
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.conn.Exec(ctx, query,
		g.ID, g.EnrollmentID, userID, g.SubjectID, g.Kind, g.Value, gradedOn,
		g.IsPartial, g.IsFinal, g.IsAssignment, g.IsMakeup, g.CountsTowardAverage,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return academic.Grade{}, shared.ErrSubjectNotFound
		}
		return academic.Grade{}, fmt.Errorf("failed to insert grade: %w", err)
	}

	return g, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Enrollments & Subjects
// ─────────────────────────────────────────────────────────────────────────────

// EnrollmentsForUser returns the user's enrollments.
func (r *RecordRepository) EnrollmentsForUser(ctx context.Context, userID string) ([]academic.Enrollment, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, subject_id, status, attempt, repeated, term,
			   enrolled_at, approved_at, promoted
		FROM enrollments
		WHERE user_id = $1
		ORDER BY id
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []academic.Enrollment
	for rows.Next() {
		var e academic.Enrollment
		var status string
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.SubjectID, &status, &e.Attempt, &e.Repeated, &e.Term,
			&e.EnrolledAt, &e.ApprovedAt, &e.Promoted,
		); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		e.Status = academic.Status(status)
		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}

// AllSubjects returns the program catalog ordered by level and id.
func (r *RecordRepository) AllSubjects(ctx context.Context) ([]academic.Subject, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, name, level, credits, is_elective
		FROM subjects
		ORDER BY level, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []academic.Subject
	for rows.Next() {
		var s academic.Subject
		var credits *int
		if err := rows.Scan(&s.ID, &s.Name, &s.Level, &credits, &s.IsElective); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		s.Credits = academic.DefaultCredits
		if credits != nil {
			s.Credits = *credits
		}
		subjects = append(subjects, s)
	}

	return subjects, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Study sessions, social counts & profile
// ─────────────────────────────────────────────────────────────────────────────

// StudySessionsForUser returns the user's study sessions.
func (r *RecordRepository) StudySessionsForUser(ctx context.Context, userID string) ([]academic.StudySession, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, started_at, duration_minutes, kind
		FROM study_sessions
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query study sessions: %w", err)
	}
	defer rows.Close()

	var sessions []academic.StudySession
	for rows.Next() {
		var s academic.StudySession
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.DurationMinutes, &s.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan study session: %w", err)
		}
		if s.Kind == "" {
			s.Kind = academic.DefaultSessionKind
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// SocialCountsForUser aggregates the social tables for the user.
func (r *RecordRepository) SocialCountsForUser(ctx context.Context, userID string) (academic.SocialCounts, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT
			(SELECT COUNT(*) FROM study_groups WHERE creator_id = $1),
			(SELECT COUNT(*) FROM group_members WHERE user_id = $1),
			(SELECT COUNT(*) FROM shared_notes WHERE user_id = $1),
			(SELECT COUNT(*) FROM tutoring_sessions WHERE tutor_id = $1),
			(SELECT COUNT(*) FROM tutoring_sessions WHERE tutor_id = $1 AND successful),
			(SELECT COUNT(*) FROM thanks WHERE receiver_id = $1),
			(SELECT COUNT(*) FROM thanks WHERE sender_id = $1 AND kind = 'explicacion'),
			(SELECT COUNT(*) FROM group_sessions gs
				JOIN study_groups g ON g.id = gs.group_id
				WHERE g.creator_id = $1),
			(SELECT COALESCE(SUM(times_reviewed), 0) FROM flashcards WHERE user_id = $1)
	`

	var c academic.SocialCounts
	err := r.conn.QueryRow(ctx, query, userID).Scan(
		&c.GroupsCreated,
		&c.GroupMemberships,
		&c.NotesShared,
		&c.TutoringGiven,
		&c.TutoringSuccessful,
		&c.ThanksReceived,
		&c.ExplanationThanksSent,
		&c.SessionsInCreatedGroups,
		&c.FlashcardsReviewed,
	)
	if err != nil {
		return academic.SocialCounts{}, fmt.Errorf("failed to count social activity: %w", err)
	}
	return c, nil
}

// ProfileForUser returns the profile. Unknown users yield an empty profile.
func (r *RecordRepository) ProfileForUser(ctx context.Context, userID string) (academic.Profile, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var p academic.Profile
	err := r.conn.QueryRow(ctx, `SELECT birth_date FROM users WHERE id = $1`, userID).Scan(&p.BirthDate)
	if err != nil {
		if IsNoRows(err) {
			return academic.Profile{}, nil
		}
		return academic.Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// UsersWithActivitySince lists users with records written at or after since.
func (r *RecordRepository) UsersWithActivitySince(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id FROM grades WHERE created_at >= $1
		UNION
		SELECT user_id FROM enrollments WHERE updated_at >= $1
		UNION
		SELECT user_id FROM study_sessions WHERE created_at >= $1
		ORDER BY 1
	`

	rows, err := r.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}

	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan active users: %w", err)
	}
	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERFACE COMPLIANCE
// ══════════════════════════════════════════════════════════════════════════════

var (
	_ academic.RecordRepository = (*RecordRepository)(nil)
	_ academic.GradeWriter      = (*RecordRepository)(nil)
)
