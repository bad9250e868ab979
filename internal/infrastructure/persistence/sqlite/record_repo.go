package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// Grades
// ─────────────────────────────────────────────────────────────────────────────

// GradesForUser returns every grade of the user, pending ones included.
func (s *Store) GradesForUser(ctx context.Context, userID string) ([]academic.Grade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, enrollment_id, subject_id, kind, value, graded_on,
		       is_partial, is_final, is_assignment, is_makeup, counts_toward_average
		FROM grades
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query grades: %w", err)
	}
	defer rows.Close()

	var grades []academic.Grade
	for rows.Next() {
		var g academic.Grade
		var gradedOn sql.NullString
		if err := rows.Scan(
			&g.ID, &g.EnrollmentID, &g.SubjectID, &g.Kind, &g.Value, &gradedOn,
			&g.IsPartial, &g.IsFinal, &g.IsAssignment, &g.IsMakeup, &g.CountsTowardAverage,
		); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		date, err := parseDate(gradedOn)
		if err != nil {
			return nil, fmt.Errorf("grade %s: %w", g.ID, err)
		}
		if date != nil {
			g.Date = *date
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// InsertGrade stores a grade for one of the user's enrollments.
func (s *Store) InsertGrade(ctx context.Context, userID string, g academic.Grade) (academic.Grade, error) {
	if err := g.Validate(); err != nil {
		return academic.Grade{}, err
	}

	var subjectID string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id FROM enrollments WHERE id = ? AND user_id = ?`,
		g.EnrollmentID, userID,
	).Scan(&subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return academic.Grade{}, shared.ErrEnrollmentNotFound
	}
	if err != nil {
		return academic.Grade{}, fmt.Errorf("find enrollment: %w", err)
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.SubjectID == "" {
		g.SubjectID = subjectID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grades (
			id, enrollment_id, user_id, subject_id, kind, value, graded_on,
			is_partial, is_final, is_assignment, is_makeup, counts_toward_average, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID, g.EnrollmentID, userID, g.SubjectID, g.Kind, g.Value, formatDate(g.Date),
		g.IsPartial, g.IsFinal, g.IsAssignment, g.IsMakeup, g.CountsTowardAverage,
		toMillis(time.Now()),
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return academic.Grade{}, shared.ErrSubjectNotFound
		}
		return academic.Grade{}, fmt.Errorf("insert grade: %w", err)
	}
	return g, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Enrollments & Subjects
// ─────────────────────────────────────────────────────────────────────────────

// EnrollmentsForUser returns the user's enrollments.
func (s *Store) EnrollmentsForUser(ctx context.Context, userID string) ([]academic.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, subject_id, status, attempt, repeated, term,
		       enrolled_at, approved_at, promoted
		FROM enrollments
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []academic.Enrollment
	for rows.Next() {
		var e academic.Enrollment
		var status string
		var enrolledAt, approvedAt sql.NullString
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.SubjectID, &status, &e.Attempt, &e.Repeated, &e.Term,
			&enrolledAt, &approvedAt, &e.Promoted,
		); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		e.Status = academic.Status(status)
		if e.EnrolledAt, err = parseDate(enrolledAt); err != nil {
			return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
		}
		if e.ApprovedAt, err = parseDate(approvedAt); err != nil {
			return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// AllSubjects returns the program catalog ordered by level and id.
func (s *Store) AllSubjects(ctx context.Context) ([]academic.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, level, credits, is_elective
		FROM subjects
		ORDER BY level, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []academic.Subject
	for rows.Next() {
		var sub academic.Subject
		var credits sql.NullInt64
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Level, &credits, &sub.IsElective); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		sub.Credits = academic.DefaultCredits
		if credits.Valid {
			sub.Credits = int(credits.Int64)
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Study sessions, social counts & profile
// ─────────────────────────────────────────────────────────────────────────────

// StudySessionsForUser returns the user's study sessions. Start times are
// wall-clock values.
func (s *Store) StudySessionsForUser(ctx context.Context, userID string) ([]academic.StudySession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_minutes, kind
		FROM study_sessions
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query study sessions: %w", err)
	}
	defer rows.Close()

	var sessions []academic.StudySession
	for rows.Next() {
		var ss academic.StudySession
		var startedAt string
		if err := rows.Scan(&ss.ID, &startedAt, &ss.DurationMinutes, &ss.Kind); err != nil {
			return nil, fmt.Errorf("scan study session: %w", err)
		}
		if ss.StartedAt, err = time.Parse(wallClockLayout, startedAt); err != nil {
			return nil, fmt.Errorf("study session %s: parse start %q: %w", ss.ID, startedAt, err)
		}
		if ss.Kind == "" {
			ss.Kind = academic.DefaultSessionKind
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// SocialCountsForUser aggregates the social tables for the user.
func (s *Store) SocialCountsForUser(ctx context.Context, userID string) (academic.SocialCounts, error) {
	var c academic.SocialCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM study_groups WHERE creator_id = ?1),
			(SELECT COUNT(*) FROM group_members WHERE user_id = ?1),
			(SELECT COUNT(*) FROM shared_notes WHERE user_id = ?1),
			(SELECT COUNT(*) FROM tutoring_sessions WHERE tutor_id = ?1),
			(SELECT COUNT(*) FROM tutoring_sessions WHERE tutor_id = ?1 AND successful = 1),
			(SELECT COUNT(*) FROM thanks WHERE receiver_id = ?1),
			(SELECT COUNT(*) FROM thanks WHERE sender_id = ?1 AND kind = 'explicacion'),
			(SELECT COUNT(*) FROM group_sessions gs
				JOIN study_groups g ON g.id = gs.group_id
				WHERE g.creator_id = ?1),
			(SELECT COALESCE(SUM(times_reviewed), 0) FROM flashcards WHERE user_id = ?1)
	`, userID).Scan(
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
		return academic.SocialCounts{}, fmt.Errorf("count social activity: %w", err)
	}
	return c, nil
}

// ProfileForUser returns the profile. Unknown users yield an empty profile.
func (s *Store) ProfileForUser(ctx context.Context, userID string) (academic.Profile, error) {
	var birth sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT birth_date FROM users WHERE id = ?`, userID).Scan(&birth)
	if errors.Is(err, sql.ErrNoRows) {
		return academic.Profile{}, nil
	}
	if err != nil {
		return academic.Profile{}, fmt.Errorf("load profile: %w", err)
	}

	date, err := parseDate(birth)
	if err != nil {
		return academic.Profile{}, fmt.Errorf("user %s: %w", userID, err)
	}
	return academic.Profile{BirthDate: date}, nil
}

// UsersWithActivitySince lists users with records written at or after since.
func (s *Store) UsersWithActivitySince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM grades WHERE created_at >= ?1
		UNION
		SELECT user_id FROM enrollments WHERE updated_at >= ?1
		UNION
		SELECT user_id FROM study_sessions WHERE created_at >= ?1
		ORDER BY 1
	`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

var (
	_ academic.RecordRepository = (*Store)(nil)
	_ academic.GradeWriter      = (*Store)(nil)
)
