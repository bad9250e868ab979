package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_academic_records", UpSQL: migration001Up},
		{Version: 2, Name: "create_social", UpSQL: migration002Up},
		{Version: 3, Name: "create_achievements", UpSQL: migration003Up},
	}
}

// Migrator applies pending migrations, recording each in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator returns a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// Migrate applies every migration not yet recorded, each in its own
// transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: read schema_migrations: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: ACADEMIC RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create academic record tables
-- Version: 001

CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(50) PRIMARY KEY,
    display_name VARCHAR(200) NOT NULL DEFAULT '',
    birth_date DATE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subjects (
    id VARCHAR(50) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    level INTEGER NOT NULL DEFAULT 1,
    credits INTEGER,
    is_elective BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT valid_level CHECK (level >= 1)
);

CREATE TABLE IF NOT EXISTS enrollments (
    id VARCHAR(50) PRIMARY KEY,
    user_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    subject_id VARCHAR(50) NOT NULL REFERENCES subjects(id),
    status VARCHAR(20) NOT NULL DEFAULT 'bloqueada',
    attempt INTEGER NOT NULL DEFAULT 1,
    repeated BOOLEAN NOT NULL DEFAULT FALSE,
    term VARCHAR(20) NOT NULL DEFAULT '',
    enrolled_at DATE,
    approved_at DATE,
    promoted BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN ('bloqueada', 'cursando', 'regular', 'aprobada')),
    CONSTRAINT valid_attempt CHECK (attempt >= 1)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_user ON enrollments(user_id);
CREATE INDEX IF NOT EXISTS idx_enrollments_updated_at ON enrollments(updated_at);

CREATE TABLE IF NOT EXISTS grades (
    id VARCHAR(50) PRIMARY KEY,
    enrollment_id VARCHAR(50) NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
    user_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    subject_id VARCHAR(50) NOT NULL REFERENCES subjects(id),
    kind VARCHAR(50) NOT NULL DEFAULT '',
    value DOUBLE PRECISION NOT NULL,
    graded_on DATE,
    is_partial BOOLEAN NOT NULL DEFAULT FALSE,
    is_final BOOLEAN NOT NULL DEFAULT FALSE,
    is_assignment BOOLEAN NOT NULL DEFAULT FALSE,
    is_makeup BOOLEAN NOT NULL DEFAULT FALSE,
    counts_toward_average BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- -1 marks a scheduled, not yet graded evaluation
    CONSTRAINT valid_value CHECK (value = -1 OR (value >= 0 AND value <= 10))
);

CREATE INDEX IF NOT EXISTS idx_grades_user ON grades(user_id);
CREATE INDEX IF NOT EXISTS idx_grades_created_at ON grades(created_at);

CREATE TABLE IF NOT EXISTS study_sessions (
    id VARCHAR(50) PRIMARY KEY,
    user_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    -- wall-clock start in the student's timezone
    started_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
    duration_minutes INTEGER NOT NULL,
    kind VARCHAR(50) NOT NULL DEFAULT 'pomodoro',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_duration CHECK (duration_minutes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_user ON study_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_study_sessions_created_at ON study_sessions(created_at);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SOCIAL ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create social tables
-- Version: 002

CREATE TABLE IF NOT EXISTS study_groups (
    id VARCHAR(50) PRIMARY KEY,
    creator_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name VARCHAR(200) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id VARCHAR(50) NOT NULL REFERENCES study_groups(id) ON DELETE CASCADE,
    user_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS group_sessions (
    id VARCHAR(50) PRIMARY KEY,
    group_id VARCHAR(50) NOT NULL REFERENCES study_groups(id) ON DELETE CASCADE,
    held_on DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS shared_notes (
    id VARCHAR(50) PRIMARY KEY,
    user_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    subject_id VARCHAR(50) REFERENCES subjects(id),
    title VARCHAR(200) NOT NULL,
    shared_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tutoring_sessions (
    id VARCHAR(50) PRIMARY KEY,
    tutor_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    student_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    successful BOOLEAN NOT NULL DEFAULT FALSE,
    held_on DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS thanks (
    id VARCHAR(50) PRIMARY KEY,
    sender_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    receiver_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    kind VARCHAR(50) NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flashcards (
    id VARCHAR(50) PRIMARY KEY,
    user_id VARCHAR(50) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    times_reviewed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_study_groups_creator ON study_groups(creator_id);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_shared_notes_user ON shared_notes(user_id);
CREATE INDEX IF NOT EXISTS idx_tutoring_tutor ON tutoring_sessions(tutor_id);
CREATE INDEX IF NOT EXISTS idx_thanks_receiver ON thanks(receiver_id);
CREATE INDEX IF NOT EXISTS idx_thanks_sender ON thanks(sender_id);
CREATE INDEX IF NOT EXISTS idx_flashcards_user ON flashcards(user_id);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create achievement catalog and unlocks
-- Version: 003

CREATE TABLE IF NOT EXISTS achievements (
    id VARCHAR(100) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(50) NOT NULL,
    rarity VARCHAR(20) NOT NULL DEFAULT 'comun',
    points INTEGER NOT NULL DEFAULT 10,
    required_progress INTEGER NOT NULL DEFAULT 1,
    condition_type VARCHAR(50) NOT NULL DEFAULT 'predicate',
    position INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_rarity CHECK (rarity IN ('comun', 'raro', 'epico', 'legendario')),
    CONSTRAINT valid_points CHECK (points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_achievements_position ON achievements(position);

CREATE TABLE IF NOT EXISTS achievement_unlocks (
    id VARCHAR(50) PRIMARY KEY,
    achievement_id VARCHAR(100) NOT NULL REFERENCES achievements(id),
    user_id VARCHAR(50) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    context JSONB NOT NULL DEFAULT '{}'::jsonb,
    notified BOOLEAN NOT NULL DEFAULT FALSE,

    -- at most one unlock per achievement and user
    CONSTRAINT unique_achievement_user UNIQUE (achievement_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_unlocks_user ON achievement_unlocks(user_id, unlocked_at);
CREATE INDEX IF NOT EXISTS idx_unlocks_pending_notify ON achievement_unlocks(user_id) WHERE notified = FALSE;
`
