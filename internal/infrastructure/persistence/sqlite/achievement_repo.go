package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

// AllAchievements returns the catalog in catalog order.
func (s *Store) AllAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, category, rarity, points, required_progress, condition_type
		FROM achievements
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer rows.Close()

	var out []achievement.Achievement
	for rows.Next() {
		var a achievement.Achievement
		var category, rarity string
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Description, &category, &rarity,
			&a.Points, &a.RequiredProgress, &a.ConditionType,
		); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.Category = achievement.Category(category)
		a.Rarity = achievement.Rarity(rarity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAchievements writes the catalog in one transaction. Slice order
// becomes catalog order.
func (s *Store) UpsertAchievements(ctx context.Context, as []achievement.Achievement) error {
	if len(as) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO achievements (
			id, name, description, category, rarity, points, required_progress, condition_type, position, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			rarity = excluded.rarity,
			points = excluded.points,
			required_progress = excluded.required_progress,
			condition_type = excluded.condition_type,
			position = excluded.position,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare catalog upsert: %w", err)
	}
	defer stmt.Close()

	now := toMillis(time.Now())
	for i, a := range as {
		a = a.WithDefaults()
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.Name, a.Description, string(a.Category), string(a.Rarity),
			a.Points, a.RequiredProgress, a.ConditionType, i, now,
		); err != nil {
			return fmt.Errorf("upsert achievement %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog upsert: %w", err)
	}
	return nil
}

// UnlockedIDs returns the ids the user already holds.
func (s *Store) UnlockedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT achievement_id FROM achievement_unlocks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unlocks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Exists reports whether the pair is already unlocked.
func (s *Store) Exists(ctx context.Context, achievementID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM achievement_unlocks WHERE achievement_id = ? AND user_id = ?)
	`, achievementID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unlock: %w", err)
	}
	return exists, nil
}

// InsertUnlock writes the unlock unless the pair exists and reports whether
// a row was written.
func (s *Store) InsertUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	contextJSON, err := json.Marshal(u.Context)
	if err != nil {
		return false, shared.WrapError("unlock", "Encode", shared.ErrInvalidFormat, "unlock context cannot be encoded", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO achievement_unlocks (id, achievement_id, user_id, unlocked_at, context, notified)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.AchievementID, u.UserID, toMillis(u.UnlockedAt), string(contextJSON), u.Notified)
	if err != nil {
		switch {
		case IsForeignKeyViolation(err):
			return false, shared.ErrAchievementNotFound
		case IsUniqueViolation(err):
			return false, nil
		case IsTransient(err):
			return false, shared.WrapError("unlock", "Insert", shared.ErrServiceUnavailable, "database is busy", err)
		}
		return false, fmt.Errorf("insert unlock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert unlock: rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkNotified flags the unlock as delivered.
func (s *Store) MarkNotified(ctx context.Context, unlockID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE achievement_unlocks SET notified = 1 WHERE id = ?`, unlockID)
	if err != nil {
		return fmt.Errorf("mark unlock notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark unlock notified: rows affected: %w", err)
	}
	if n == 0 {
		return shared.ErrUnlockNotFound
	}
	return nil
}

// ListUnlocks returns the user's unlocks, oldest first.
func (s *Store) ListUnlocks(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, achievement_id, user_id, unlocked_at, context, notified
		FROM achievement_unlocks
		WHERE user_id = ?
		ORDER BY unlocked_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unlocks: %w", err)
	}
	defer rows.Close()

	var out []achievement.Unlock
	for rows.Next() {
		var u achievement.Unlock
		var unlockedAt int64
		var contextJSON string
		if err := rows.Scan(&u.ID, &u.AchievementID, &u.UserID, &unlockedAt, &contextJSON, &u.Notified); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		u.UnlockedAt = fromMillis(unlockedAt)
		u.Context = map[string]any{}
		if contextJSON != "" {
			if err := json.Unmarshal([]byte(contextJSON), &u.Context); err != nil {
				return nil, fmt.Errorf("unlock %s: decode context: %w", u.ID, err)
			}
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

var (
	_ achievement.CatalogRepository = (*Store)(nil)
	_ achievement.UnlockRepository  = (*Store)(nil)
)
