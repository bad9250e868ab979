package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.CatalogRepository and
// achievement.UnlockRepository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// AllAchievements returns the catalog in catalog order.
func (r *AchievementRepository) AllAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, name, description, category, rarity, points, required_progress, condition_type
		FROM achievements
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query achievements: %w", err)
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
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		a.Category = achievement.Category(category)
		a.Rarity = achievement.Rarity(rarity)
		out = append(out, a)
	}

	return out, rows.Err()
}

// UpsertAchievements writes the catalog in one transaction. Slice order
// becomes catalog order.
func (r *AchievementRepository) UpsertAchievements(ctx context.Context, as []achievement.Achievement) error {
	if len(as) == 0 {
		return nil
	}

	query := `
		INSERT INTO achievements (
			id, name, description, category, rarity, points, required_progress, condition_type, position, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			rarity = EXCLUDED.rarity,
			points = EXCLUDED.points,
			required_progress = EXCLUDED.required_progress,
			condition_type = EXCLUDED.condition_type,
			position = EXCLUDED.position,
			updated_at = NOW()
	`

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, a := range as {
			a = a.WithDefaults()
			batch.Queue(query,
				a.ID, a.Name, a.Description, string(a.Category), string(a.Rarity),
				a.Points, a.RequiredProgress, a.ConditionType, i,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range as {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to upsert achievement %s: %w", as[i].ID, err)
			}
		}
		return results.Close()
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Unlocks
// ─────────────────────────────────────────────────────────────────────────────

// UnlockedIDs returns the ids the user already holds.
func (r *AchievementRepository) UnlockedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `SELECT achievement_id FROM achievement_unlocks WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan unlocks: %w", err)
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Exists reports whether the pair is already unlocked.
func (r *AchievementRepository) Exists(ctx context.Context, achievementID, userID string) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM achievement_unlocks WHERE achievement_id = $1 AND user_id = $2)
	`, achievementID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check unlock: %w", err)
	}
	return exists, nil
}

// InsertUnlock writes the unlock unless the pair exists and reports whether
// a row was written.
func (r *AchievementRepository) InsertUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	contextJSON, err := json.Marshal(u.Context)
	if err != nil {
		return false, shared.WrapError("unlock", "Encode", shared.ErrInvalidFormat, "unlock context cannot be encoded", err)
	}

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO achievement_unlocks (id, achievement_id, user_id, unlocked_at, context, notified)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (achievement_id, user_id) DO NOTHING
	`, u.ID, u.AchievementID, u.UserID, u.UnlockedAt, contextJSON, u.Notified)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		if IsForeignKeyViolation(err) {
			return false, shared.ErrAchievementNotFound
		}
		if IsTransient(err) {
			return false, shared.WrapError("unlock", "Insert", shared.ErrServiceUnavailable, "transient store failure", err)
		}
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkNotified flags the unlock as delivered.
func (r *AchievementRepository) MarkNotified(ctx context.Context, unlockID string) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Exec(ctx, `UPDATE achievement_unlocks SET notified = TRUE WHERE id = $1`, unlockID)
	if err != nil {
		return fmt.Errorf("failed to mark unlock notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUnlockNotFound
	}
	return nil
}

// ListUnlocks returns the user's unlocks, oldest first.
func (r *AchievementRepository) ListUnlocks(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, achievement_id, user_id, unlocked_at, context, notified
		FROM achievement_unlocks
		WHERE user_id = $1
		ORDER BY unlocked_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	defer rows.Close()

	var out []achievement.Unlock
	for rows.Next() {
		var u achievement.Unlock
		var contextJSON []byte
		if err := rows.Scan(&u.ID, &u.AchievementID, &u.UserID, &u.UnlockedAt, &contextJSON, &u.Notified); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		u.Context = map[string]any{}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &u.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal unlock context: %w", err)
			}
		}
		u.UnlockedAt = u.UnlockedAt.UTC()
		out = append(out, u)
	}

	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERFACE COMPLIANCE
// ══════════════════════════════════════════════════════════════════════════════

var (
	_ achievement.CatalogRepository = (*AchievementRepository)(nil)
	_ achievement.UnlockRepository  = (*AchievementRepository)(nil)
)
