package achievement

import (
	"context"
)

// CatalogRepository stores achievement definitions.
type CatalogRepository interface {
	// AllAchievements returns every definition in catalog order.
	AllAchievements(ctx context.Context) ([]Achievement, error)

	// UpsertAchievements inserts or replaces definitions by id, keeping the
	// given order as catalog order.
	UpsertAchievements(ctx context.Context, achievements []Achievement) error
}

// UnlockRepository stores unlocks. Implementations enforce uniqueness of
// (achievement id, user id).
type UnlockRepository interface {
	// UnlockedIDs returns the achievement ids the user already holds.
	UnlockedIDs(ctx context.Context, userID string) (map[string]struct{}, error)

	// Exists reports whether the user holds the achievement.
	Exists(ctx context.Context, achievementID, userID string) (bool, error)

	// InsertUnlock writes the unlock unless the pair already exists.
	// inserted is false when another writer got there first.
	InsertUnlock(ctx context.Context, unlock Unlock) (inserted bool, err error)

	// MarkNotified sets the notified flag. Unknown ids return ErrUnlockNotFound.
	MarkNotified(ctx context.Context, unlockID string) error

	// ListUnlocks returns the user's unlocks, oldest first.
	ListUnlocks(ctx context.Context, userID string) ([]Unlock, error)
}
