// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK ACHIEVEMENT COMMAND
// Records that a user obtained an achievement, at most once per pair.
// The existence check and the insert are not atomic; the store's unique
// (achievement_id, user_id) constraint settles concurrent writers.
// ══════════════════════════════════════════════════════════════════════════════

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	GenerateID() string
}

// UUIDGenerator generates random UUIDv4 strings.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// UnlockAchievementHandler records unlocks.
type UnlockAchievementHandler struct {
	unlocks achievement.UnlockRepository
	ids     IDGenerator
	retrier *retry.Retrier
	log     *logger.Logger
}

// UnlockAchievementHandlerConfig contains configuration for the handler.
type UnlockAchievementHandlerConfig struct {
	// IsTransient marks store errors worth retrying. Defaults to
	// shared.IsRetryable.
	IsTransient func(error) bool

	// IDs defaults to UUIDGenerator.
	IDs IDGenerator
}

// NewUnlockAchievementHandler creates a new UnlockAchievementHandler.
func NewUnlockAchievementHandler(
	unlocks achievement.UnlockRepository,
	log *logger.Logger,
	config UnlockAchievementHandlerConfig,
) *UnlockAchievementHandler {
	ids := config.IDs
	if ids == nil {
		ids = UUIDGenerator{}
	}
	isTransient := config.IsTransient
	if isTransient == nil {
		isTransient = shared.IsRetryable
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UnlockAchievementHandler{
		unlocks: unlocks,
		ids:     ids,
		retrier: retry.StoreRetrier(isTransient),
		log:     log.Named("unlock"),
	}
}

// TryUnlock records the unlock and reports whether a row was written.
// A pair already present yields false and no error.
func (h *UnlockAchievementHandler) TryUnlock(
	ctx context.Context,
	achievementID, userID string,
	unlockContext map[string]any,
) (bool, error) {
	if achievementID == "" {
		return false, shared.ErrAchievementIDRequired
	}
	if userID == "" {
		return false, shared.ErrUserIDRequired
	}

	var exists bool
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var existsErr error
		exists, existsErr = h.unlocks.Exists(ctx, achievementID, userID)
		return existsErr
	})
	if err != nil {
		return false, fmt.Errorf("unlock_achievement: failed to check existing unlock: %w", err)
	}
	if exists {
		return false, nil
	}

	unlock, err := achievement.NewUnlock(h.ids.GenerateID(), achievementID, userID, unlockContext)
	if err != nil {
		return false, fmt.Errorf("unlock_achievement: %w", err)
	}

	var inserted bool
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		var insertErr error
		inserted, insertErr = h.unlocks.InsertUnlock(ctx, unlock)
		return insertErr
	})
	if err != nil {
		if shared.IsAlreadyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("unlock_achievement: failed to insert unlock: %w", err)
	}

	if inserted {
		h.log.Debug("achievement unlocked",
			logger.UserID(userID),
			logger.AchievementID(achievementID),
			logger.String("unlock_id", unlock.ID),
		)
	}
	return inserted, nil
}
