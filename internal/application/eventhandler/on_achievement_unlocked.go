// Package eventhandler contains domain event handlers.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/config"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED HANDLER
// Announces a new unlock in the logs and marks the stored row notified.
// Delivery to end users is outside this module; the notified flag records
// that the event left the engine.
// ═══════════════════════════════════════════════════════════════════════════

// FlagChecker reports whether a feature is enabled for a context.
type FlagChecker interface {
	IsEnabled(featureName string, ctx *config.FeatureContext) bool
}

// OnAchievementUnlockedHandler handles achievement.unlocked events.
type OnAchievementUnlockedHandler struct {
	unlocks achievement.UnlockRepository
	flags   FlagChecker
	log     *logger.Logger
	timeout time.Duration
}

// NewOnAchievementUnlockedHandler creates the handler. flags may be nil, in
// which case every unlock is marked notified.
func NewOnAchievementUnlockedHandler(
	unlocks achievement.UnlockRepository,
	flags FlagChecker,
	log *logger.Logger,
) *OnAchievementUnlockedHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &OnAchievementUnlockedHandler{
		unlocks: unlocks,
		flags:   flags,
		log:     log.With(logger.Component("on_achievement_unlocked")),
		timeout: 5 * time.Second,
	}
}

// Handle implements shared.EventHandler.
func (h *OnAchievementUnlockedHandler) Handle(event shared.Event) error {
	unlocked, ok := event.(shared.AchievementUnlockedEvent)
	if !ok {
		h.log.Warn("received unexpected event", logger.EventType(string(event.EventType())))
		return nil
	}

	userID := unlocked.AggregateID()
	h.log.Info("achievement unlocked",
		logger.UserID(userID),
		logger.AchievementID(unlocked.AchievementID),
		logger.String("name", unlocked.Name),
		logger.Category(unlocked.Category),
		logger.Int("points", unlocked.Points),
		logger.String("rarity", unlocked.Rarity),
		logger.Trigger(unlocked.Trigger),
	)

	if h.flags != nil && !h.flags.IsEnabled(config.FeatureUnlockNotify, &config.FeatureContext{UserID: userID}) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	unlock, err := h.findUnlock(ctx, userID, unlocked.AchievementID)
	if err != nil {
		return err
	}
	if unlock.Notified {
		return nil
	}

	if err := h.unlocks.MarkNotified(ctx, unlock.ID); err != nil {
		return fmt.Errorf("on_achievement_unlocked: mark notified: %w", err)
	}
	return nil
}

func (h *OnAchievementUnlockedHandler) findUnlock(ctx context.Context, userID, achievementID string) (achievement.Unlock, error) {
	unlocks, err := h.unlocks.ListUnlocks(ctx, userID)
	if err != nil {
		return achievement.Unlock{}, fmt.Errorf("on_achievement_unlocked: list unlocks: %w", err)
	}
	for _, u := range unlocks {
		if u.AchievementID == achievementID {
			return u, nil
		}
	}
	return achievement.Unlock{}, fmt.Errorf("on_achievement_unlocked: %s for %s: %w", achievementID, userID, shared.ErrUnlockNotFound)
}
