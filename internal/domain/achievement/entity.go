// Package achievement holds the achievement catalog and the unlock model.
//
// An Achievement is a catalog entry keyed by a stable id; the condition that
// unlocks it lives in the predicates subpackage under the same id. An Unlock
// records that one user met one achievement, at most once per pair.
package achievement

import (
	"fmt"
	"strings"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY AND RARITY
// ══════════════════════════════════════════════════════════════════════════════

// Category groups achievements. Categories also gate evaluation through
// feature flags.
type Category string

const (
	CategoryMilestones      Category = "milestones"
	CategoryStreaks         Category = "streaks"
	CategoryCollections     Category = "collections"
	CategoryAverages        Category = "averages"
	CategoryProgress        Category = "progress"
	CategorySpecializations Category = "specializations"
	CategoryChallenges      Category = "challenges"
	CategoryRecovery        Category = "recovery"
	CategorySocial          Category = "social"
	CategoryCuriosities     Category = "curiosities"
	CategoryNegative        Category = "negative"
	CategoryGraduation      Category = "graduation"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryMilestones,
	CategoryStreaks,
	CategoryCollections,
	CategoryAverages,
	CategoryProgress,
	CategorySpecializations,
	CategoryChallenges,
	CategoryRecovery,
	CategorySocial,
	CategoryCuriosities,
	CategoryNegative,
	CategoryGraduation,
}

// IsValid reports whether c is one of Categories.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// FlagName is the feature flag that enables evaluation of the category.
func (c Category) FlagName() string {
	return "achievements." + string(c)
}

func (c Category) String() string {
	return string(c)
}

// Rarity is a display attribute of an achievement.
type Rarity string

const (
	RarityCommon    Rarity = "comun"
	RarityRare      Rarity = "raro"
	RarityEpic      Rarity = "epico"
	RarityLegendary Rarity = "legendario"
)

// IsValid reports whether r is a known rarity.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultPoints is awarded when a catalog entry does not set points.
	DefaultPoints = 10

	// DefaultRequiredProgress is stored for every entry. Conditions are
	// boolean, so it is informational.
	DefaultRequiredProgress = 1

	// ConditionPredicate marks entries evaluated by a registered predicate.
	ConditionPredicate = "predicate"
)

// Achievement is one catalog entry.
type Achievement struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description" yaml:"description"`
	Category         Category `json:"category" yaml:"category"`
	Rarity           Rarity   `json:"rarity" yaml:"rarity"`
	Points           int      `json:"points" yaml:"points"`
	RequiredProgress int      `json:"required_progress" yaml:"required_progress"`
	ConditionType    string   `json:"condition_type" yaml:"condition_type"`
}

// WithDefaults fills unset optional fields.
func (a Achievement) WithDefaults() Achievement {
	if a.Points == 0 {
		a.Points = DefaultPoints
	}
	if a.RequiredProgress == 0 {
		a.RequiredProgress = DefaultRequiredProgress
	}
	if a.Rarity == "" {
		a.Rarity = RarityCommon
	}
	if a.ConditionType == "" {
		a.ConditionType = ConditionPredicate
	}
	return a
}

// Validate checks the fields a catalog entry must carry.
func (a Achievement) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return shared.ErrAchievementIDRequired
	}
	if strings.TrimSpace(a.Name) == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue,
			fmt.Sprintf("achievement %q has no name", a.ID), nil)
	}
	if !a.Category.IsValid() {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("achievement %q has category %q", a.ID, a.Category), shared.ErrUnknownCategory)
	}
	if a.Rarity != "" && !a.Rarity.IsValid() {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("achievement %q has rarity %q", a.ID, a.Rarity), nil)
	}
	if a.Points < 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrNegativeValue,
			fmt.Sprintf("achievement %q has negative points", a.ID), nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Unlock records that a user met an achievement. It is created once and only
// the Notified flag changes afterwards.
type Unlock struct {
	ID            string
	AchievementID string
	UserID        string
	UnlockedAt    time.Time
	Context       map[string]any
	Notified      bool
}

// NewUnlock builds an unlock stamped with the current UTC time.
func NewUnlock(id, achievementID, userID string, ctx map[string]any) (Unlock, error) {
	if strings.TrimSpace(achievementID) == "" {
		return Unlock{}, shared.ErrAchievementIDRequired
	}
	if strings.TrimSpace(userID) == "" {
		return Unlock{}, shared.ErrUserIDRequired
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	return Unlock{
		ID:            id,
		AchievementID: achievementID,
		UserID:        userID,
		UnlockedAt:    time.Now().UTC(),
		Context:       ctx,
	}, nil
}

// Pending returns the catalog entries not in unlocked, in catalog order.
func Pending(catalog []Achievement, unlocked map[string]struct{}) []Achievement {
	out := make([]Achievement, 0, len(catalog))
	for _, a := range catalog {
		if _, done := unlocked[a.ID]; !done {
			out = append(out, a)
		}
	}
	return out
}
