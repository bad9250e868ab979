package config

import (
	"errors"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const categoryPrefix = "achievements."

// Flag names. Each achievement category has one; switching a category off
// stops new unlocks in it but keeps those already recorded.
const (
	FeatureAchievementsMilestones      = categoryPrefix + "milestones"
	FeatureAchievementsStreaks         = categoryPrefix + "streaks"
	FeatureAchievementsCollections     = categoryPrefix + "collections"
	FeatureAchievementsAverages        = categoryPrefix + "averages"
	FeatureAchievementsProgress        = categoryPrefix + "progress"
	FeatureAchievementsSpecializations = categoryPrefix + "specializations"
	FeatureAchievementsChallenges      = categoryPrefix + "challenges"
	FeatureAchievementsRecovery        = categoryPrefix + "recovery"
	FeatureAchievementsSocial          = categoryPrefix + "social"
	FeatureAchievementsCuriosities     = categoryPrefix + "curiosities"
	FeatureAchievementsNegative        = categoryPrefix + "negative"
	FeatureAchievementsGraduation      = categoryPrefix + "graduation"

	FeatureEventsRedisRelay = "events.redis_relay"
	FeatureUnlockNotify     = "notify.unlock"
)

var defaultFeatures = map[string]string{
	FeatureAchievementsMilestones:      "First grades, first approvals and early progress",
	FeatureAchievementsStreaks:         "Consecutive passing grades and clean periods",
	FeatureAchievementsCollections:     "Grade counts and collections",
	FeatureAchievementsAverages:        "General and per-kind averages",
	FeatureAchievementsProgress:        "Career progress, levels and electives",
	FeatureAchievementsSpecializations: "Subject-area specializations",
	FeatureAchievementsChallenges:      "Study habits and special challenges",
	FeatureAchievementsRecovery:        "Recovering after failing",
	FeatureAchievementsSocial:          "Groups, notes and tutoring",
	FeatureAchievementsCuriosities:     "Curious grade patterns and dates",
	FeatureAchievementsNegative:        "Humorous setbacks",
	FeatureAchievementsGraduation:      "Finishing the program",
	FeatureEventsRedisRelay:            "Republish domain events on Redis pub/sub",
	FeatureUnlockNotify:                "Mark unlocks as notified once delivered",
}

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle. A percentage between 0 and 100 enables it for a
// stable subset of users.
type Feature struct {
	Name           string
	Description    string
	Enabled        bool
	RolloutPercent int
}

// FeatureContext identifies who a flag is evaluated for.
type FeatureContext struct {
	UserID  string
	IsAdmin bool
}

// FeatureFlags holds the toggles and per-user overrides. Safe for
// concurrent use.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]*Feature
	overrides map[string]map[string]bool
}

// NewFeatureFlags returns every feature fully enabled.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]*Feature, len(defaultFeatures)),
		overrides: make(map[string]map[string]bool),
	}
	for name, desc := range defaultFeatures {
		ff.features[name] = &Feature{Name: name, Description: desc, Enabled: true, RolloutPercent: 100}
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME> variables to the defaults. A
// value is a boolean or a rollout percentage; anything else is ignored.
//
//	FEATURE_ACHIEVEMENTS_SOCIAL=false
//	FEATURE_ACHIEVEMENTS_CURIOSITIES=25
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.features {
		raw := os.Getenv(envKey(name))
		if raw == "" {
			continue
		}
		if on, err := strconv.ParseBool(raw); err == nil {
			f.RolloutPercent = 0
			if on {
				f.RolloutPercent = 100
			}
		} else if p, err := strconv.Atoi(raw); err == nil && p >= 0 && p <= 100 {
			f.RolloutPercent = p
		} else {
			continue
		}
		f.Enabled = f.RolloutPercent > 0
	}
	return ff
}

// envKey maps "achievements.social" to "FEATURE_ACHIEVEMENTS_SOCIAL".
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled evaluates a flag. A user override wins over everything; admins
// see every known feature; otherwise partial rollouts bucket the user by a
// hash of the feature and user id.
func (ff *FeatureFlags) IsEnabled(name string, fc *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if fc != nil {
		if on, ok := ff.overrides[fc.UserID][name]; ok && fc.UserID != "" {
			return on
		}
	}
	f, ok := ff.features[name]
	switch {
	case !ok:
		return false
	case fc != nil && fc.IsAdmin:
		return true
	case !f.Enabled || f.RolloutPercent <= 0:
		return false
	case f.RolloutPercent >= 100 || fc == nil || fc.UserID == "":
		return true
	}
	return bucket(name, fc.UserID) < f.RolloutPercent
}

func bucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

// AchievementCategoryEnabled reports whether a category is evaluated for
// the user. Unknown categories are off.
func (ff *FeatureFlags) AchievementCategoryEnabled(category, userID string) bool {
	return ff.IsEnabled(categoryPrefix+category, &FeatureContext{UserID: userID})
}

// SetUserOverride forces a feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	m := ff.overrides[userID]
	if m == nil {
		m = make(map[string]bool)
		ff.overrides[userID] = m
	}
	m[name] = enabled
}

// ClearUserOverrides drops every override for the user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.overrides, userID)
}

// SetRolloutPercent changes a feature at runtime. Zero disables it.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.RolloutPercent = percent
	f.Enabled = percent > 0
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// GetAllFeatures returns copies of every feature.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]*Feature, len(ff.features))
	for name, f := range ff.features {
		c := *f
		out[name] = &c
	}
	return out
}

// DisabledCategories lists, sorted, the categories switched off for
// everyone.
func (ff *FeatureFlags) DisabledCategories() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	var out []string
	for name, f := range ff.features {
		if strings.HasPrefix(name, categoryPrefix) && !f.Enabled {
			out = append(out, strings.TrimPrefix(name, categoryPrefix))
		}
	}
	sort.Strings(out)
	return out
}
