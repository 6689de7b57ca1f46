// Package achievement defines one-time unlockable goals and decides which of
// them a user has newly satisfied. Granting the rewards is the job of the
// achievement saga in the application layer.
package achievement

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// RequirementType selects which total a definition is tested against.
type RequirementType string

const (
	RequirementLevel    RequirementType = "level"
	RequirementMessages RequirementType = "messages"
	RequirementCoins    RequirementType = "coins"  // lifetime coins earned
	RequirementStreak   RequirementType = "streak" // best chat streak
	RequirementCustom   RequirementType = "custom"
)

// Definition is a configured achievement.
type Definition struct {
	GuildID          shared.GuildID
	AchievementID    string
	Name             string
	Description      string
	Category         string
	RequirementType  RequirementType
	RequirementValue int64
	RewardCoins      int64
	RewardXP         int64
	RewardItemIDs    []string
	Active           bool
}

// Validate rejects definitions that could never be granted sensibly.
func (d Definition) Validate() error {
	const domain, op = "achievement", "Validate"
	switch {
	case d.AchievementID == "":
		return shared.Validation(domain, op, "achievement id is required")
	case d.RewardCoins < 0 || d.RewardXP < 0:
		return shared.Validation(domain, op, "rewards cannot be negative")
	}
	switch d.RequirementType {
	case RequirementLevel, RequirementMessages, RequirementCoins, RequirementStreak, RequirementCustom:
	default:
		return shared.Validation(domain, op, "unknown requirement type")
	}
	return nil
}

// Unlock records that a user earned an achievement. Its existence is the
// only unlock flag; rows are never deleted.
type Unlock struct {
	UserID        shared.UserID
	GuildID       shared.GuildID
	AchievementID string
	UnlockedAt    time.Time
}

// Totals is the snapshot of counters predicates are tested against.
type Totals struct {
	Level         int
	TotalMessages int64
	TotalEarned   int64
	BestStreak    int
}

// CustomPredicate lets the host plug in logic for custom requirements.
type CustomPredicate func(def Definition, key shared.Key, totals Totals) bool

// Evaluator selects newly satisfied definitions.
type Evaluator struct {
	custom CustomPredicate
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomPredicate installs the host's custom-requirement logic.
func WithCustomPredicate(p CustomPredicate) Option {
	return func(e *Evaluator) { e.custom = p }
}

// NewEvaluator creates an evaluator. Without a custom predicate, custom
// requirements never unlock.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Satisfied tests a single definition.
func (e *Evaluator) Satisfied(def Definition, key shared.Key, t Totals) bool {
	switch def.RequirementType {
	case RequirementLevel:
		return int64(t.Level) >= def.RequirementValue
	case RequirementMessages:
		return t.TotalMessages >= def.RequirementValue
	case RequirementCoins:
		return t.TotalEarned >= def.RequirementValue
	case RequirementStreak:
		return int64(t.BestStreak) >= def.RequirementValue
	case RequirementCustom:
		return e.custom != nil && e.custom(def, key, t)
	default:
		return false
	}
}

// Pending returns active definitions not yet unlocked whose predicate holds.
// Already unlocked ids are skipped before their predicate is evaluated.
func (e *Evaluator) Pending(defs []Definition, unlocked []Unlock, key shared.Key, t Totals) []Definition {
	done := make(map[string]struct{}, len(unlocked))
	for _, u := range unlocked {
		done[u.AchievementID] = struct{}{}
	}

	var out []Definition
	for _, def := range defs {
		if !def.Active {
			continue
		}
		if _, ok := done[def.AchievementID]; ok {
			continue
		}
		if e.Satisfied(def, key, t) {
			out = append(out, def)
		}
	}
	return out
}

// Repository stores definitions and unlock rows.
type Repository interface {
	ListDefinitions(ctx context.Context, guildID shared.GuildID) ([]Definition, error)
	UpsertDefinition(ctx context.Context, def Definition) error
	ListUnlocks(ctx context.Context, key shared.Key) ([]Unlock, error)
	// InsertUnlock fails with an error wrapping shared.ErrAlreadyExists when
	// the row is present.
	InsertUnlock(ctx context.Context, u Unlock) error
}
