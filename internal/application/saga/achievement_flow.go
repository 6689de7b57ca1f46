// Package saga contains business processes that span several repositories
// and tolerate partial failure of their non-critical steps.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Load Definitions → Load Unlocks → Snapshot Totals → Select Pending →
//
//	per achievement: [Insert Unlock + Credit Coins + Credit XP] → Grant Items →
//	Publish Events
//
// The bracketed part is one atomic unit. Item grants run after it, each on
// its own, and their failures are reported as a partial reward.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowStep names a step for error reporting.
type AchievementFlowStep string

const (
	StepLoadDefinitions AchievementFlowStep = "load_definitions"
	StepLoadUnlocks     AchievementFlowStep = "load_unlocks"
	StepLoadTotals      AchievementFlowStep = "load_totals"
	StepGrantUnlock     AchievementFlowStep = "grant_unlock"
	StepGrantItems      AchievementFlowStep = "grant_items"
	StepPublishEvents   AchievementFlowStep = "publish_events"
)

// UnlockedAchievement is one achievement granted by a run.
type UnlockedAchievement struct {
	Definition achievement.Definition
	UnlockedAt time.Time
}

// EvaluationResult summarises one run of the flow.
type EvaluationResult struct {
	Key          shared.Key
	Unlocked     []UnlockedAchievement
	CoinsAwarded int64
	XPAwarded    int64
	LeveledUp    bool
	NewLevel     int

	// PartialReward is non-nil when some reward items could not be granted.
	// It wraps shared.ErrPartialReward.
	PartialReward error
}

// HasUnlocks reports whether the run granted anything.
func (r *EvaluationResult) HasUnlocks() bool {
	return r != nil && len(r.Unlocked) > 0
}

// AchievementFlowConfig tunes the flow.
type AchievementFlowConfig struct {
	// MaxUnlocksPerRun bounds a single run. Anything left over is picked up
	// by the next evaluation. Zero means no bound.
	MaxUnlocksPerRun int
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{MaxUnlocksPerRun: 25}
}

// AchievementFlowSaga selects newly satisfied achievements and grants them.
// Callers hold the per-key lock.
type AchievementFlowSaga struct {
	store     ledger.Store
	curves    *progression.Evaluator
	evaluator *achievement.Evaluator
	events    shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger

	maxUnlocksPerRun int
}

// NewAchievementFlowSaga creates the saga.
func NewAchievementFlowSaga(
	store ledger.Store,
	curves *progression.Evaluator,
	evaluator *achievement.Evaluator,
	events shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config AchievementFlowConfig,
) *AchievementFlowSaga {
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &AchievementFlowSaga{
		store:            store,
		curves:           curves,
		evaluator:        evaluator,
		events:           events,
		clock:            clock,
		log:              log.WithComponent("achievement_flow"),
		maxUnlocksPerRun: config.MaxUnlocksPerRun,
	}
}

// errSkipUnlock aborts a unit whose unlock row already exists.
var errSkipUnlock = errors.New("achievement_flow: already unlocked")

// Evaluate runs the flow for one key using the guild's resolved config.
func (s *AchievementFlowSaga) Evaluate(ctx context.Context, key shared.Key, cfg guild.Config) (*EvaluationResult, error) {
	result := &EvaluationResult{Key: key}

	defs, err := s.store.Achievements().ListDefinitions(ctx, key.GuildID)
	if err != nil {
		return result, s.wrapError(StepLoadDefinitions, key, err)
	}
	if len(defs) == 0 {
		return result, nil
	}

	unlocked, err := s.store.Achievements().ListUnlocks(ctx, key)
	if err != nil {
		return result, s.wrapError(StepLoadUnlocks, key, err)
	}

	totals, err := s.loadTotals(ctx, key)
	if err != nil {
		return result, s.wrapError(StepLoadTotals, key, err)
	}

	pending := s.evaluator.Pending(defs, unlocked, key, totals)
	if len(pending) == 0 {
		return result, nil
	}
	if s.maxUnlocksPerRun > 0 && len(pending) > s.maxUnlocksPerRun {
		pending = pending[:s.maxUnlocksPerRun]
	}

	curve, cfgErr := s.curves.CurveFor(cfg)
	if cfgErr != nil {
		s.log.Warn("level formula rejected, using default curve",
			logger.GuildID(key.GuildID.String()), zap.Error(cfgErr))
	}

	var itemFailures []error
	for _, def := range pending {
		at := s.clock.Now().UTC()
		outcome, err := s.grantUnlock(ctx, key, def, curve, at)
		if errors.Is(err, errSkipUnlock) {
			continue
		}
		if err != nil {
			return result, s.wrapError(StepGrantUnlock, key, err)
		}

		result.Unlocked = append(result.Unlocked, UnlockedAchievement{Definition: def, UnlockedAt: at})
		result.CoinsAwarded += def.RewardCoins
		result.XPAwarded += def.RewardXP
		if outcome.LeveledUp() {
			result.LeveledUp = true
			result.NewLevel = outcome.NewLevel
		}

		itemFailures = append(itemFailures, s.grantItems(ctx, key, def)...)
		s.publish(key, def, outcome, at)
	}

	if len(itemFailures) > 0 {
		result.PartialReward = shared.WrapError("achievement", "GrantItems", shared.ErrPartialReward,
			fmt.Sprintf("%d reward item(s) not granted", len(itemFailures)), errors.Join(itemFailures...))
		s.log.Warn("achievement rewards partially granted",
			logger.UserID(key.UserID.String()),
			logger.GuildID(key.GuildID.String()),
			zap.Error(result.PartialReward))
	}

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (s *AchievementFlowSaga) loadTotals(ctx context.Context, key shared.Key) (achievement.Totals, error) {
	var t achievement.Totals

	rec, err := s.store.Progression().Get(ctx, key)
	switch {
	case err == nil:
		t.Level = rec.Level
		t.TotalMessages = rec.TotalMessages
	case shared.IsNotFound(err):
		t.Level = 1
	default:
		return t, err
	}

	eco, err := s.store.Economy().Get(ctx, key)
	switch {
	case err == nil:
		t.TotalEarned = eco.TotalEarned
	case !shared.IsNotFound(err):
		return t, err
	}

	chat, err := s.store.Streaks().Get(ctx, streak.KindChat, key)
	switch {
	case err == nil:
		t.BestStreak = chat.Best
	case !shared.IsNotFound(err):
		return t, err
	}

	return t, nil
}

// grantUnlock inserts the unlock row and credits coin and XP rewards in one
// unit. A pre-existing row rolls the unit back and yields errSkipUnlock.
func (s *AchievementFlowSaga) grantUnlock(
	ctx context.Context,
	key shared.Key,
	def achievement.Definition,
	curve progression.LevelCurve,
	at time.Time,
) (progression.CreditOutcome, error) {
	var outcome progression.CreditOutcome

	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		err := tx.Achievements().InsertUnlock(ctx, achievement.Unlock{
			UserID:        key.UserID,
			GuildID:       key.GuildID,
			AchievementID: def.AchievementID,
			UnlockedAt:    at,
		})
		if shared.IsAlreadyExists(err) {
			return errSkipUnlock
		}
		if err != nil {
			return err
		}

		if def.RewardCoins > 0 {
			eco, err := loadEconomy(ctx, tx, key)
			if err != nil {
				return err
			}
			eco.Credit(def.RewardCoins)
			if err := tx.Economy().Upsert(ctx, eco); err != nil {
				return err
			}
		}

		if def.RewardXP > 0 {
			rec, err := tx.Progression().Get(ctx, key)
			if shared.IsNotFound(err) {
				rec, err = progression.NewRecord(key, at), nil
			}
			if err != nil {
				return err
			}
			outcome, err = rec.CreditXP(def.RewardXP, curve)
			if err != nil {
				return err
			}
			if err := tx.Progression().Upsert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	return outcome, err
}

// grantItems hands out reward items one by one. Failures never roll back
// the unlock.
func (s *AchievementFlowSaga) grantItems(ctx context.Context, key shared.Key, def achievement.Definition) []error {
	var failures []error
	for _, itemID := range def.RewardItemIDs {
		if err := s.store.Inventory().GrantItem(ctx, key, itemID, 1); err != nil {
			failures = append(failures, fmt.Errorf("achievement %s item %s: %w", def.AchievementID, itemID, err))
			s.log.Warn("reward item grant failed",
				logger.UserID(key.UserID.String()),
				zap.String("achievement_id", def.AchievementID),
				zap.String("item_id", itemID),
				zap.Error(err))
		}
	}
	return failures
}

func (s *AchievementFlowSaga) publish(key shared.Key, def achievement.Definition, outcome progression.CreditOutcome, at time.Time) {
	events := []shared.Event{
		shared.NewAchievementUnlockedEvent(key, def.AchievementID, def.Name, def.RewardCoins, def.RewardXP, at),
	}
	if outcome.LeveledUp() {
		events = append(events, shared.NewLevelUpEvent(key, outcome.OldLevel, outcome.NewLevel, 0, at))
	}
	for _, ev := range events {
		if err := s.events.Publish(ev); err != nil {
			s.log.Warn("publish failed",
				zap.String("step", string(StepPublishEvents)),
				zap.String("event_type", string(ev.EventType())),
				zap.Error(err))
		}
	}
}

func loadEconomy(ctx context.Context, tx ledger.Tx, key shared.Key) (*economy.Record, error) {
	eco, err := tx.Economy().Get(ctx, key)
	if shared.IsNotFound(err) {
		return economy.NewRecord(key), nil
	}
	return eco, err
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowError reports the step a run failed at.
type AchievementFlowError struct {
	Step  AchievementFlowStep
	Key   shared.Key
	Cause error
}

// Error implements the error interface.
func (e *AchievementFlowError) Error() string {
	return fmt.Sprintf("achievement flow failed at step '%s' for %s: %v", e.Step, e.Key, e.Cause)
}

// Unwrap returns the underlying error.
func (e *AchievementFlowError) Unwrap() error {
	return e.Cause
}

func (s *AchievementFlowSaga) wrapError(step AchievementFlowStep, key shared.Key, err error) error {
	return &AchievementFlowError{
		Step:  step,
		Key:   key,
		Cause: shared.Persistence("achievement", string(step), err),
	}
}
