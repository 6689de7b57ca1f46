package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN XP COMMANDS
// Grant adds XP through the credit path, Set replaces the lifetime total and
// recomputes the level, Reset returns to level 1. None of them touch the
// cooldown, the spam history or the chat streak.
// ══════════════════════════════════════════════════════════════════════════════

// AdminXPCommand targets one ledger key.
type AdminXPCommand struct {
	UserID  shared.UserID
	GuildID shared.GuildID
	Amount  int64 // grant amount or new lifetime total; ignored by Reset
	Actor   string
	At      time.Time
}

// AdminXPResult is the state after an admin operation.
type AdminXPResult struct {
	OldLevel      int
	NewLevel      int
	XP            int64
	LeveledUp     bool
	Unlocked      []saga.UnlockedAchievement
	PartialReward error
	FollowUpErr   error
}

// AdminXPHandler handles grant, set and reset.
type AdminXPHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewAdminXPHandler creates the handler.
func NewAdminXPHandler(deps Deps) *AdminXPHandler {
	deps = deps.withDefaults()
	return &AdminXPHandler{deps: deps, log: deps.Log.WithComponent("admin_xp")}
}

// Grant credits a positive amount. Non-positive amounts are rejected with a
// validation error before anything is read.
func (h *AdminXPHandler) Grant(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	if cmd.Amount <= 0 {
		return nil, shared.ErrNegativeXPGrant
	}
	return h.run(ctx, cmd, "grant", func(rec *progression.Record, curve progression.LevelCurve) (progression.CreditOutcome, error) {
		return rec.CreditXP(cmd.Amount, curve)
	})
}

// Set replaces the user's lifetime XP with a raw total.
func (h *AdminXPHandler) Set(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	if cmd.Amount < 0 {
		return nil, shared.ErrNegativeXPSet
	}
	return h.run(ctx, cmd, "set", func(rec *progression.Record, curve progression.LevelCurve) (progression.CreditOutcome, error) {
		return rec.SetTotalXP(cmd.Amount, curve)
	})
}

// Reset puts the user back to level 1 with no XP.
func (h *AdminXPHandler) Reset(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	return h.run(ctx, cmd, "reset", func(rec *progression.Record, _ progression.LevelCurve) (progression.CreditOutcome, error) {
		old := rec.Level
		rec.Reset()
		return progression.CreditOutcome{OldLevel: old, NewLevel: rec.Level}, nil
	})
}

type adminMutation func(rec *progression.Record, curve progression.LevelCurve) (progression.CreditOutcome, error)

func (h *AdminXPHandler) run(ctx context.Context, cmd AdminXPCommand, op string, mutate adminMutation) (*AdminXPResult, error) {
	key, err := shared.NewKey(cmd.UserID, cmd.GuildID)
	if err != nil {
		return nil, err
	}
	at := cmd.At
	if at.IsZero() {
		at = h.deps.Clock.Now()
	}
	at = at.UTC()

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := h.log.WithContext(ctx).WithFields(keyFields(key)...).WithFields(logger.Operation(op), zap.String("actor", cmd.Actor))
	cfg := h.deps.Configs.Load(ctx, key.GuildID)
	curve := h.deps.curveFor(log, cfg)

	var (
		outcome progression.CreditOutcome
		rec     *progression.Record
	)
	err = h.deps.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		var err error
		rec, err = loadProgression(ctx, tx, key, at)
		if err != nil {
			return err
		}
		outcome, err = mutate(rec, curve)
		if err != nil {
			return err
		}
		return tx.Progression().Upsert(ctx, rec)
	})
	if shared.IsValidation(err) {
		return nil, err
	}
	if err != nil {
		log.Error("admin xp operation failed", zap.Error(err))
		return nil, shared.Persistence("progression", "Admin", err)
	}

	result := &AdminXPResult{
		OldLevel:  outcome.OldLevel,
		NewLevel:  rec.Level,
		XP:        rec.XP,
		LeveledUp: outcome.LeveledUp(),
	}

	var events []shared.Event
	if op == "grant" {
		h.deps.Metrics.XPAwarded(SourceAdmin, cmd.Amount)
		events = append(events, shared.NewXPGainedEvent(key, cmd.Amount, SourceAdmin, at))
	}
	if result.LeveledUp {
		events = append(events, shared.NewLevelUpEvent(key, outcome.OldLevel, outcome.NewLevel, 0, at))
	}

	ach, err := h.deps.evaluateAchievements(ctx, log, key, cfg)
	result.FollowUpErr = err
	if ach != nil {
		result.Unlocked = ach.Unlocked
		result.PartialReward = ach.PartialReward
		if ach.LeveledUp {
			result.NewLevel = ach.NewLevel
		}
	}

	h.deps.refreshLeaderboard(ctx, log, key)
	publishAll(log, h.deps.Events, events)
	log.Info("admin xp operation applied", zap.Int64("amount", cmd.Amount), zap.Int("level", result.NewLevel))
	return result, nil
}
