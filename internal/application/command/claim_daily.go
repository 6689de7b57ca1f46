package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM DAILY COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ErrClaimRejected matches every ClaimRejectedError via errors.Is.
var ErrClaimRejected = errors.New("daily reward already claimed")

// ClaimRejectedError is returned when less than a day has passed since the
// previous claim. Nothing is mutated.
type ClaimRejectedError struct {
	NextClaimAt time.Time
}

func (e *ClaimRejectedError) Error() string {
	return fmt.Sprintf("%s, next claim at %s", ErrClaimRejected, e.NextClaimAt.Format(time.RFC3339))
}

// Is implements errors.Is matching against ErrClaimRejected.
func (e *ClaimRejectedError) Is(target error) bool { return target == ErrClaimRejected }

// ClaimDailyCommand requests the daily coin reward.
type ClaimDailyCommand struct {
	UserID  shared.UserID
	GuildID shared.GuildID
	At      time.Time // defaults to the clock
}

// ClaimDailyResult is a successful claim.
type ClaimDailyResult struct {
	economy.ClaimResult
	Balance       int64
	Unlocked      []saga.UnlockedAchievement
	PartialReward error
	FollowUpErr   error
}

// ClaimDailyHandler handles ClaimDailyCommand.
type ClaimDailyHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewClaimDailyHandler creates the handler.
func NewClaimDailyHandler(deps Deps) *ClaimDailyHandler {
	deps = deps.withDefaults()
	return &ClaimDailyHandler{deps: deps, log: deps.Log.WithComponent("claim_daily")}
}

// Handle credits the daily reward or rejects the claim.
func (h *ClaimDailyHandler) Handle(ctx context.Context, cmd ClaimDailyCommand) (*ClaimDailyResult, error) {
	key, err := shared.NewKey(cmd.UserID, cmd.GuildID)
	if err != nil {
		return nil, err
	}
	now := cmd.At
	if now.IsZero() {
		now = h.deps.Clock.Now()
	}
	now = now.UTC()

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := h.log.WithContext(ctx).WithFields(keyFields(key)...)
	cfg := h.deps.Configs.Load(ctx, key.GuildID)

	var (
		claim   economy.ClaimResult
		balance int64
	)
	err = h.deps.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		eco, err := loadEconomy(ctx, tx, key)
		if err != nil {
			return err
		}
		if !eco.CanClaimDaily(now) {
			return &ClaimRejectedError{NextClaimAt: eco.NextDailyAt(now)}
		}
		claim = eco.ClaimDaily(now, cfg.Economy)
		balance = eco.Coins
		if err := tx.Economy().Upsert(ctx, eco); err != nil {
			return err
		}
		return tx.Streaks().Upsert(ctx, streak.KindDaily, streak.Record{
			SubjectID:   key.UserID.String(),
			ScopeID:     key.GuildID.String(),
			Count:       claim.Streak,
			Best:        claim.BestStreak,
			LastEventAt: now,
		})
	})
	if errors.Is(err, ErrClaimRejected) {
		h.deps.Metrics.DailyClaim(false)
		return nil, err
	}
	if err != nil {
		log.Error("daily claim failed", zap.Error(err))
		return nil, shared.Persistence("economy", "ClaimDaily", err)
	}
	h.deps.Metrics.DailyClaim(true)

	result := &ClaimDailyResult{ClaimResult: claim, Balance: balance}

	ach, err := h.deps.evaluateAchievements(ctx, log, key, cfg)
	result.FollowUpErr = err
	if ach != nil {
		result.Unlocked = ach.Unlocked
		result.PartialReward = ach.PartialReward
		result.Balance += ach.CoinsAwarded
	}

	publishAll(log, h.deps.Events, []shared.Event{
		shared.NewDailyClaimedEvent(key, claim.Coins, claim.Streak, now),
	})
	log.Debug("daily claimed", zap.Int64("coins", claim.Coins), zap.Int("streak", claim.Streak))
	return result, nil
}
