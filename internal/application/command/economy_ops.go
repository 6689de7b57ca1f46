package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ECONOMY & ACHIEVEMENT COMMANDS
// Reward sinks (debit), inventory grants and on-demand achievement runs.
// ══════════════════════════════════════════════════════════════════════════════

// DebitResult reports what a debit actually removed.
type DebitResult struct {
	Requested int64
	Debited   int64 // less than Requested when the balance ran out
	Balance   int64
}

// EconomyHandler handles coin debits, item grants and achievement runs.
type EconomyHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewEconomyHandler creates the handler.
func NewEconomyHandler(deps Deps) *EconomyHandler {
	deps = deps.withDefaults()
	return &EconomyHandler{deps: deps, log: deps.Log.WithComponent("economy")}
}

// Debit removes up to amount coins, clamping the balance at zero.
func (h *EconomyHandler) Debit(ctx context.Context, userID shared.UserID, guildID shared.GuildID, amount int64) (*DebitResult, error) {
	key, err := shared.NewKey(userID, guildID)
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, shared.NewDomainError("economy", "Debit", shared.ErrNegativeValue, "debit amount cannot be negative")
	}

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &DebitResult{Requested: amount}
	err = h.deps.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		eco, err := loadEconomy(ctx, tx, key)
		if err != nil {
			return err
		}
		res.Debited = eco.Debit(amount)
		res.Balance = eco.Coins
		return tx.Economy().Upsert(ctx, eco)
	})
	if err != nil {
		return nil, shared.Persistence("economy", "Debit", err)
	}
	return res, nil
}

// GrantItem adds quantity of itemID to the user's inventory.
func (h *EconomyHandler) GrantItem(ctx context.Context, userID shared.UserID, guildID shared.GuildID, itemID string, quantity int) error {
	key, err := shared.NewKey(userID, guildID)
	if err != nil {
		return err
	}
	if itemID == "" || quantity <= 0 {
		return shared.Validation("economy", "GrantItem", "item id and a positive quantity are required")
	}

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	if err := h.deps.Store.Inventory().GrantItem(ctx, key, itemID, quantity); err != nil {
		return shared.Persistence("economy", "GrantItem", err)
	}
	return nil
}

// EvaluateAchievements runs the achievement flow on demand and returns the
// newly unlocked achievements.
func (h *EconomyHandler) EvaluateAchievements(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*saga.EvaluationResult, error) {
	key, err := shared.NewKey(userID, guildID)
	if err != nil {
		return nil, err
	}

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := h.log.WithContext(ctx).WithFields(keyFields(key)...)
	cfg := h.deps.Configs.Load(ctx, key.GuildID)

	started := time.Now()
	res, err := h.deps.evaluateAchievements(ctx, log, key, cfg)
	h.deps.Metrics.ObserveDuration("evaluate_achievements", time.Since(started))
	if err != nil {
		return res, err
	}
	if res.HasUnlocks() {
		log.Info("achievements unlocked", zap.Int("count", len(res.Unlocked)))
		h.deps.refreshLeaderboard(ctx, log, key)
	}
	return res, nil
}
