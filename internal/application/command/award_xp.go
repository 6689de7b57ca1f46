package command

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/multiplier"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// One chat message in, one aggregate reward out:
// Cooldown Gate → Spam Check → Base XP → Multipliers → Streak →
// [Credit + Level-up + Streak + Report] → Achievements → Level-up Coins →
// Events
// ══════════════════════════════════════════════════════════════════════════════

// ErrOnCooldown is the skip reason of a message inside the cooldown window.
var ErrOnCooldown = shared.NewDomainError("progression", "Award", shared.ErrInvalidState, "message inside cooldown window")

// errCooldownRace aborts a unit that found the cooldown re-armed by another
// writer between the gate and the locked read.
var errCooldownRace = errors.New("award_xp: cooldown re-armed")

// AwardXPCommand is one chat message eligible for XP.
type AwardXPCommand struct {
	UserID    shared.UserID
	GuildID   shared.GuildID
	ChannelID shared.ChannelID
	Content   string
	Timestamp time.Time
	RoleIDs   []shared.RoleID

	CorrelationID string
}

// Validate checks the identifiers and returns the ledger key.
func (c AwardXPCommand) Validate() (shared.Key, error) {
	return shared.NewKey(c.UserID, c.GuildID)
}

// AwardXPResult aggregates everything a message produced.
type AwardXPResult struct {
	Key shared.Key

	// Skipped is set when the message changed nothing; SkipReason says why.
	Skipped    bool
	SkipReason error

	BaseXP      int64
	XPGained    int64 // multiplied XP plus streak bonus
	StreakBonus int64
	Streak      int
	Multiplier  multiplier.Multiplier

	OldLevel  int
	NewLevel  int
	LeveledUp bool
	XP        int64 // in-level XP after the award

	CoinsGained int64 // level-up coins plus achievement coins

	Spam             moderation.Verdict
	Warnings         int
	ModerationAction moderation.Action

	Unlocked []saga.UnlockedAchievement

	// PartialReward wraps shared.ErrPartialReward when achievement items
	// could not all be granted.
	PartialReward error

	// FollowUpErr reports a failure after the main unit committed
	// (achievements or level-up coins). The XP award itself stands.
	FollowUpErr error
}

// IsSkipped reports whether res is the no-op result.
func IsSkipped(res *AwardXPResult) bool {
	return res != nil && res.Skipped
}

// AwardXPConfig tunes the orchestrator.
type AwardXPConfig struct {
	// HistoryWindow is how far back the spam checks look.
	HistoryWindow time.Duration

	// AnticheatEnabled adds automation detection on top of the spam rules.
	AnticheatEnabled bool
}

// DefaultAwardXPConfig returns default configuration.
func DefaultAwardXPConfig() AwardXPConfig {
	return AwardXPConfig{
		HistoryWindow:    moderation.DefaultHistoryTTL,
		AnticheatEnabled: true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPHandler handles AwardXPCommand.
type AwardXPHandler struct {
	deps       Deps
	history    moderation.History
	classifier *moderation.Classifier
	resolver   *multiplier.Resolver
	rng        RandomSource
	log        *logger.Logger

	historyWindow    time.Duration
	anticheatEnabled bool
}

// NewAwardXPHandler creates the handler. A nil history falls back to an
// in-process ring buffer; a nil rng to math/rand.
func NewAwardXPHandler(deps Deps, history moderation.History, rng RandomSource, config AwardXPConfig) *AwardXPHandler {
	deps = deps.withDefaults()
	if history == nil {
		history = moderation.NewRingHistory(moderation.DefaultHistorySize, moderation.DefaultHistoryTTL)
	}
	if rng == nil {
		rng = MathRandSource{}
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = moderation.DefaultHistoryTTL
	}
	return &AwardXPHandler{
		deps:             deps,
		history:          history,
		classifier:       moderation.NewClassifier(),
		resolver:         multiplier.NewResolver(deps.Store.Multipliers()),
		rng:              rng,
		log:              deps.Log.WithComponent("award_xp"),
		historyWindow:    config.HistoryWindow,
		anticheatEnabled: config.AnticheatEnabled,
	}
}

// creditPlan is what the pre-unit steps decided.
type creditPlan struct {
	key       shared.Key
	cfg       guild.Config
	at        time.Time
	channelID shared.ChannelID
	content   string
	xp        int64 // multiplied, before streak bonus
	verdict   moderation.Verdict
	curve     progression.LevelCurve
}

// creditOutcome is what the unit wrote.
type creditOutcome struct {
	record   *progression.Record
	credit   progression.CreditOutcome
	streak   streak.Record
	bonus    int64
	warnings int
	action   moderation.Action
}

// Handle awards XP for one message.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	started := time.Now()
	defer func() { h.deps.Metrics.ObserveDuration("award", time.Since(started)) }()

	key, err := cmd.Validate()
	if err != nil {
		return nil, err
	}
	at := cmd.Timestamp
	if at.IsZero() {
		at = h.deps.Clock.Now()
	}
	at = at.UTC()

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := h.log.WithContext(ctx).WithFields(keyFields(key)...)
	cfg := h.deps.Configs.Load(ctx, key.GuildID)

	// Step 1: cooldown gate. A message inside the window touches nothing,
	// not even the spam history.
	current, err := h.deps.Store.Progression().Get(ctx, key)
	if err != nil && !shared.IsNotFound(err) {
		h.deps.Metrics.AwardProcessed(OutcomeFailed)
		return nil, shared.Persistence("progression", "Award", err)
	}
	if current != nil && current.OnCooldown(at, cfg.Cooldown()) {
		h.deps.Metrics.AwardProcessed(OutcomeSkipped)
		return &AwardXPResult{Key: key, Skipped: true, SkipReason: ErrOnCooldown}, nil
	}

	// Step 2: spam classification against prior history. The message joins
	// the history only once the unit commits.
	msg := moderation.Message{Content: cmd.Content, At: at}
	verdict := h.classify(ctx, log, key, msg, cfg)

	// Steps 3-4: base XP, damping and multipliers.
	base := h.rng.IntRange(cfg.XPMin, cfg.XPMax)
	damped := int64(math.Floor(float64(base) * verdict.Damping))

	mult, err := h.resolver.Resolve(ctx, key.GuildID, cmd.ChannelID, cmd.RoleIDs)
	if err != nil {
		h.deps.Metrics.AwardProcessed(OutcomeFailed)
		return nil, err
	}

	plan := creditPlan{
		key:       key,
		cfg:       cfg,
		at:        at,
		channelID: cmd.ChannelID,
		content:   cmd.Content,
		xp:        mult.ApplyXP(damped),
		verdict:   verdict,
		curve:     h.deps.curveFor(log, cfg),
	}

	// Steps 5-7: one atomic unit.
	out, err := h.credit(ctx, plan)
	if errors.Is(err, errCooldownRace) {
		h.deps.Metrics.AwardProcessed(OutcomeSkipped)
		return &AwardXPResult{Key: key, Skipped: true, SkipReason: ErrOnCooldown}, nil
	}
	if err != nil {
		h.deps.Metrics.AwardProcessed(OutcomeFailed)
		log.Error("award unit failed", zap.Error(err))
		return nil, shared.Persistence("progression", "Award", err)
	}
	h.remember(ctx, log, key, msg)

	result := &AwardXPResult{
		Key:              key,
		BaseXP:           base,
		XPGained:         plan.xp + out.bonus,
		StreakBonus:      out.bonus,
		Streak:           out.streak.Count,
		Multiplier:       mult,
		OldLevel:         out.credit.OldLevel,
		NewLevel:         out.record.Level,
		LeveledUp:        out.credit.LeveledUp(),
		XP:               out.record.XP,
		Spam:             verdict,
		Warnings:         out.warnings,
		ModerationAction: out.action,
	}

	xpEvent := shared.NewXPGainedEvent(key, result.XPGained, SourceMessage, at)
	xpEvent.BaseEvent = xpEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	events := []shared.Event{xpEvent}
	if verdict.Flagged() {
		h.deps.Metrics.SpamFlagged(string(verdict.Flag))
		events = append(events, shared.NewSpamFlaggedEvent(key, cmd.ChannelID, string(verdict.Flag), verdict.Severity, string(out.action), at))
	}

	// Step 8: achievements.
	h.applyAchievements(ctx, log, result, cfg)

	// Step 9: level-up coins, then one more achievement pass.
	if result.LeveledUp {
		h.deps.Metrics.LevelUp()
		coins := mult.ApplyCoins(int64(out.credit.NewLevel) * cfg.Economy.LevelUpCoinsPerLevel)
		if err := h.creditLevelUpCoins(ctx, key, coins); err != nil {
			log.Error("level-up coins not credited", zap.Int64("coins", coins), zap.Error(err))
			result.FollowUpErr = errors.Join(result.FollowUpErr, shared.Persistence("economy", "LevelUpCoins", err))
		} else {
			result.CoinsGained += coins
		}
		levelEvent := shared.NewLevelUpEvent(key, out.credit.OldLevel, out.credit.NewLevel, coins, at)
		levelEvent.BaseEvent = levelEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, levelEvent)
		h.applyAchievements(ctx, log, result, cfg)
	}

	// Achievement XP may have moved the row again.
	final := out.record
	if rec, err := h.deps.Store.Progression().Get(ctx, key); err == nil {
		final = rec
		result.NewLevel = rec.Level
		result.XP = rec.XP
	}
	updateLeaderboard(ctx, log, h.deps.Leaderboard, final)

	// Step 10: notify.
	publishAll(log, h.deps.Events, events)
	h.deps.Metrics.XPAwarded(SourceMessage, result.XPGained)
	h.deps.Metrics.AwardProcessed(OutcomeAwarded)

	log.Debug("xp awarded",
		logger.XPAmount(result.XPGained),
		zap.Int("level", result.NewLevel),
		zap.String("spam_flag", string(verdict.Flag)))

	return result, nil
}

// classify scores the message against the history buffer. History is
// advisory: a read failure is logged and the message is treated as having
// no prior history.
func (h *AwardXPHandler) classify(ctx context.Context, log *logger.Logger, key shared.Key, msg moderation.Message, cfg guild.Config) moderation.Verdict {
	recent, err := h.history.Recent(ctx, key, msg.At.Add(-h.historyWindow))
	if err != nil {
		log.Warn("message history unavailable", zap.Error(err))
		recent = nil
	}

	verdict := h.classifier.Classify(msg, recent, cfg.Spam)
	if !verdict.Flagged() && h.anticheatEnabled && cfg.Spam.Enabled {
		verdict = moderation.DetectAutomation(msg, recent)
	}
	return verdict
}

// remember appends a processed message to the history buffer.
func (h *AwardXPHandler) remember(ctx context.Context, log *logger.Logger, key shared.Key, msg moderation.Message) {
	if err := h.history.Record(ctx, key, moderation.HistoryEntry{Content: msg.Content, At: msg.At}); err != nil {
		log.Warn("message history not recorded", zap.Error(err))
	}
}

// credit runs steps 5-7 in one unit: XP and level-up loop, message counter,
// activity timestamp, chat streak and spam bookkeeping.
func (h *AwardXPHandler) credit(ctx context.Context, p creditPlan) (creditOutcome, error) {
	var out creditOutcome

	err := h.deps.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		rec, err := loadProgression(ctx, tx, p.key, p.at)
		if err != nil {
			return err
		}
		if rec.OnCooldown(p.at, p.cfg.Cooldown()) {
			return errCooldownRace
		}

		prev, err := tx.Streaks().Get(ctx, streak.KindChat, p.key)
		if err != nil && !shared.IsNotFound(err) {
			return err
		}
		out.streak = streak.Advance(prev, p.key.UserID.String(), p.key.GuildID.String(), p.at, p.cfg.StreakThreshold())
		if p.cfg.StreakEnabled {
			out.bonus = streak.Bonus(out.streak.Count, p.cfg.StreakMultiplier, p.cfg.MaxStreakBonus)
		}

		out.credit, err = rec.CreditXP(p.xp+out.bonus, p.curve)
		if err != nil {
			return err
		}
		rec.TotalMessages++
		rec.LastActivityAt = p.at
		out.record = rec

		if err := tx.Progression().Upsert(ctx, rec); err != nil {
			return err
		}
		if err := tx.Streaks().Upsert(ctx, streak.KindChat, out.streak); err != nil {
			return err
		}

		if !p.verdict.Flagged() {
			return nil
		}
		report := moderation.NewReport(h.deps.IDs.GenerateID(), p.key, p.channelID, p.verdict, p.content, p.at)
		if err := tx.Moderation().InsertReport(ctx, report); err != nil {
			return err
		}
		out.warnings, err = tx.Moderation().IncrementWarnings(ctx, p.key, string(p.verdict.Flag), p.at)
		if err != nil {
			return err
		}
		out.action = moderation.ActionFor(out.warnings, p.cfg.Spam)
		return nil
	})
	return out, err
}

func (h *AwardXPHandler) creditLevelUpCoins(ctx context.Context, key shared.Key, coins int64) error {
	if coins <= 0 {
		return nil
	}
	return h.deps.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		eco, err := loadEconomy(ctx, tx, key)
		if err != nil {
			return err
		}
		eco.Credit(coins)
		return tx.Economy().Upsert(ctx, eco)
	})
}

func (h *AwardXPHandler) applyAchievements(ctx context.Context, log *logger.Logger, result *AwardXPResult, cfg guild.Config) {
	res, err := h.deps.evaluateAchievements(ctx, log, result.Key, cfg)
	if err != nil {
		result.FollowUpErr = errors.Join(result.FollowUpErr, err)
	}
	if res == nil {
		return
	}
	result.Unlocked = append(result.Unlocked, res.Unlocked...)
	result.CoinsGained += res.CoinsAwarded
	if res.PartialReward != nil {
		result.PartialReward = errors.Join(result.PartialReward, res.PartialReward)
	}
}
