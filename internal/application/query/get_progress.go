package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/streak"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Everything a profile card shows for one member: level progress, rank,
// balance, streaks, unlocked achievements and inventory.
// ══════════════════════════════════════════════════════════════════════════════

// ConfigSource resolves a guild's effective configuration.
type ConfigSource interface {
	Load(ctx context.Context, guildID shared.GuildID) guild.Config
}

// GetProgressQuery identifies the member.
type GetProgressQuery struct {
	UserID  shared.UserID
	GuildID shared.GuildID
}

// ItemDTO is one inventory line.
type ItemDTO struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// ProgressDTO is the member's profile.
type ProgressDTO struct {
	UserID  string `json:"user_id"`
	GuildID string `json:"guild_id"`

	Level         int     `json:"level"`
	XP            int64   `json:"xp"`
	XPToNextLevel int64   `json:"xp_to_next_level"`
	LevelProgress float64 `json:"level_progress"` // 0.0 - 1.0
	TotalXP       int64   `json:"total_xp"`
	TotalMessages int64   `json:"total_messages"`

	Rank         int     `json:"rank"`
	TotalMembers int     `json:"total_members"`
	Percentile   float64 `json:"percentile"` // share of members ranked below

	Coins       int64 `json:"coins"`
	TotalEarned int64 `json:"total_earned"`

	ChatStreak      int        `json:"chat_streak"`
	BestChatStreak  int        `json:"best_chat_streak"`
	DailyStreak     int        `json:"daily_streak"`
	BestDailyStreak int        `json:"best_daily_streak"`
	NextDailyAt     *time.Time `json:"next_daily_at,omitempty"`

	Achievements []string  `json:"achievements"`
	Items        []ItemDTO `json:"items"`

	JoinedAt       time.Time  `json:"joined_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	store   ledger.Store
	configs ConfigSource
	curves  *progression.Evaluator
	log     *logger.Logger
}

// NewGetProgressHandler creates the handler.
func NewGetProgressHandler(store ledger.Store, configs ConfigSource, curves *progression.Evaluator, log *logger.Logger) *GetProgressHandler {
	if curves == nil {
		curves = progression.NewEvaluator()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &GetProgressHandler{store: store, configs: configs, curves: curves, log: log.WithComponent("get_progress")}
}

// Handle returns the member's profile. A member the ledger has never seen
// is reported as not found.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	key, err := shared.NewKey(q.UserID, q.GuildID)
	if err != nil {
		return nil, err
	}

	rec, err := h.store.Progression().Get(ctx, key)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, err
		}
		return nil, shared.Persistence("query", "GetProgress", err)
	}

	curve, cfgErr := h.curves.CurveFor(h.configs.Load(ctx, key.GuildID))
	if cfgErr != nil {
		h.log.Warn("level formula rejected, using default curve", zap.Error(cfgErr))
	}

	dto := &ProgressDTO{
		UserID:        key.UserID.String(),
		GuildID:       key.GuildID.String(),
		Level:         rec.Level,
		XP:            rec.XP,
		TotalXP:       rec.TotalXP(curve),
		TotalMessages: rec.TotalMessages,
		JoinedAt:      rec.JoinedAt,
		Achievements:  []string{},
		Items:         []ItemDTO{},
	}
	if !rec.LastActivityAt.IsZero() {
		at := rec.LastActivityAt
		dto.LastActivityAt = &at
	}
	if needed, err := curve.XPNeeded(rec.Level); err == nil && needed > 0 {
		dto.XPToNextLevel = needed - rec.XP
		dto.LevelProgress = float64(rec.XP) / float64(needed)
	}

	if err := h.fillRank(ctx, key, dto); err != nil {
		return nil, shared.Persistence("query", "GetProgress", err)
	}
	if err := h.fillEconomy(ctx, key, dto); err != nil {
		return nil, shared.Persistence("query", "GetProgress", err)
	}
	if err := h.fillCollections(ctx, key, dto); err != nil {
		return nil, shared.Persistence("query", "GetProgress", err)
	}
	return dto, nil
}

func (h *GetProgressHandler) fillRank(ctx context.Context, key shared.Key, dto *ProgressDTO) error {
	lb := h.store.Leaderboard()
	rank, err := lb.Rank(ctx, key)
	if err != nil {
		return err
	}
	total, err := lb.CountMembers(ctx, key.GuildID)
	if err != nil {
		return err
	}
	dto.Rank = int(rank)
	dto.TotalMembers = total
	if total > 0 {
		dto.Percentile = float64(total-int(rank)) / float64(total) * 100
	}
	return nil
}

func (h *GetProgressHandler) fillEconomy(ctx context.Context, key shared.Key, dto *ProgressDTO) error {
	eco, err := h.store.Economy().Get(ctx, key)
	switch {
	case err == nil:
		dto.Coins = eco.Coins
		dto.TotalEarned = eco.TotalEarned
		dto.DailyStreak = eco.DailyStreak
		dto.BestDailyStreak = eco.BestDailyStreak
		if eco.DailyLastClaimAt != nil {
			next := eco.DailyLastClaimAt.Add(streak.Day)
			dto.NextDailyAt = &next
		}
	case !shared.IsNotFound(err):
		return err
	}

	chat, err := h.store.Streaks().Get(ctx, streak.KindChat, key)
	switch {
	case err == nil:
		dto.ChatStreak = chat.Count
		dto.BestChatStreak = chat.Best
	case !shared.IsNotFound(err):
		return err
	}
	return nil
}

func (h *GetProgressHandler) fillCollections(ctx context.Context, key shared.Key, dto *ProgressDTO) error {
	unlocks, err := h.store.Achievements().ListUnlocks(ctx, key)
	if err != nil {
		return err
	}
	for _, u := range unlocks {
		dto.Achievements = append(dto.Achievements, u.AchievementID)
	}

	items, err := h.store.Inventory().ListItems(ctx, key)
	if err != nil {
		return err
	}
	for _, it := range items {
		dto.Items = append(dto.Items, ItemDTO{ItemID: it.ItemID, Quantity: it.Quantity})
	}
	return nil
}
