// Package guild holds per-guild engine configuration.
// The engine only reads it; administrative flows own the writes.
package guild

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// DefaultLevelFormula is the stock level curve, 100 * level².
const DefaultLevelFormula = "100 * level ^ 2"

// SpamSettings tunes the spam classifier and moderation thresholds.
type SpamSettings struct {
	Enabled              bool    `json:"enabled" mapstructure:"enabled"`
	MaxDuplicateMessages int     `json:"max_duplicate_messages" mapstructure:"max_duplicate_messages"`
	MaxCapsPercentage    float64 `json:"max_caps_percentage" mapstructure:"max_caps_percentage"` // 0–100
	MaxEmojiCount        int     `json:"max_emoji_count" mapstructure:"max_emoji_count"`
	XPPenaltyEnabled     bool    `json:"xp_penalty_enabled" mapstructure:"xp_penalty_enabled"`
	WarningThreshold     int     `json:"warning_threshold" mapstructure:"warning_threshold"`
	MuteThreshold        int     `json:"mute_threshold" mapstructure:"mute_threshold"`
}

// VoiceSettings tunes time-based voice rewards.
type VoiceSettings struct {
	Enabled           bool  `json:"enabled" mapstructure:"enabled"`
	XPPerMinute       int64 `json:"xp_per_minute" mapstructure:"xp_per_minute"`
	MinSessionSeconds int64 `json:"min_session_seconds" mapstructure:"min_session_seconds"`
	MaxDailyVoiceXP   int64 `json:"max_daily_voice_xp" mapstructure:"max_daily_voice_xp"`
}

// EconomySettings tunes coin rewards.
type EconomySettings struct {
	LevelUpCoinsPerLevel   int64 `json:"level_up_coins_per_level" mapstructure:"level_up_coins_per_level"`
	DailyRewardBase        int64 `json:"daily_reward_base" mapstructure:"daily_reward_base"`
	DailyStreakBonusPerDay int64 `json:"daily_streak_bonus_per_day" mapstructure:"daily_streak_bonus_per_day"`
	MaxDailyStreakBonus    int64 `json:"max_daily_streak_bonus" mapstructure:"max_daily_streak_bonus"`
}

// Config is the engine-facing configuration of one guild.
type Config struct {
	GuildID                shared.GuildID  `json:"guild_id" mapstructure:"guild_id"`
	XPMin                  int64           `json:"xp_min" mapstructure:"xp_min"`
	XPMax                  int64           `json:"xp_max" mapstructure:"xp_max"`
	LevelFormula           string          `json:"level_formula" mapstructure:"level_formula"`
	StreakEnabled          bool            `json:"streak_enabled" mapstructure:"streak_enabled"`
	StreakThresholdMinutes int             `json:"streak_threshold_minutes" mapstructure:"streak_threshold_minutes"`
	StreakMultiplier       int64           `json:"streak_multiplier" mapstructure:"streak_multiplier"`
	MaxStreakBonus         int64           `json:"max_streak_bonus" mapstructure:"max_streak_bonus"`
	CooldownMs             int64           `json:"cooldown_ms" mapstructure:"cooldown_ms"`
	Spam                   SpamSettings    `json:"spam" mapstructure:"spam"`
	Voice                  VoiceSettings   `json:"voice" mapstructure:"voice"`
	Economy                EconomySettings `json:"economy" mapstructure:"economy"`
}

// Defaults returns the stock configuration for a guild.
func Defaults(guildID shared.GuildID) Config {
	return Config{
		GuildID:                guildID,
		XPMin:                  15,
		XPMax:                  25,
		LevelFormula:           DefaultLevelFormula,
		StreakEnabled:          true,
		StreakThresholdMinutes: 2,
		StreakMultiplier:       2,
		MaxStreakBonus:         100,
		CooldownMs:             60000,
		Spam: SpamSettings{
			Enabled:              true,
			MaxDuplicateMessages: 3,
			MaxCapsPercentage:    80,
			MaxEmojiCount:        10,
			XPPenaltyEnabled:     true,
			WarningThreshold:     3,
			MuteThreshold:        5,
		},
		Voice: VoiceSettings{
			Enabled:           true,
			XPPerMinute:       10,
			MinSessionSeconds: 60,
			MaxDailyVoiceXP:   500,
		},
		Economy: EconomySettings{
			LevelUpCoinsPerLevel:   100,
			DailyRewardBase:        50,
			DailyStreakBonusPerDay: 10,
			MaxDailyStreakBonus:    100,
		},
	}
}

// Cooldown returns the per-user message cooldown.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// StreakThreshold returns the chat-streak continuation window.
func (c Config) StreakThreshold() time.Duration {
	return time.Duration(c.StreakThresholdMinutes) * time.Minute
}

// Validate checks the numeric ranges. A config that fails validation is
// replaced by defaults at load time.
func (c Config) Validate() error {
	const domain, op = "guild", "Validate"
	switch {
	case c.XPMin < 0 || c.XPMax < c.XPMin:
		return shared.Validation(domain, op, "xp range must satisfy 0 <= min <= max")
	case c.CooldownMs < 0:
		return shared.Validation(domain, op, "cooldown cannot be negative")
	case c.StreakThresholdMinutes < 0 || c.StreakMultiplier < 0 || c.MaxStreakBonus < 0:
		return shared.Validation(domain, op, "streak settings cannot be negative")
	case c.Spam.MaxDuplicateMessages < 1 || c.Spam.MaxEmojiCount < 1:
		return shared.Validation(domain, op, "spam thresholds must be positive")
	case c.Spam.MaxCapsPercentage <= 0 || c.Spam.MaxCapsPercentage > 100:
		return shared.Validation(domain, op, "caps percentage must be in (0, 100]")
	case c.Voice.XPPerMinute < 0 || c.Voice.MinSessionSeconds < 0 || c.Voice.MaxDailyVoiceXP < 0:
		return shared.Validation(domain, op, "voice settings cannot be negative")
	case c.Economy.LevelUpCoinsPerLevel < 0 || c.Economy.DailyRewardBase < 0 ||
		c.Economy.DailyStreakBonusPerDay < 0 || c.Economy.MaxDailyStreakBonus < 0:
		return shared.Validation(domain, op, "economy settings cannot be negative")
	}
	return nil
}

// Repository reads guild configuration from the ledger store.
// Get returns an error wrapping shared.ErrNotFound when no row exists.
type Repository interface {
	Get(ctx context.Context, guildID shared.GuildID) (*Config, error)
	Upsert(ctx context.Context, cfg Config) error
}
