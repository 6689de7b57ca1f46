// Package command contains the write operations of the engine. Every
// handler that mutates a (user, guild) ledger key holds that key's lock for
// the whole operation.
package command

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/economy"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INJECTED COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// RandomSource draws the base XP of a message.
type RandomSource interface {
	// IntRange returns a uniform value in [lo, hi].
	IntRange(lo, hi int64) int64
}

// MathRandSource is the default RandomSource.
type MathRandSource struct{}

// IntRange implements RandomSource.
func (MathRandSource) IntRange(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Int64N(hi-lo+1)
}

// FixedRandomSource always returns Value clamped to the range.
type FixedRandomSource struct{ Value int64 }

// IntRange implements RandomSource.
func (f FixedRandomSource) IntRange(lo, hi int64) int64 {
	switch {
	case f.Value < lo:
		return lo
	case f.Value > hi:
		return hi
	default:
		return f.Value
	}
}

// IDGenerator generates unique identifiers for reports and sessions.
type IDGenerator interface {
	GenerateID() string
}

// UUIDGenerator generates random UUIDs.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() string { return uuid.NewString() }

// Metrics receives engine counters. The prometheus adapter lives in the
// infrastructure layer.
type Metrics interface {
	AwardProcessed(outcome string)
	XPAwarded(source string, amount int64)
	SpamFlagged(flag string)
	LevelUp()
	DailyClaim(accepted bool)
	ObserveDuration(op string, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) AwardProcessed(string) {}
func (NopMetrics) XPAwarded(string, int64) {}
func (NopMetrics) SpamFlagged(string) {}
func (NopMetrics) LevelUp() {}
func (NopMetrics) DailyClaim(bool) {}
func (NopMetrics) ObserveDuration(string, time.Duration) {}

// Award outcomes reported to Metrics.
const (
	OutcomeAwarded = "awarded"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// XP sources carried by XPGained events.
const (
	SourceMessage     = "message"
	SourceVoice       = "voice"
	SourceAdmin       = "admin"
	SourceAchievement = "achievement"
)

// LeaderboardUpdater is told about every progression row written, so a
// ranking cache can follow along. Failures are logged, never returned.
type LeaderboardUpdater interface {
	Update(ctx context.Context, rec progression.Record) error
}

// ══════════════════════════════════════════════════════════════════════════════
// GUILD CONFIG LOADING
// ══════════════════════════════════════════════════════════════════════════════

// ConfigLoader resolves a guild's configuration. Missing, unreadable or
// invalid configs fall back to defaults; that fallback is logged and never
// surfaces as an error.
type ConfigLoader struct {
	repo     guild.Repository
	defaults guild.Config
	log      *logger.Logger
}

// NewConfigLoader creates a loader. defaults is the template used for
// guilds without a valid stored config; its GuildID is replaced per call.
func NewConfigLoader(repo guild.Repository, defaults guild.Config, log *logger.Logger) *ConfigLoader {
	if log == nil {
		log = logger.NewNop()
	}
	if err := defaults.Validate(); err != nil {
		log.Warn("default guild config invalid, using built-in defaults", zap.Error(err))
		defaults = guild.Defaults("")
	}
	return &ConfigLoader{repo: repo, defaults: defaults, log: log.WithComponent("guild_config")}
}

// Load returns the guild's effective configuration.
func (l *ConfigLoader) Load(ctx context.Context, guildID shared.GuildID) guild.Config {
	fallback := l.defaults
	fallback.GuildID = guildID

	cfg, err := l.repo.Get(ctx, guildID)
	switch {
	case shared.IsNotFound(err):
		return fallback
	case err != nil:
		l.log.Warn("guild config lookup failed, using defaults",
			logger.GuildID(guildID.String()),
			zap.Error(shared.WrapError("guild", "Load", shared.ErrConfiguration, "config lookup failed", err)))
		return fallback
	}

	if err := cfg.Validate(); err != nil {
		l.log.Warn("guild config invalid, using defaults",
			logger.GuildID(guildID.String()),
			zap.Error(shared.WrapError("guild", "Load", shared.ErrConfiguration, "invalid config", err)))
		return fallback
	}
	return *cfg
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func loadProgression(ctx context.Context, tx ledger.Tx, key shared.Key, now time.Time) (*progression.Record, error) {
	rec, err := tx.Progression().Get(ctx, key)
	if shared.IsNotFound(err) {
		return progression.NewRecord(key, now), nil
	}
	return rec, err
}

func loadEconomy(ctx context.Context, tx ledger.Tx, key shared.Key) (*economy.Record, error) {
	rec, err := tx.Economy().Get(ctx, key)
	if shared.IsNotFound(err) {
		return economy.NewRecord(key), nil
	}
	return rec, err
}

func publishAll(log *logger.Logger, pub shared.EventPublisher, events []shared.Event) {
	for _, ev := range events {
		if err := pub.Publish(ev); err != nil {
			log.Warn("publish failed",
				zap.String("event_type", string(ev.EventType())),
				zap.String("aggregate_id", ev.AggregateID()),
				zap.Error(err))
		}
	}
}

func updateLeaderboard(ctx context.Context, log *logger.Logger, lb LeaderboardUpdater, rec *progression.Record) {
	if lb == nil || rec == nil {
		return
	}
	if err := lb.Update(ctx, *rec); err != nil {
		log.Warn("leaderboard cache update failed",
			logger.UserID(rec.UserID.String()),
			logger.GuildID(rec.GuildID.String()),
			zap.Error(err))
	}
}

func keyFields(key shared.Key) []zap.Field {
	return []zap.Field{logger.UserID(key.UserID.String()), logger.GuildID(key.GuildID.String())}
}
