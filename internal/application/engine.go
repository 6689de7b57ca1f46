// Package application assembles the command and query handlers into the
// Engine, the single entry point the transports (kafka consumer, HTTP API,
// scheduler jobs) talk to.
package application

import (
	"context"
	"errors"
	"time"

	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/application/query"
	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/achievement"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
	"github.com/guildxp/guildxp/pkg/keylock"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

// Options wires an Engine. Store is required; everything else has a
// working default.
type Options struct {
	Store    ledger.Store
	Defaults guild.Config // template for guilds without a stored config

	History      moderation.History
	Random       command.RandomSource
	Events       shared.EventPublisher
	Leaderboard  command.LeaderboardUpdater
	RankingCache query.LeaderboardCache
	Metrics      command.Metrics
	IDs          command.IDGenerator
	Clock        timeutil.Clock
	Calendar     timeutil.Calendar
	Log          *logger.Logger

	CustomAchievements achievement.CustomPredicate
	Award              command.AwardXPConfig
	AchievementFlow    saga.AchievementFlowConfig

	// ManualAchievements turns off evaluation after awards, claims and
	// voice rewards; EvaluateAchievements still runs the flow.
	ManualAchievements bool
}

// Engine is the progression and anti-abuse engine.
type Engine struct {
	award   *command.AwardXPHandler
	daily   *command.ClaimDailyHandler
	voice   *command.VoiceSessionHandler
	admin   *command.AdminXPHandler
	economy *command.EconomyHandler

	progress    *query.GetProgressHandler
	leaderboard *query.GetLeaderboardHandler
	dailyStatus *query.GetDailyStatusHandler

	configs *command.ConfigLoader
}

// New builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("application: ledger store is required")
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock{}
	}
	if opts.Defaults.LevelFormula == "" {
		opts.Defaults = guild.Defaults("")
	}
	if opts.Award == (command.AwardXPConfig{}) {
		opts.Award = command.DefaultAwardXPConfig()
	}
	if opts.AchievementFlow == (saga.AchievementFlowConfig{}) {
		opts.AchievementFlow = saga.DefaultAchievementFlowConfig()
	}

	curves := progression.NewEvaluator()
	configs := command.NewConfigLoader(opts.Store.GuildConfigs(), opts.Defaults, opts.Log)

	var evalOpts []achievement.Option
	if opts.CustomAchievements != nil {
		evalOpts = append(evalOpts, achievement.WithCustomPredicate(opts.CustomAchievements))
	}
	flow := saga.NewAchievementFlowSaga(opts.Store, curves, achievement.NewEvaluator(evalOpts...),
		opts.Events, opts.Clock, opts.Log, opts.AchievementFlow)

	deps := command.Deps{
		Store:        opts.Store,
		Locks:        keylock.New(),
		Configs:      configs,
		Curves:       curves,
		Achievements: flow,
		Events:       opts.Events,
		Leaderboard:  opts.Leaderboard,
		Metrics:      opts.Metrics,
		IDs:          opts.IDs,
		Clock:        opts.Clock,
		Calendar:     opts.Calendar,
		Log:          opts.Log,
	}

	auto := deps
	if opts.ManualAchievements {
		auto.Achievements = nil
	}

	return &Engine{
		award:       command.NewAwardXPHandler(auto, opts.History, opts.Random, opts.Award),
		daily:       command.NewClaimDailyHandler(auto),
		voice:       command.NewVoiceSessionHandler(auto),
		admin:       command.NewAdminXPHandler(auto),
		economy:     command.NewEconomyHandler(deps),
		progress:    query.NewGetProgressHandler(opts.Store, configs, curves, opts.Log),
		leaderboard: query.NewGetLeaderboardHandler(opts.Store.Leaderboard(), opts.RankingCache, configs, curves, opts.Clock, opts.Log),
		dailyStatus: query.NewGetDailyStatusHandler(opts.Store, configs, opts.Clock, opts.Calendar),
		configs:     configs,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// Award processes one chat message.
func (e *Engine) Award(ctx context.Context, cmd command.AwardXPCommand) (*command.AwardXPResult, error) {
	return e.award.Handle(ctx, cmd)
}

// ClaimDaily claims the daily coin reward. A claim made less than a day
// after the previous one fails with an error matching command.ErrClaimRejected.
func (e *Engine) ClaimDaily(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*command.ClaimDailyResult, error) {
	return e.daily.Handle(ctx, command.ClaimDailyCommand{UserID: userID, GuildID: guildID})
}

// HandleVoice applies a voice-state change.
func (e *Engine) HandleVoice(ctx context.Context, ev voice.Event) (*command.VoiceResult, error) {
	return e.voice.Handle(ctx, ev)
}

// EndVoiceSession closes the user's open voice session at now.
func (e *Engine) EndVoiceSession(ctx context.Context, userID shared.UserID, guildID shared.GuildID, now time.Time) (*command.VoiceReward, error) {
	return e.voice.EndSession(ctx, userID, guildID, now)
}

// CloseStaleVoiceSessions closes sessions open longer than maxAge.
func (e *Engine) CloseStaleVoiceSessions(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	return e.voice.CloseStale(ctx, maxAge, limit)
}

// EvaluateAchievements grants every newly satisfied achievement.
func (e *Engine) EvaluateAchievements(ctx context.Context, userID shared.UserID, guildID shared.GuildID) ([]saga.UnlockedAchievement, error) {
	res, err := e.economy.EvaluateAchievements(ctx, userID, guildID)
	if res == nil {
		return nil, err
	}
	return res.Unlocked, err
}

// GrantXP credits a positive amount of XP.
func (e *Engine) GrantXP(ctx context.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error) {
	return e.admin.Grant(ctx, cmd)
}

// SetXP replaces the user's lifetime XP.
func (e *Engine) SetXP(ctx context.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error) {
	return e.admin.Set(ctx, cmd)
}

// ResetXP returns the user to level 1.
func (e *Engine) ResetXP(ctx context.Context, cmd command.AdminXPCommand) (*command.AdminXPResult, error) {
	return e.admin.Reset(ctx, cmd)
}

// Debit removes up to amount coins.
func (e *Engine) Debit(ctx context.Context, userID shared.UserID, guildID shared.GuildID, amount int64) (*command.DebitResult, error) {
	return e.economy.Debit(ctx, userID, guildID, amount)
}

// GrantItem adds items to the user's inventory.
func (e *Engine) GrantItem(ctx context.Context, userID shared.UserID, guildID shared.GuildID, itemID string, quantity int) error {
	return e.economy.GrantItem(ctx, userID, guildID, itemID, quantity)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// Progress returns the member's profile.
func (e *Engine) Progress(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*query.ProgressDTO, error) {
	return e.progress.Handle(ctx, query.GetProgressQuery{UserID: userID, GuildID: guildID})
}

// Leaderboard returns one page of the guild ranking.
func (e *Engine) Leaderboard(ctx context.Context, q query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error) {
	return e.leaderboard.Handle(ctx, q)
}

// DailyStatus returns what the member can still earn today.
func (e *Engine) DailyStatus(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*query.DailyStatusDTO, error) {
	return e.dailyStatus.Handle(ctx, query.GetDailyStatusQuery{UserID: userID, GuildID: guildID})
}

// GuildConfig returns the effective configuration of a guild.
func (e *Engine) GuildConfig(ctx context.Context, guildID shared.GuildID) guild.Config {
	return e.configs.Load(ctx, guildID)
}
