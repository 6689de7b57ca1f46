package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/keylock"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

// Deps are the collaborators shared by every command handler. Store and
// Configs are required. A nil Achievements skips evaluation; the rest
// default to no-op or system implementations.
type Deps struct {
	Store        ledger.Store
	Locks        *keylock.KeyedMutex
	Configs      *ConfigLoader
	Curves       *progression.Evaluator
	Achievements *saga.AchievementFlowSaga

	Events      shared.EventPublisher
	Leaderboard LeaderboardUpdater
	Metrics     Metrics
	IDs         IDGenerator
	Clock       timeutil.Clock
	Calendar    timeutil.Calendar
	Log         *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = shared.NopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = NopMetrics{}
	}
	if d.IDs == nil {
		d.IDs = UUIDGenerator{}
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Curves == nil {
		d.Curves = progression.NewEvaluator()
	}
	return d
}

// lock acquires the key's mutex for the duration of one operation.
func (d Deps) lock(ctx context.Context, key shared.Key) (func(), error) {
	return d.Locks.Lock(ctx, key.String())
}

// curveFor resolves the guild's level curve, logging a rejected formula.
func (d Deps) curveFor(log *logger.Logger, cfg guild.Config) progression.Curve {
	curve, err := d.Curves.CurveFor(cfg)
	if err != nil {
		log.Warn("level formula rejected, using default curve", zap.Error(err))
	}
	return curve
}

// evaluateAchievements runs the achievement saga after a committed unit.
// The unit's effects stand whatever happens here, so failures are logged
// and returned for the caller's result rather than as the operation error.
func (d Deps) evaluateAchievements(ctx context.Context, log *logger.Logger, key shared.Key, cfg guild.Config) (*saga.EvaluationResult, error) {
	if d.Achievements == nil {
		return &saga.EvaluationResult{Key: key}, nil
	}
	res, err := d.Achievements.Evaluate(ctx, key, cfg)
	if err != nil {
		log.Error("achievement evaluation failed", zap.Error(err))
	}
	return res, err
}

// refreshLeaderboard pushes the stored progression row to the ranking cache.
func (d Deps) refreshLeaderboard(ctx context.Context, log *logger.Logger, key shared.Key) {
	if d.Leaderboard == nil {
		return
	}
	rec, err := d.Store.Progression().Get(ctx, key)
	if err != nil {
		log.Warn("leaderboard refresh skipped", zap.Error(err))
		return
	}
	updateLeaderboard(ctx, log, d.Leaderboard, rec)
}
