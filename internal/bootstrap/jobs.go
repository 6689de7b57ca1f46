package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/infrastructure/scheduler"
	"github.com/guildxp/guildxp/internal/infrastructure/scheduler/jobs"
)

// Scheduler registers the maintenance jobs on a new scheduler. The
// leaderboard rebuild needs the ranking cache and is skipped without redis.
// The scheduler is returned stopped.
func (rt *Runtime) Scheduler() (*scheduler.Scheduler, error) {
	cfg := rt.Config.Engine.Scheduler

	scfg := scheduler.DefaultConfig()
	if cfg.JobTimeout > 0 {
		scfg.JobTimeout = cfg.JobTimeout
	}
	scfg.Location = rt.Config.App.Location
	scfg.Log = rt.Log
	scfg.Observer = rt.Metrics
	s := scheduler.New(scfg)

	every, err := scheduler.NewIntervalSchedule(cfg.StaleVoiceInterval)
	if err != nil {
		return nil, fmt.Errorf("stale voice schedule: %w", err)
	}
	sweep := jobs.NewCloseStaleVoiceJob(rt.Engine, cfg.VoiceSessionMaxAge, cfg.StaleVoiceBatch, rt.Log)
	if err := s.Register(sweep, every); err != nil {
		return nil, err
	}

	if rt.RankingCache == nil {
		rt.Log.Info("ranking cache absent, leaderboard rebuild not scheduled")
		return s, nil
	}
	sched, err := scheduler.ParseSchedule(cfg.LeaderboardCron, cfg.LeaderboardInterval)
	if err != nil {
		return nil, fmt.Errorf("leaderboard schedule: %w", err)
	}
	rebuild := jobs.NewRebuildLeaderboardJob(rt.Store, rt.Store.Leaderboard(), rt.RankingCache,
		cfg.LeaderboardBatchSize, rt.Log)
	if err := s.Register(rebuild, sched); err != nil {
		return nil, err
	}
	rt.Log.Info("leaderboard rebuild scheduled", zap.String("schedule", sched.String()))
	return s, nil
}
