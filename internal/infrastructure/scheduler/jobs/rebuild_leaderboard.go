// Package jobs holds the scheduled maintenance jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// GuildLister enumerates guilds that have progression rows.
type GuildLister interface {
	Guilds(ctx context.Context) ([]shared.GuildID, error)
}

// RankingCache is the cache side of a rebuild.
type RankingCache interface {
	Rebuild(ctx context.Context, guildID shared.GuildID, recs []progression.Record) (skipped int, err error)
}

// RebuildStats summarises one run.
type RebuildStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Guilds    int
	Members   int
	Skipped   int
	Failed    int
}

// RebuildLeaderboardJob replaces every guild's cached ranking with the
// ledger's. Incremental cache updates can be lost when redis is briefly
// unavailable; this job repairs the drift.
type RebuildLeaderboardJob struct {
	guilds    GuildLister
	ledger    progression.LeaderboardReader
	cache     RankingCache
	batchSize int
	log       *logger.Logger

	last atomic.Pointer[RebuildStats]
}

// NewRebuildLeaderboardJob creates the job. batchSize is the ledger page
// size; the store may clamp it.
func NewRebuildLeaderboardJob(
	guilds GuildLister,
	ledger progression.LeaderboardReader,
	cache RankingCache,
	batchSize int,
	log *logger.Logger,
) *RebuildLeaderboardJob {
	if batchSize <= 0 {
		batchSize = shared.MaxPageSize
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RebuildLeaderboardJob{
		guilds:    guilds,
		ledger:    ledger,
		cache:     cache,
		batchSize: batchSize,
		log:       log.WithComponent("job.rebuild_leaderboard"),
	}
}

func (j *RebuildLeaderboardJob) Name() string { return "rebuild_leaderboard" }

func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the cached guild rankings from the ledger"
}

// Run rebuilds guild by guild. One guild failing does not stop the rest;
// the run reports an error if any guild failed.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	stats := &RebuildStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.last.Store(stats)
	}()

	guilds, err := j.guilds.Guilds(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}

	var errs []error
	for _, g := range guilds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		n, skipped, err := j.rebuildGuild(ctx, g)
		if err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("guild %s: %w", g, err))
			j.log.Warn("leaderboard rebuild failed", logger.GuildID(g.String()), zap.Error(err))
			continue
		}
		stats.Guilds++
		stats.Members += n
		stats.Skipped += skipped
	}

	j.log.Info("leaderboard rebuild finished",
		zap.Int("guilds", stats.Guilds),
		zap.Int("members", stats.Members),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return errors.Join(errs...)
}

func (j *RebuildLeaderboardJob) rebuildGuild(ctx context.Context, guildID shared.GuildID) (members, skipped int, err error) {
	var all []progression.Record
	for page := 1; ; page++ {
		p := shared.Pagination{Page: page, PageSize: j.batchSize}
		recs, err := j.ledger.Leaderboard(ctx, guildID, p)
		if err != nil {
			return 0, 0, err
		}
		all = append(all, recs...)
		if len(recs) < p.Limit() {
			break
		}
	}

	skipped, err = j.cache.Rebuild(ctx, guildID, all)
	if err != nil {
		return 0, 0, err
	}
	return len(all), skipped, nil
}

// LastStats returns the most recent run's stats, or nil before the first.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.last.Load()
}
