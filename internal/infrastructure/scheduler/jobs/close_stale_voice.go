package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE STALE VOICE SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// VoiceSweeper closes sessions open longer than maxAge and returns how
// many it closed. application.Engine implements it.
type VoiceSweeper interface {
	CloseStaleVoiceSessions(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// CloseStaleVoiceJob ends voice sessions whose leave event never arrived,
// paying them out as if the user left at the age limit.
type CloseStaleVoiceJob struct {
	sweeper VoiceSweeper
	maxAge  time.Duration
	batch   int
	log     *logger.Logger
}

// NewCloseStaleVoiceJob creates the job. batch bounds sessions per run;
// zero means unbounded.
func NewCloseStaleVoiceJob(sweeper VoiceSweeper, maxAge time.Duration, batch int, log *logger.Logger) *CloseStaleVoiceJob {
	if log == nil {
		log = logger.NewNop()
	}
	return &CloseStaleVoiceJob{
		sweeper: sweeper,
		maxAge:  maxAge,
		batch:   batch,
		log:     log.WithComponent("job.close_stale_voice"),
	}
}

func (j *CloseStaleVoiceJob) Name() string { return "close_stale_voice" }

func (j *CloseStaleVoiceJob) Description() string {
	return "Closes voice sessions open longer than " + j.maxAge.String()
}

func (j *CloseStaleVoiceJob) Run(ctx context.Context) error {
	n, err := j.sweeper.CloseStaleVoiceSessions(ctx, j.maxAge, j.batch)
	if n > 0 || err != nil {
		j.log.Info("stale voice sessions closed", zap.Int("closed", n), zap.Error(err))
	}
	return err
}
