package query

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DAILY STATUS QUERY
// What is still available today: the daily coin claim, the voice XP budget
// and the open voice session, if any.
// ══════════════════════════════════════════════════════════════════════════════

// GetDailyStatusQuery identifies the member.
type GetDailyStatusQuery struct {
	UserID  shared.UserID
	GuildID shared.GuildID
}

// VoiceSessionDTO describes an open voice session.
type VoiceSessionDTO struct {
	ChannelID       string    `json:"channel_id"`
	StartedAt       time.Time `json:"started_at"`
	ElapsedSeconds  int64     `json:"elapsed_seconds"`
	SpeakingSeconds int64     `json:"speaking_seconds"`
}

// DailyStatusDTO is today's status for one member.
type DailyStatusDTO struct {
	Day         string    `json:"day"` // YYYY-MM-DD in the engine timezone
	CanClaim    bool      `json:"can_claim"`
	NextClaimAt time.Time `json:"next_claim_at"`
	DailyStreak int       `json:"daily_streak"`

	VoiceEnabled     bool  `json:"voice_enabled"`
	VoiceXPToday     int64 `json:"voice_xp_today"`
	VoiceXPCap       int64 `json:"voice_xp_cap"`       // 0 = uncapped
	VoiceXPRemaining int64 `json:"voice_xp_remaining"` // -1 when uncapped

	OpenSession *VoiceSessionDTO `json:"open_session,omitempty"`
}

// GetDailyStatusHandler handles GetDailyStatusQuery.
type GetDailyStatusHandler struct {
	store    ledger.Store
	configs  ConfigSource
	clock    timeutil.Clock
	calendar timeutil.Calendar
}

// NewGetDailyStatusHandler creates the handler.
func NewGetDailyStatusHandler(store ledger.Store, configs ConfigSource, clock timeutil.Clock, calendar timeutil.Calendar) *GetDailyStatusHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetDailyStatusHandler{store: store, configs: configs, clock: clock, calendar: calendar}
}

// Handle returns today's status.
func (h *GetDailyStatusHandler) Handle(ctx context.Context, q GetDailyStatusQuery) (*DailyStatusDTO, error) {
	key, err := shared.NewKey(q.UserID, q.GuildID)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now().UTC()
	cfg := h.configs.Load(ctx, key.GuildID)

	dto := &DailyStatusDTO{
		Day:          h.calendar.FormatDate(now),
		CanClaim:     true,
		NextClaimAt:  now,
		VoiceEnabled: cfg.Voice.Enabled,
		VoiceXPCap:   cfg.Voice.MaxDailyVoiceXP,
	}

	eco, err := h.store.Economy().Get(ctx, key)
	switch {
	case err == nil:
		dto.CanClaim = eco.CanClaimDaily(now)
		dto.NextClaimAt = eco.NextDailyAt(now)
		dto.DailyStreak = eco.DailyStreak
	case !shared.IsNotFound(err):
		return nil, shared.Persistence("query", "GetDailyStatus", err)
	}

	earned, err := h.store.Voice().SumDailyVoiceXP(ctx, key, h.calendar.StartOfDay(now), h.calendar.EndOfDay(now))
	if err != nil {
		return nil, shared.Persistence("query", "GetDailyStatus", err)
	}
	dto.VoiceXPToday = earned
	dto.VoiceXPRemaining = -1
	if cfg.Voice.MaxDailyVoiceXP > 0 {
		dto.VoiceXPRemaining = max(cfg.Voice.MaxDailyVoiceXP-earned, 0)
	}

	open, err := h.store.Voice().GetOpen(ctx, key)
	switch {
	case err == nil:
		dto.OpenSession = &VoiceSessionDTO{
			ChannelID:       open.ChannelID.String(),
			StartedAt:       open.StartedAt,
			ElapsedSeconds:  open.AccumulatedSeconds(now),
			SpeakingSeconds: open.SpeakingSeconds,
		}
	case !shared.IsNotFound(err):
		return nil, shared.Persistence("query", "GetDailyStatus", err)
	}
	return dto, nil
}
