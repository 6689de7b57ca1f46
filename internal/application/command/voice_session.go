package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/progression"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
	"github.com/guildxp/guildxp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE SESSION COMMAND
// NoSession → Active on join; Active → NoSession on leave (rewarded);
// Active → Active on switch (old session rewarded, new one opened at the same
// instant) and on presence updates (mutated in place).
// ══════════════════════════════════════════════════════════════════════════════

// VoiceReward is the outcome of closing one session.
type VoiceReward struct {
	SessionID string
	ChannelID shared.ChannelID
	Seconds   int64
	XP        int64
	OldLevel  int
	NewLevel  int
	LeveledUp bool
	Stale     bool // closed by a join that found it still open
}

// VoiceResult is what one voice event did.
type VoiceResult struct {
	Transition    voice.Transition
	Closed        *VoiceReward
	Opened        *voice.Session
	Unlocked      []saga.UnlockedAchievement
	PartialReward error
	FollowUpErr   error
}

// VoiceSessionHandler applies voice events.
type VoiceSessionHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewVoiceSessionHandler creates the handler.
func NewVoiceSessionHandler(deps Deps) *VoiceSessionHandler {
	deps = deps.withDefaults()
	return &VoiceSessionHandler{deps: deps, log: deps.Log.WithComponent("voice_session")}
}

// Handle applies one voice event.
func (h *VoiceSessionHandler) Handle(ctx context.Context, ev voice.Event) (*VoiceResult, error) {
	key, err := shared.NewKey(ev.UserID, ev.GuildID)
	if err != nil {
		return nil, err
	}
	if ev.At.IsZero() {
		ev.At = h.deps.Clock.Now()
	}
	ev.At = ev.At.UTC()

	unlock, err := h.deps.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return h.apply(ctx, key, ev)
}

// EndSession closes the user's open session at now and returns its reward.
// It fails with shared.ErrNoOpenSession when there is nothing to close.
func (h *VoiceSessionHandler) EndSession(ctx context.Context, userID shared.UserID, guildID shared.GuildID, now time.Time) (*VoiceReward, error) {
	res, err := h.Handle(ctx, voice.Event{Kind: voice.EventLeave, UserID: userID, GuildID: guildID, At: now})
	if err != nil {
		return nil, err
	}
	if res.Closed == nil {
		return nil, shared.ErrNoOpenSession
	}
	return res.Closed, nil
}

// CloseStale closes sessions that have been open longer than maxAge, as if
// the user had left at startedAt+maxAge. It returns how many were closed.
func (h *VoiceSessionHandler) CloseStale(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	now := h.deps.Clock.Now().UTC()
	stale, err := h.deps.Store.Voice().ListOpenStartedBefore(ctx, now.Add(-maxAge), limit)
	if err != nil {
		return 0, shared.Persistence("voice", "CloseStale", err)
	}

	closed := 0
	for _, s := range stale {
		at := s.StartedAt.Add(maxAge)
		if at.After(now) {
			at = now
		}
		if _, err := h.EndSession(ctx, s.UserID, s.GuildID, at); err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (h *VoiceSessionHandler) apply(ctx context.Context, key shared.Key, ev voice.Event) (*VoiceResult, error) {
	log := h.log.WithContext(ctx).WithFields(keyFields(key)...)

	open, err := h.deps.Store.Voice().GetOpen(ctx, key)
	if err != nil && !shared.IsNotFound(err) {
		return nil, shared.Persistence("voice", "GetOpen", err)
	}
	if shared.IsNotFound(err) {
		open = nil
	}

	result := &VoiceResult{Transition: voice.Plan(open, ev)}
	if result.Transition.Noop() {
		return result, nil
	}
	if result.Transition.Stale {
		log.Warn("join found a session still open, closing it",
			zap.String("session_id", open.ID),
			logger.ChannelID(open.ChannelID.String()))
	}

	cfg := h.deps.Configs.Load(ctx, key.GuildID)
	curve := h.deps.curveFor(log, cfg)

	err = h.deps.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		t := result.Transition
		if t.CloseOpen {
			reward, err := h.closeSession(ctx, tx, open, ev.At, cfg, curve)
			if err != nil {
				return err
			}
			reward.Stale = t.Stale
			result.Closed = reward
		}
		if t.UpdatePresence {
			open.UpdatePresence(ev.Presence, ev.At)
			if err := tx.Voice().Upsert(ctx, open); err != nil {
				return err
			}
		}
		if t.OpenNew {
			s, err := voice.NewSession(h.deps.IDs.GenerateID(), key, ev.ChannelID, ev.At, ev.Presence)
			if err != nil {
				return err
			}
			if err := tx.Voice().Upsert(ctx, s); err != nil {
				return err
			}
			result.Opened = s
		}
		return nil
	})
	if shared.IsValidation(err) {
		return nil, err
	}
	if err != nil {
		log.Error("voice transition failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return nil, shared.Persistence("voice", "Handle", err)
	}

	if result.Closed != nil {
		h.afterClose(ctx, log, key, cfg, result, ev.At)
	}
	return result, nil
}

// closeSession ends open at `at`, computes the capped reward and credits it
// through the XP path.
func (h *VoiceSessionHandler) closeSession(
	ctx context.Context,
	tx ledger.Tx,
	open *voice.Session,
	at time.Time,
	cfg guild.Config,
	curve progression.LevelCurve,
) (*VoiceReward, error) {
	key := open.Key()
	seconds, err := open.Close(at)
	if err != nil {
		return nil, err
	}

	earned, err := tx.Voice().SumDailyVoiceXP(ctx, key, h.deps.Calendar.StartOfDay(at), h.deps.Calendar.EndOfDay(at))
	if err != nil {
		return nil, err
	}
	xp := voice.Reward(seconds, cfg.Voice, earned)
	open.XPAwarded = xp
	if err := tx.Voice().Upsert(ctx, open); err != nil {
		return nil, err
	}

	reward := &VoiceReward{SessionID: open.ID, ChannelID: open.ChannelID, Seconds: seconds, XP: xp}
	if xp == 0 {
		return reward, nil
	}

	rec, err := loadProgression(ctx, tx, key, at)
	if err != nil {
		return nil, err
	}
	outcome, err := rec.CreditXP(xp, curve)
	if err != nil {
		return nil, err
	}
	if err := tx.Progression().Upsert(ctx, rec); err != nil {
		return nil, err
	}
	reward.OldLevel = outcome.OldLevel
	reward.NewLevel = outcome.NewLevel
	reward.LeveledUp = outcome.LeveledUp()
	return reward, nil
}

func (h *VoiceSessionHandler) afterClose(ctx context.Context, log *logger.Logger, key shared.Key, cfg guild.Config, result *VoiceResult, at time.Time) {
	r := result.Closed
	events := []shared.Event{
		shared.NewVoiceSessionEndedEvent(key, r.ChannelID, time.Duration(r.Seconds)*time.Second, r.XP, at),
	}
	if r.XP > 0 {
		h.deps.Metrics.XPAwarded(SourceVoice, r.XP)
		events = append(events, shared.NewXPGainedEvent(key, r.XP, SourceVoice, at))
		if r.LeveledUp {
			h.deps.Metrics.LevelUp()
			events = append(events, shared.NewLevelUpEvent(key, r.OldLevel, r.NewLevel, 0, at))
		}

		ach, err := h.deps.evaluateAchievements(ctx, log, key, cfg)
		result.FollowUpErr = err
		if ach != nil {
			result.Unlocked = ach.Unlocked
			result.PartialReward = ach.PartialReward
		}
		h.deps.refreshLeaderboard(ctx, log, key)
	}
	publishAll(log, h.deps.Events, events)
	log.Debug("voice session closed", zap.Int64("seconds", r.Seconds), logger.XPAmount(r.XP))
}
