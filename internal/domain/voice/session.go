// Package voice tracks voice-channel sessions and turns their duration into
// XP. A user has at most one open session per guild.
package voice

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

// State of a session. A user without an open session is in StateNone.
type State string

const (
	StateNone   State = "none"
	StateActive State = "active"
	StateClosed State = "closed"
)

// Presence carries the mute/deafen/speaking attributes reported by the host.
type Presence struct {
	Muted    bool `json:"muted"`
	Deafened bool `json:"deafened"`
	Speaking bool `json:"speaking"`
}

// Session is one stay in a voice channel.
type Session struct {
	ID        string
	UserID    shared.UserID
	GuildID   shared.GuildID
	ChannelID shared.ChannelID
	StartedAt time.Time
	EndedAt   *time.Time // nil while active
	Presence  Presence

	SpeakingSeconds int64
	SpeakingSince   *time.Time
	XPAwarded       int64
}

// NewSession opens a session in channelID at startedAt.
func NewSession(id string, key shared.Key, channelID shared.ChannelID, startedAt time.Time, p Presence) (*Session, error) {
	if id == "" {
		return nil, shared.NewDomainError("voice", "NewSession", shared.ErrInvalidID, "session id is required")
	}
	if channelID == "" {
		return nil, shared.NewDomainError("voice", "NewSession", shared.ErrInvalidID, "channel id is required")
	}
	s := &Session{
		ID:        id,
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		ChannelID: channelID,
		StartedAt: startedAt,
	}
	s.UpdatePresence(p, startedAt)
	return s, nil
}

// Key returns the ledger key of the session owner.
func (s *Session) Key() shared.Key {
	return shared.Key{UserID: s.UserID, GuildID: s.GuildID}
}

// State reports whether the session is still open.
func (s *Session) State() State {
	if s == nil {
		return StateNone
	}
	if s.EndedAt != nil {
		return StateClosed
	}
	return StateActive
}

// UpdatePresence mutates attributes in place. Speaking time accumulates
// between a speaking=true update and the next update that clears it.
func (s *Session) UpdatePresence(p Presence, now time.Time) {
	if s.SpeakingSince != nil && !p.Speaking {
		s.SpeakingSeconds += wholeSeconds(*s.SpeakingSince, now)
		s.SpeakingSince = nil
	}
	if p.Speaking && s.SpeakingSince == nil {
		since := now
		s.SpeakingSince = &since
	}
	s.Presence = p
}

// Close ends the session at now and returns the whole seconds it lasted.
func (s *Session) Close(now time.Time) (int64, error) {
	if s.EndedAt != nil {
		return 0, shared.ErrSessionAlreadyEnded
	}
	if now.Before(s.StartedAt) {
		now = s.StartedAt
	}
	s.UpdatePresence(Presence{Muted: s.Presence.Muted, Deafened: s.Presence.Deafened}, now)
	ended := now
	s.EndedAt = &ended
	return s.AccumulatedSeconds(now), nil
}

// AccumulatedSeconds is floor((now - startedAt) / 1s), or the closed length.
func (s *Session) AccumulatedSeconds(now time.Time) int64 {
	if s.EndedAt != nil {
		now = *s.EndedAt
	}
	return wholeSeconds(s.StartedAt, now)
}

func wholeSeconds(from, to time.Time) int64 {
	if to.Before(from) {
		return 0
	}
	return int64(to.Sub(from) / time.Second)
}

// Reward converts a session length into XP. Sessions shorter than the
// minimum earn nothing. The result is clamped to what is left of the daily
// budget; a MaxDailyVoiceXP of zero means no cap.
func Reward(seconds int64, settings guild.VoiceSettings, earnedToday int64) int64 {
	if !settings.Enabled || seconds < settings.MinSessionSeconds || settings.XPPerMinute <= 0 {
		return 0
	}
	xp := seconds * settings.XPPerMinute / 60
	if settings.MaxDailyVoiceXP > 0 {
		remaining := settings.MaxDailyVoiceXP - earnedToday
		if remaining < 0 {
			remaining = 0
		}
		if xp > remaining {
			xp = remaining
		}
	}
	return xp
}

// Repository persists sessions.
type Repository interface {
	// GetOpen returns an error wrapping shared.ErrNotFound when the user has
	// no active session in the guild.
	GetOpen(ctx context.Context, key shared.Key) (*Session, error)
	Upsert(ctx context.Context, s *Session) error
	// SumDailyVoiceXP sums XPAwarded of sessions that ended in [from, to).
	SumDailyVoiceXP(ctx context.Context, key shared.Key, from, to time.Time) (int64, error)
	// ListOpenStartedBefore feeds the stale-session sweeper.
	ListOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)
}
