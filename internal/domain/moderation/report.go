package moderation

import (
	"context"
	"time"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

// Action is what the host should do about a user after a flagged message.
type Action string

const (
	ActionNone Action = ""
	ActionWarn Action = "warn"
	ActionMute Action = "mute"
)

// Report is one persisted spam detection.
type Report struct {
	ID        string
	UserID    shared.UserID
	GuildID   shared.GuildID
	ChannelID shared.ChannelID
	Flag      Flag
	Severity  int
	Content   string
	At        time.Time
}

// maxReportContent keeps reports from storing whole walls of text.
const maxReportContent = 500

// NewReport builds a report, truncating the stored content.
func NewReport(id string, key shared.Key, channelID shared.ChannelID, v Verdict, content string, at time.Time) Report {
	r := []rune(content)
	if len(r) > maxReportContent {
		content = string(r[:maxReportContent])
	}
	return Report{
		ID:        id,
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		ChannelID: channelID,
		Flag:      v.Flag,
		Severity:  v.Severity,
		Content:   content,
		At:        at,
	}
}

// ActionFor maps a warning count onto the configured thresholds.
func ActionFor(warnings int, settings guild.SpamSettings) Action {
	switch {
	case settings.MuteThreshold > 0 && warnings >= settings.MuteThreshold:
		return ActionMute
	case settings.WarningThreshold > 0 && warnings >= settings.WarningThreshold:
		return ActionWarn
	default:
		return ActionNone
	}
}

// Repository stores reports and the running warning count per user.
type Repository interface {
	InsertReport(ctx context.Context, r Report) error
	// IncrementWarnings adds one warning and returns the new total.
	IncrementWarnings(ctx context.Context, key shared.Key, reason string, at time.Time) (int, error)
}
