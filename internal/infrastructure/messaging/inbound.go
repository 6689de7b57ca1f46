package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
)

// InboundKind selects the engine operation an inbound envelope drives.
type InboundKind string

const (
	InboundMessage InboundKind = "message"
	InboundVoice   InboundKind = "voice"
	InboundDaily   InboundKind = "daily"
)

// ErrMalformedInbound marks an envelope that can never be processed.
var ErrMalformedInbound = errors.New("malformed inbound envelope")

// Inbound is the activity envelope the host platform publishes to the
// events topic. Kind decides which of the optional fields are read.
type Inbound struct {
	ID            string      `json:"id"`
	Kind          InboundKind `json:"kind"`
	UserID        string      `json:"user_id"`
	GuildID       string      `json:"guild_id"`
	ChannelID     string      `json:"channel_id,omitempty"`
	At            time.Time   `json:"at"`
	CorrelationID string      `json:"correlation_id,omitempty"`

	// message
	Content string   `json:"content,omitempty"`
	RoleIDs []string `json:"role_ids,omitempty"`

	// voice
	VoiceKind voice.EventKind `json:"voice_kind,omitempty"`
	Presence  voice.Presence  `json:"presence"`
}

// DecodeInbound parses and checks one envelope. Errors wrap
// ErrMalformedInbound.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInbound, err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// Validate checks the fields the envelope's kind requires.
func (in *Inbound) Validate() error {
	if _, err := shared.NewKey(shared.UserID(in.UserID), shared.GuildID(in.GuildID)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInbound, err)
	}
	switch in.Kind {
	case InboundMessage:
		if in.At.IsZero() {
			return fmt.Errorf("%w: message without timestamp", ErrMalformedInbound)
		}
	case InboundVoice:
		if in.At.IsZero() || in.VoiceKind == "" {
			return fmt.Errorf("%w: voice event needs at and voice_kind", ErrMalformedInbound)
		}
	case InboundDaily:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedInbound, in.Kind)
	}
	return nil
}

// Key is the partition key: every event of one member lands on one partition.
func (in *Inbound) Key() string {
	return shared.Key{UserID: shared.UserID(in.UserID), GuildID: shared.GuildID(in.GuildID)}.String()
}

// VoiceEvent converts a voice envelope to the domain event.
func (in *Inbound) VoiceEvent() voice.Event {
	return voice.Event{
		Kind:      in.VoiceKind,
		UserID:    shared.UserID(in.UserID),
		GuildID:   shared.GuildID(in.GuildID),
		ChannelID: shared.ChannelID(in.ChannelID),
		Presence:  in.Presence,
		At:        in.At,
	}
}
