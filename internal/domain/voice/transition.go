package voice

import (
	"time"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

// EventKind is the type of a voice-state change reported by the host.
type EventKind string

const (
	EventJoin     EventKind = "join"
	EventLeave    EventKind = "leave"
	EventSwitch   EventKind = "switch"
	EventPresence EventKind = "presence"
)

// Event is one voice-state change.
type Event struct {
	Kind      EventKind        `json:"kind"`
	UserID    shared.UserID    `json:"user_id"`
	GuildID   shared.GuildID   `json:"guild_id"`
	ChannelID shared.ChannelID `json:"channel_id"` // target channel for join/switch
	Presence  Presence         `json:"presence"`
	At        time.Time        `json:"at"`
}

// Key returns the ledger key the event belongs to.
func (e Event) Key() shared.Key {
	return shared.Key{UserID: e.UserID, GuildID: e.GuildID}
}

// Transition lists what the handler must do for an event.
type Transition struct {
	CloseOpen      bool // close and reward the open session
	OpenNew        bool // open a session in Event.ChannelID
	UpdatePresence bool // mutate the open session in place
	Stale          bool // a join found a session still open
}

// Noop reports whether the event changes nothing.
func (t Transition) Noop() bool {
	return !t.CloseOpen && !t.OpenNew && !t.UpdatePresence
}

// Plan decides the transition for ev given the currently open session,
// which may be nil.
func Plan(open *Session, ev Event) Transition {
	active := open.State() == StateActive
	switch ev.Kind {
	case EventJoin:
		if active {
			return Transition{CloseOpen: true, OpenNew: true, Stale: true}
		}
		return Transition{OpenNew: true}
	case EventLeave:
		if active {
			return Transition{CloseOpen: true}
		}
	case EventSwitch:
		if active {
			if open.ChannelID == ev.ChannelID {
				return Transition{UpdatePresence: true}
			}
			return Transition{CloseOpen: true, OpenNew: true}
		}
		// A switch without a known session behaves like a join.
		return Transition{OpenNew: true}
	case EventPresence:
		if active && (ev.ChannelID == "" || open.ChannelID == ev.ChannelID) {
			return Transition{UpdatePresence: true}
		}
	}
	return Transition{}
}
