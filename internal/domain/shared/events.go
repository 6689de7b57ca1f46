// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one is a notification the host may render.
const (
	// Progression events
	EventXPGained EventType = "progression.xp_gained"
	EventLevelUp  EventType = "progression.level_up"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Economy events
	EventDailyClaimed EventType = "economy.daily_claimed"

	// Voice events
	EventVoiceSessionEnded EventType = "voice.session_ended"

	// Moderation events
	EventSpamFlagged EventType = "moderation.spam_flagged"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ledger key that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the activity time,
// not the wall clock, so replays produce identical events.
func NewBaseEvent(eventType EventType, key Key, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: key.String(),
		Version:     1,
	}
}

// Correlated is implemented by events that carry a correlation id.
type Correlated interface {
	Correlation() string
}

// Correlation implements Correlated.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted when a user gains XP from any source.
type XPGainedEvent struct {
	BaseEvent
	UserID  UserID  `json:"user_id"`
	GuildID GuildID `json:"guild_id"`
	Amount  int64   `json:"amount"`
	Source  string  `json:"source"` // "message", "voice", "achievement", "admin"
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"guild_id": e.GuildID,
		"amount":   e.Amount,
		"source":   e.Source,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(key Key, amount int64, source string, at time.Time) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, key, at),
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		Amount:    amount,
		Source:    source,
	}
}

// LevelUpEvent is emitted when a credit moves a user past one or more levels.
type LevelUpEvent struct {
	BaseEvent
	UserID      UserID  `json:"user_id"`
	GuildID     GuildID `json:"guild_id"`
	OldLevel    int     `json:"old_level"`
	NewLevel    int     `json:"new_level"`
	CoinsReward int64   `json:"coins_reward"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"guild_id":     e.GuildID,
		"old_level":    e.OldLevel,
		"new_level":    e.NewLevel,
		"coins_reward": e.CoinsReward,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(key Key, oldLevel, newLevel int, coins int64, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:   NewBaseEvent(EventLevelUp, key, at),
		UserID:      key.UserID,
		GuildID:     key.GuildID,
		OldLevel:    oldLevel,
		NewLevel:    newLevel,
		CoinsReward: coins,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per unlock row.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        UserID  `json:"user_id"`
	GuildID       GuildID `json:"guild_id"`
	AchievementID string  `json:"achievement_id"`
	Name          string  `json:"name"`
	RewardCoins   int64   `json:"reward_coins"`
	RewardXP      int64   `json:"reward_xp"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"guild_id":       e.GuildID,
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"reward_coins":   e.RewardCoins,
		"reward_xp":      e.RewardXP,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(key Key, achievementID, name string, coins, xp int64, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, key, at),
		UserID:        key.UserID,
		GuildID:       key.GuildID,
		AchievementID: achievementID,
		Name:          name,
		RewardCoins:   coins,
		RewardXP:      xp,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Economy Events
// ═══════════════════════════════════════════════════════════════════════════

// DailyClaimedEvent is emitted after a successful daily claim.
type DailyClaimedEvent struct {
	BaseEvent
	UserID  UserID  `json:"user_id"`
	GuildID GuildID `json:"guild_id"`
	Coins   int64   `json:"coins"`
	Streak  int     `json:"streak"`
}

// Payload implements Event interface.
func (e DailyClaimedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"guild_id": e.GuildID,
		"coins":    e.Coins,
		"streak":   e.Streak,
	}
}

// NewDailyClaimedEvent creates a new DailyClaimedEvent.
func NewDailyClaimedEvent(key Key, coins int64, streak int, at time.Time) DailyClaimedEvent {
	return DailyClaimedEvent{
		BaseEvent: NewBaseEvent(EventDailyClaimed, key, at),
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		Coins:     coins,
		Streak:    streak,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Voice Events
// ═══════════════════════════════════════════════════════════════════════════

// VoiceSessionEndedEvent is emitted when a voice session closes.
type VoiceSessionEndedEvent struct {
	BaseEvent
	UserID    UserID        `json:"user_id"`
	GuildID   GuildID       `json:"guild_id"`
	ChannelID ChannelID     `json:"channel_id"`
	Duration  time.Duration `json:"duration"`
	XPAwarded int64         `json:"xp_awarded"`
}

// Payload implements Event interface.
func (e VoiceSessionEndedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"guild_id":   e.GuildID,
		"channel_id": e.ChannelID,
		"duration":   e.Duration.String(),
		"xp_awarded": e.XPAwarded,
	}
}

// NewVoiceSessionEndedEvent creates a new VoiceSessionEndedEvent.
func NewVoiceSessionEndedEvent(key Key, channelID ChannelID, duration time.Duration, xp int64, at time.Time) VoiceSessionEndedEvent {
	return VoiceSessionEndedEvent{
		BaseEvent: NewBaseEvent(EventVoiceSessionEnded, key, at),
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		ChannelID: channelID,
		Duration:  duration,
		XPAwarded: xp,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Moderation Events
// ═══════════════════════════════════════════════════════════════════════════

// SpamFlaggedEvent is emitted when the classifier flags a message.
type SpamFlaggedEvent struct {
	BaseEvent
	UserID    UserID    `json:"user_id"`
	GuildID   GuildID   `json:"guild_id"`
	ChannelID ChannelID `json:"channel_id"`
	Flag      string    `json:"flag"`
	Severity  int       `json:"severity"`
	Action    string    `json:"action,omitempty"`
}

// Payload implements Event interface.
func (e SpamFlaggedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"guild_id":   e.GuildID,
		"channel_id": e.ChannelID,
		"flag":       e.Flag,
		"severity":   e.Severity,
		"action":     e.Action,
	}
}

// NewSpamFlaggedEvent creates a new SpamFlaggedEvent.
func NewSpamFlaggedEvent(key Key, channelID ChannelID, flag string, severity int, action string, at time.Time) SpamFlaggedEvent {
	return SpamFlaggedEvent{
		BaseEvent: NewBaseEvent(EventSpamFlagged, key, at),
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		ChannelID: channelID,
		Flag:      flag,
		Severity:  severity,
		Action:    action,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events. Useful when the host has no subscribers.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
