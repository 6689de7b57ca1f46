// Package eventhandler holds reactions to domain events. They run after
// the ledger unit committed, so nothing here can change a reward: a failed
// side effect is logged and dropped.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION FORWARDER
// Turns user-facing domain events into notifications for the host bot.
// ═══════════════════════════════════════════════════════════════════════════

// Notification is the message the host renders for a member.
type Notification struct {
	ID            string                 `json:"id"`
	Type          shared.EventType       `json:"type"`
	UserID        string                 `json:"user_id"`
	GuildID       string                 `json:"guild_id"`
	OccurredAt    time.Time              `json:"occurred_at"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Data          map[string]interface{} `json:"data"`
}

// Key is the ledger key string the notification belongs to.
func (n Notification) Key() string {
	return shared.Key{UserID: shared.UserID(n.UserID), GuildID: shared.GuildID(n.GuildID)}.String()
}

// NotificationSender delivers notifications to the host.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// FeatureGate answers whether a feature is on for a guild.
type FeatureGate interface {
	Enabled(feature, guildID string) bool
}

// IDGenerator produces notification ids.
type IDGenerator interface {
	GenerateID() string
}

// ForwarderConfig maps event types to the feature that gates them.
type ForwarderConfig struct {
	Features map[shared.EventType]string

	// SendTimeout bounds one delivery including retries.
	SendTimeout time.Duration
}

// DefaultForwarderConfig forwards level-ups, unlocks, daily claims and
// ended voice sessions.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		Features: map[shared.EventType]string{
			shared.EventLevelUp:             "notify.level_up",
			shared.EventAchievementUnlocked: "notify.achievement",
			shared.EventDailyClaimed:        "notify.daily",
			shared.EventVoiceSessionEnded:   "notify.voice",
		},
		SendTimeout: 10 * time.Second,
	}
}

// NotificationForwarder is an event bus handler.
type NotificationForwarder struct {
	sender  NotificationSender
	gate    FeatureGate
	ids     IDGenerator
	retrier *retry.Retrier
	log     *logger.Logger
	config  ForwarderConfig
}

// NewNotificationForwarder creates the handler. A nil gate forwards
// everything listed in the config.
func NewNotificationForwarder(
	sender NotificationSender,
	gate FeatureGate,
	ids IDGenerator,
	retrier *retry.Retrier,
	log *logger.Logger,
	config ForwarderConfig,
) *NotificationForwarder {
	if log == nil {
		log = logger.NewNop()
	}
	if retrier == nil {
		retrier = retry.New(retry.WithMaxAttempts(1))
	}
	return &NotificationForwarder{
		sender:  sender,
		gate:    gate,
		ids:     ids,
		retrier: retrier,
		log:     log.WithComponent("notification_forwarder"),
		config:  config,
	}
}

// EventTypes lists the event types the forwarder should be subscribed to.
func (h *NotificationForwarder) EventTypes() []shared.EventType {
	out := make([]shared.EventType, 0, len(h.config.Features))
	for t := range h.config.Features {
		out = append(out, t)
	}
	return out
}

// Subscribe registers the forwarder on a bus for every configured type.
func (h *NotificationForwarder) Subscribe(bus shared.EventSubscriber) error {
	for _, t := range h.EventTypes() {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler. Delivery failures are logged and
// swallowed; the ledger already holds the reward.
func (h *NotificationForwarder) Handle(event shared.Event) error {
	feature, ok := h.config.Features[event.EventType()]
	if !ok {
		return nil
	}

	n, err := h.build(event)
	if err != nil {
		h.log.Warn("unforwardable event", zap.String("event_type", string(event.EventType())), zap.Error(err))
		return nil
	}
	if h.gate != nil && !h.gate.Enabled(feature, n.GuildID) {
		return nil
	}

	ctx := context.Background()
	if h.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.SendTimeout)
		defer cancel()
	}

	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.sender.Send(ctx, n)
	})
	if err != nil {
		h.log.Error("notification dropped",
			zap.String("event_type", string(n.Type)),
			logger.UserID(n.UserID),
			logger.GuildID(n.GuildID),
			zap.Error(err),
		)
		return nil
	}
	h.log.Debug("notification forwarded", zap.String("event_type", string(n.Type)), zap.String("notification_id", n.ID))
	return nil
}

var errNoAggregate = errors.New("event has no user or guild")

func (h *NotificationForwarder) build(event shared.Event) (Notification, error) {
	payload := event.Payload()
	userID, _ := payload["user_id"].(shared.UserID)
	guildID, _ := payload["guild_id"].(shared.GuildID)
	if userID == "" || guildID == "" {
		return Notification{}, errNoAggregate
	}

	data := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "user_id" || k == "guild_id" {
			continue
		}
		data[k] = v
	}

	n := Notification{
		Type:       event.EventType(),
		UserID:     string(userID),
		GuildID:    string(guildID),
		OccurredAt: event.OccurredAt(),
		Data:       data,
	}
	if h.ids != nil {
		n.ID = h.ids.GenerateID()
	}
	if c, ok := event.(shared.Correlated); ok {
		n.CorrelationID = c.Correlation()
	}
	return n, nil
}
