// Package consumer is the broker-facing interface of the engine: it maps
// inbound activity envelopes onto engine operations.
package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/domain/voice"
	"github.com/guildxp/guildxp/internal/infrastructure/messaging"
	"github.com/guildxp/guildxp/pkg/logger"
)

// Engine is the subset of application.Engine the router drives.
type Engine interface {
	Award(ctx context.Context, cmd command.AwardXPCommand) (*command.AwardXPResult, error)
	HandleVoice(ctx context.Context, ev voice.Event) (*command.VoiceResult, error)
	ClaimDaily(ctx context.Context, userID shared.UserID, guildID shared.GuildID) (*command.ClaimDailyResult, error)
}

// FeatureGate answers whether a feature is on for a guild.
type FeatureGate interface {
	Enabled(feature, guildID string) bool
}

// VoiceRewardsFeature is the flag that gates voice envelopes.
const VoiceRewardsFeature = "voice.rewards"

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// ══════════════════════════════════════════════════════════════════════════════

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	HandlerTimeout time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
	Observer       messaging.DispatchObserver
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		HandlerTimeout: 10 * time.Second,
		MaxAttempts:    4,
		RetryDelay:     50 * time.Millisecond,
	}
}

// Router owns the dispatcher wiring for the three inbound kinds.
type Router struct {
	engine Engine
	gate   FeatureGate
	log    *logger.Logger
}

// NewRouter builds a dispatcher with recovery, logging, metrics, retry and
// timeout middleware, in that order from the outside in, and registers the
// engine routes on it.
func NewRouter(engine Engine, gate FeatureGate, log *logger.Logger, cfg RouterConfig) *messaging.Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Router{engine: engine, gate: gate, log: log.WithComponent("inbound_router")}

	d := messaging.NewDispatcher(log)
	d.Use(messaging.RecoveryMiddleware(log), messaging.LoggingMiddleware(log))
	if cfg.Observer != nil {
		d.Use(messaging.MetricsMiddleware(cfg.Observer))
	}
	d.Use(
		messaging.RetryMiddleware(messaging.LedgerRetrier(cfg.MaxAttempts, cfg.RetryDelay, log)),
		messaging.TimeoutMiddleware(cfg.HandlerTimeout),
	)

	d.Handle(messaging.InboundMessage, r.handleMessage)
	d.Handle(messaging.InboundVoice, r.handleVoice)
	d.Handle(messaging.InboundDaily, r.handleDaily)
	return d
}

func (r *Router) handleMessage(ctx context.Context, in *messaging.Inbound) error {
	roles := make([]shared.RoleID, 0, len(in.RoleIDs))
	for _, id := range in.RoleIDs {
		roles = append(roles, shared.RoleID(id))
	}
	res, err := r.engine.Award(ctx, command.AwardXPCommand{
		UserID:        shared.UserID(in.UserID),
		GuildID:       shared.GuildID(in.GuildID),
		ChannelID:     shared.ChannelID(in.ChannelID),
		Content:       in.Content,
		Timestamp:     in.At,
		RoleIDs:       roles,
		CorrelationID: in.CorrelationID,
	})
	if err != nil {
		return err
	}
	r.logFollowUp(ctx, in, res.FollowUpErr, res.PartialReward)
	return nil
}

func (r *Router) handleVoice(ctx context.Context, in *messaging.Inbound) error {
	if r.gate != nil && !r.gate.Enabled(VoiceRewardsFeature, in.GuildID) {
		return nil
	}
	res, err := r.engine.HandleVoice(ctx, in.VoiceEvent())
	if err != nil {
		return err
	}
	r.logFollowUp(ctx, in, res.FollowUpErr, res.PartialReward)
	return nil
}

// handleDaily treats a rejected claim as handled: the member asked too early
// and the host learns the next claim time from the notification side.
func (r *Router) handleDaily(ctx context.Context, in *messaging.Inbound) error {
	res, err := r.engine.ClaimDaily(ctx, shared.UserID(in.UserID), shared.GuildID(in.GuildID))
	var rejected *command.ClaimRejectedError
	if errors.As(err, &rejected) {
		r.log.WithContext(ctx).Debug("daily claim rejected",
			logger.UserID(in.UserID),
			logger.GuildID(in.GuildID),
			zap.Time("next_claim_at", rejected.NextClaimAt),
		)
		return nil
	}
	if err != nil {
		return err
	}
	r.logFollowUp(ctx, in, res.FollowUpErr, res.PartialReward)
	return nil
}

func (r *Router) logFollowUp(ctx context.Context, in *messaging.Inbound, followUp, partial error) {
	if followUp == nil && partial == nil {
		return
	}
	r.log.WithContext(ctx).Warn("unit committed with follow-up failures",
		zap.String("kind", string(in.Kind)),
		logger.UserID(in.UserID),
		logger.GuildID(in.GuildID),
		zap.NamedError("follow_up", followUp),
		zap.NamedError("partial_reward", partial),
	)
}
