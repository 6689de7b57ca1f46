// Package bootstrap assembles the engine and its infrastructure from
// configuration. Both binaries start from Build and differ only in the
// surfaces they attach.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/config"
	"github.com/guildxp/guildxp/internal/application"
	"github.com/guildxp/guildxp/internal/application/command"
	"github.com/guildxp/guildxp/internal/application/eventhandler"
	"github.com/guildxp/guildxp/internal/application/saga"
	"github.com/guildxp/guildxp/internal/domain/ledger"
	"github.com/guildxp/guildxp/internal/domain/moderation"
	"github.com/guildxp/guildxp/internal/domain/shared"
	"github.com/guildxp/guildxp/internal/infrastructure/messaging"
	"github.com/guildxp/guildxp/internal/infrastructure/messaging/kafka"
	"github.com/guildxp/guildxp/internal/infrastructure/metrics"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/memory"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/postgres"
	"github.com/guildxp/guildxp/internal/infrastructure/persistence/redis"
	"github.com/guildxp/guildxp/internal/interface/http/handlers"
	"github.com/guildxp/guildxp/pkg/circuitbreaker"
	"github.com/guildxp/guildxp/pkg/logger"
	"github.com/guildxp/guildxp/pkg/retry"
	"github.com/guildxp/guildxp/pkg/timeutil"
)

// Store is the ledger plus the guild listing the leaderboard rebuild walks.
type Store interface {
	ledger.Store
	Guilds(ctx context.Context) ([]shared.GuildID, error)
}

// Runtime holds everything Build created. Close releases it in reverse
// order of construction.
type Runtime struct {
	Config  *config.Config
	Log     *logger.Logger
	Metrics *metrics.Metrics
	Health  *handlers.CompositeHealthChecker

	Store        Store
	Engine       *application.Engine
	Bus          *messaging.InMemoryEventBus
	RankingCache *redis.LeaderboardCache // nil without redis
	Producer     *kafka.Producer         // nil with kafka disabled

	closers []func()
}

// Options toggles the optional parts of Build.
type Options struct {
	// Notifications forwards user-facing events to the notifications
	// topic. It has no effect with kafka disabled.
	Notifications bool
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILD
// ══════════════════════════════════════════════════════════════════════════════

// Build connects to the configured backends and constructs the engine. On
// error everything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Health:  handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}
	history, err := rt.openRedis(ctx)
	if err != nil {
		return nil, err
	}

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.WorkerPoolSize = cfg.Engine.Workers
	busCfg.Logger = log
	busCfg.Observer = rt.Metrics
	rt.Bus = messaging.NewInMemoryEventBus(busCfg)

	if opts.Notifications && !cfg.Kafka.Disabled {
		if err := rt.wireNotifications(); err != nil {
			return nil, err
		}
	}
	// Registered after the producer so in-flight handlers drain first.
	rt.onClose(func() { _ = rt.Bus.Close() })

	calendar := timeutil.CalendarIn(cfg.App.Location)
	features := cfg.Features

	engineOpts := application.Options{
		Store:    rt.Store,
		Defaults: cfg.Engine.Defaults,
		History:  history,
		Events:   rt.Bus,
		Metrics:  rt.Metrics,
		IDs:      command.UUIDGenerator{},
		Clock:    timeutil.SystemClock{},
		Calendar: calendar,
		Log:      log,
		Award: command.AwardXPConfig{
			HistoryWindow:    cfg.Engine.History.TTL,
			AnticheatEnabled: features.IsEnabled(config.FeatureAnticheat, nil),
		},
		AchievementFlow:    saga.AchievementFlowConfig{MaxUnlocksPerRun: cfg.Engine.MaxUnlocksPerRun},
		ManualAchievements: !features.IsEnabled(config.FeatureAutoAchievements, nil),
	}
	if rt.RankingCache != nil {
		engineOpts.Leaderboard = rt.RankingCache
		if features.IsEnabled(config.FeatureLeaderboardCache, nil) {
			engineOpts.RankingCache = rt.RankingCache
		}
	}

	if rt.Engine, err = application.New(engineOpts); err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return rt, nil
}

// openStore picks PostgreSQL when a URL is configured and the in-memory
// store otherwise.
func (rt *Runtime) openStore(ctx context.Context) error {
	cfg := rt.Config.Postgres
	if cfg.URL == "" {
		rt.Log.Warn("postgres.url is empty, using the in-memory ledger; data is lost on exit")
		rt.Store = memory.NewStore()
		return nil
	}

	conn, err := postgres.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	rt.onClose(conn.Close)
	rt.Health.AddCheck("postgres", handlers.PingCheck(conn))

	if cfg.RunMigrations {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		rt.Log.Info("database schema is up to date")
	}
	rt.Store = postgres.NewStore(conn, cfg.QueryTimeout)
	return nil
}

// openRedis returns the history buffer the classifier reads. Without redis
// it is process-local and the ranking cache is absent.
func (rt *Runtime) openRedis(ctx context.Context) (moderation.History, error) {
	cfg := rt.Config.Redis
	hist := rt.Config.Engine.History
	if cfg.Disabled {
		rt.Log.Info("redis disabled, using in-process message history")
		return moderation.NewRingHistory(hist.Size, hist.TTL), nil
	}

	cache, err := redis.NewCache(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rt.onClose(func() { _ = cache.Close() })
	rt.Health.AddCheck("redis", handlers.PingCheck(cache))

	breaker := circuitbreaker.ForCache(rt.Metrics.BreakerStateChanged)
	rt.RankingCache = redis.NewLeaderboardCache(cache, breaker)
	return redis.NewMessageHistory(cache, hist.Size, hist.TTL), nil
}

func (rt *Runtime) wireNotifications() error {
	producer, err := kafka.NewProducer(rt.Config.Kafka)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	rt.Producer = producer
	rt.onClose(func() { _ = producer.Close() })

	breaker := circuitbreaker.ForNotifications(rt.Metrics.BreakerStateChanged)
	publisher := kafka.NewNotificationPublisher(producer, rt.Config.Kafka.Topics.Notifications, breaker)

	log := rt.Log
	retrier := retry.PublishRetrier(
		retry.WithMaxAttempts(rt.Config.Kafka.ProducerRetries),
		retry.WithInitialDelay(rt.Config.Kafka.ProducerRetryDelay),
		retry.WithRetryIf(func(err error) bool { return !errors.Is(err, circuitbreaker.ErrOpen) }),
	)
	forwarder := eventhandler.NewNotificationForwarder(publisher, rt.Config.Features, command.UUIDGenerator{},
		retrier, log, eventhandler.DefaultForwarderConfig())
	if err := forwarder.Subscribe(rt.Bus); err != nil {
		return fmt.Errorf("subscribe notifications: %w", err)
	}
	log.Info("forwarding notifications", zap.String("topic", rt.Config.Kafka.Topics.Notifications))
	return nil
}

func (rt *Runtime) onClose(fn func()) { rt.closers = append(rt.closers, fn) }

// Close releases every resource Build opened. It is safe to call twice.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
