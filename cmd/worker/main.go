// Package main is the guildxp worker: it consumes activity envelopes from
// Kafka, runs them through the engine, forwards notifications, runs the
// maintenance scheduler and serves health, metrics and the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/guildxp/guildxp/config"
	"github.com/guildxp/guildxp/internal/bootstrap"
	"github.com/guildxp/guildxp/internal/infrastructure/messaging/kafka"
	"github.com/guildxp/guildxp/internal/infrastructure/scheduler"
	"github.com/guildxp/guildxp/internal/interface/consumer"
	httpapi "github.com/guildxp/guildxp/internal/interface/http"
	"github.com/guildxp/guildxp/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("GUILDXP_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = base.Sync() }()
	log := base.WithFields(zap.String("app", cfg.App.Name), zap.String("env", string(cfg.App.Environment)))

	log.Info("starting guildxp worker",
		zap.String("version", cfg.App.Version),
		zap.String("timezone", cfg.App.Location.String()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LEDGER, CACHE, EVENT BUS, ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Notifications: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. KAFKA CONSUMER
	// ─────────────────────────────────────────────────────────────────────────
	var events *kafka.Consumer
	if cfg.Kafka.Disabled {
		log.Warn("kafka disabled, no activity will be consumed")
	} else {
		router := consumer.NewRouter(rt.Engine, cfg.Features, log, consumer.RouterConfig{
			HandlerTimeout: cfg.Kafka.HandlerTimeout,
			MaxAttempts:    cfg.Kafka.ConsumerRetries + 1,
			RetryDelay:     cfg.Kafka.ConsumerRetryDelay,
			Observer:       rt.Metrics,
		})
		handle := func(ctx context.Context, msg *sarama.ConsumerMessage) error {
			return router.DispatchRaw(ctx, msg.Value)
		}

		var dlq kafka.DeadLetterer
		if rt.Producer != nil {
			dlq = rt.Producer
		}
		events, err = kafka.NewConsumer(cfg.Kafka, handle, dlq, log)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		go func() {
			if err := events.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka consumer failed to start", zap.Error(err))
				return
			}
			log.Info("consuming activity", zap.String("topic", cfg.Kafka.Topics.Events))
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	var jobs httpapi.Jobs
	if cfg.Engine.Scheduler.Enabled {
		sched, err = rt.Scheduler()
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		jobs = sched
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP (health, metrics, admin)
	// ─────────────────────────────────────────────────────────────────────────
	server := httpapi.NewServer(cfg.HTTP, httpapi.Dependencies{
		Engine:  rt.Engine,
		Jobs:    jobs,
		Health:  rt.Health,
		Metrics: rt.Metrics,
		Log:     log,
	})
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-serverErr:
		if ok {
			runErr = err
		}
	}

	log.Info("starting graceful shutdown", zap.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if events != nil {
		if err := events.Stop(); err != nil {
			log.Warn("kafka consumer stop", zap.Error(err))
		}
	}
	if sched != nil {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Warn("scheduler stop", zap.Error(err))
		}
	}

	log.Info("shutdown completed")
	return runErr
}
