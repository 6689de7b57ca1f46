// Package main is the guildxp query and admin API. It shares the ledger
// with the worker but neither consumes activity nor runs jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/guildxp/guildxp/config"
	"github.com/guildxp/guildxp/internal/bootstrap"
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
	log.Info("starting guildxp api", zap.String("version", cfg.App.Version), zap.String("addr", cfg.HTTP.Addr))

	// Level-ups caused by admin grants still reach the notifications
	// topic when kafka is configured.
	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Notifications: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	server := httpapi.NewServer(cfg.HTTP, httpapi.Dependencies{
		Engine:  rt.Engine,
		Health:  rt.Health,
		Metrics: rt.Metrics,
		Log:     log,
	})
	serverErr := server.StartAsync()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-serverErr:
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("shutdown completed")
	return runErr
}
