package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/platinummonkey/people/pkg/config"
	"github.com/platinummonkey/people/pkg/observability"
)

// version is set at build time
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv(config.ConfigFileEnv), "Path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "people: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), cfg.Observability.LogFormat, os.Stdout)
	logger.WithField("version", version).Info("starting person service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	app, err := buildServer(ctx, cfg, logger)
	if err != nil {
		observability.ShutdownOTel(ctx, providers, logger)
		return err
	}

	repair, err := scheduleRepair(cfg.Reconcile, app.reconciler, logger)
	if err != nil {
		app.close(ctx)
		observability.ShutdownOTel(ctx, providers, logger)
		return err
	}

	sm := observability.NewShutdownManager(logger, app.server, cfg.Server.ShutdownTimeout)
	if repair != nil {
		repair.Start()
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-repair.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	sm.RegisterShutdownFunc(app.close)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	if configPath != "" {
		go func() {
			defer observability.RecoverPanic(logger, "config watcher")
			err := config.Watch(ctx, configPath, logger, func(c *config.Config) {
				logger.SetLevel(c.Observability.Level())
			})
			if err != nil {
				logger.WithError(err).Warn("config watcher stopped")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", app.server.Addr).Info("HTTP server listening")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			cancel()
		}
	}()

	shutdownErr := sm.WaitForShutdown(ctx)
	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	default:
	}
	return shutdownErr
}
