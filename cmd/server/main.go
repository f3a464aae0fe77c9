// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/dlguard/internal/api"
	"github.com/tomtom215/dlguard/internal/config"
	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/guard"
	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/ratelimit"
	"github.com/tomtom215/dlguard/internal/supervisor"
	"github.com/tomtom215/dlguard/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Caller:     cfg.Logging.Caller,
		Timestamp:  true,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	runErr := run(cfg)
	if runErr != nil {
		logging.Error().Err(runErr).Msg("DLGuard stopped with error")
	} else {
		logging.Info().Msg("DLGuard stopped gracefully")
	}
	if err := logging.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Bool("auto_ban", cfg.Security.EnableAutoBan).
		Msg("Starting DLGuard")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	notifiers, closers := initNotifiers(cfg)

	stack, err := guard.Build(db.Conn(), guard.Options{
		Defaults: cfg.Security,
		Limiter: ratelimit.Config{
			Reserve:        cfg.RateLimit.Reserve,
			ReservationTTL: cfg.RateLimit.ReservationTTL,
		},
		RetentionDays: cfg.Audit.RetentionDays,
		Notifiers:     notifiers,
	})
	if err != nil {
		return fmt.Errorf("build download security service: %w", err)
	}
	if err := db.InitSchemas(ctx, stack.Schemas...); err != nil {
		return fmt.Errorf("initialize schemas: %w", err)
	}
	logging.Info().Int("stores", len(stack.Schemas)).Msg("Database initialized")

	if cfg.RateLimit.RulesFile != "" {
		if err := seedRules(ctx, stack.Rules, cfg.RateLimit.RulesFile); err != nil {
			return err
		}
	}

	watchSecurityDefaults(stack.Service)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	router := api.NewRouter(api.NewHandler(stack.Service), api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSMaxAge:         86400,
		AdminRateLimit:     cfg.Server.AdminRateLimit,
		AdminRateWindow:    time.Minute,
		RequestTimeout:     cfg.Server.RequestTimeout,
	}))
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddBackgroundService(services.NewMaintenanceService(stack.Service, cfg.Audit.MaintenanceInterval))
	tree.AddBackgroundService(services.NewNotifierDrainService(stack.Service, cfg.Server.ShutdownTimeout, closers...))

	logging.Info().Msg("Starting supervisor tree")
	err = tree.Serve(ctx)

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

// initNotifiers builds the configured admin notifiers. A NATS connection
// failure disables that notifier rather than the service.
func initNotifiers(cfg *config.Config) ([]detection.Notifier, []services.Closer) {
	var (
		notifiers []detection.Notifier
		closers   []services.Closer
	)
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, detection.NewWebhookNotifier(detection.WebhookConfig{
			URL:      cfg.Notify.WebhookURL,
			Headers:  cfg.Notify.WebhookHeaders,
			Interval: cfg.Notify.WebhookInterval,
			Timeout:  cfg.Notify.Timeout,
		}))
		logging.Info().Msg("Webhook admin notifier enabled")
	}
	if cfg.Notify.NATSURL != "" {
		n, err := detection.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.NATSSubject)
		if err != nil {
			logging.Warn().Err(err).Msg("NATS admin notifier disabled")
		} else {
			notifiers = append(notifiers, n)
			closers = append(closers, n)
			logging.Info().Str("subject", cfg.Notify.NATSSubject).Msg("NATS admin notifier enabled")
		}
	}
	if len(notifiers) == 0 {
		logging.Info().Msg("No admin notifier configured; critical events are only logged")
	}
	return notifiers, closers
}

func seedRules(ctx context.Context, store *ratelimit.RuleStore, path string) error {
	rules, err := ratelimit.LoadRulesFile(path)
	if err != nil {
		return err
	}
	n, err := ratelimit.Seed(ctx, store, rules)
	if err != nil {
		return fmt.Errorf("seed rate limit rules: %w", err)
	}
	if n > 0 {
		logging.Info().Int("rules", n).Str("file", path).Msg("Seeded rate limit rules")
	}
	return nil
}

// watchSecurityDefaults re-applies the security section of the config file
// as the compiled default whenever the file changes. Persisted settings
// still take precedence.
func watchSecurityDefaults(svc *guard.Service) {
	path := config.ConfigFilePath()
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		next, err := config.LoadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("file", path).Msg("Config reload failed, keeping previous defaults")
			return
		}
		svc.Settings().SetDefaults(next.Security)
		logging.Info().Str("file", path).Msg("Security defaults reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("file", path).Msg("Config file watch unavailable")
	}
}
