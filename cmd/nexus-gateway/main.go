// Package main provides the CLI entry point for the Nexus gateway.
//
// Nexus gateway unifies OpenAI, Anthropic, and Gemini chat APIs behind one
// Chat-Completions-shaped wire format, with server-side conversation persistence,
// tool-call orchestration, and resumable streaming.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/logging"
	"github.com/haasonsaas/nexus/internal/metrics"
	"github.com/haasonsaas/nexus/internal/proxy"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nexus-gateway",
		Short:        "Nexus gateway - unified LLM chat API proxy",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Start the gateway server.

The server loads configuration, opens the SQLite persistence engine, starts the
retention sweeper, and serves the chat-completions proxy until a shutdown signal
arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nexus-gateway.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := logging.New(logging.Config{Level: level, Format: cfg.Logging.Format})
	slog.SetDefault(logger.Slog())

	logger.Info(ctx, "starting nexus gateway", "version", version, "commit", commit, "config", configPath)

	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	sweeper, err := store.NewRetentionSweeper(db, cfg.Retention.Days, cfg.Retention.Schedule, logger.Slog())
	if err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	facades := make(map[string]*providers.Facade, len(cfg.Providers))
	defaultProvider := ""
	for id, p := range cfg.Providers {
		facade := providers.NewFacade(id, p.APIKey, p.BaseURL, p.Headers)
		facade.DefaultModel = p.DefaultModel
		facades[id] = facade
		if defaultProvider == "" {
			defaultProvider = id
		}
	}
	if len(facades) == 0 {
		return fmt.Errorf("no providers configured")
	}

	var apiKeys []auth.APIKeyConfig
	for key, userID := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKeyConfig{Key: key, UserID: userID})
	}
	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     apiKeys,
	})

	server := proxy.NewServer(proxy.Config{
		Store:              db,
		Facades:            facades,
		DefaultProvider:    defaultProvider,
		Auth:               authService,
		Logger:             logger.Slog(),
		Metrics:            metrics.New(),
		CheckpointMinChars: cfg.Checkpoint.MinChars,
		CheckpointInterval: cfg.Checkpoint.Interval,
		CheckpointEnabled:  cfg.Checkpoint.Enabled,
		RetentionDays:      cfg.Retention.Days,
		RateLimitPerSecond: cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:     cfg.RateLimit.Burst,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gateway listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutdown signal received, draining in-flight requests")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info(ctx, "nexus gateway stopped")
	return nil
}
