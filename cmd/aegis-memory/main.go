// Aegis Memory server - a server-side memory engine for multi-agent AI
// systems, exposing the Memory, ACE, and Interaction Event repositories over
// HTTP/JSON.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aegislabs/aegis-memory/pkg/ace"
	"github.com/aegislabs/aegis-memory/pkg/auth"
	"github.com/aegislabs/aegis-memory/pkg/cleanup"
	"github.com/aegislabs/aegis-memory/pkg/config"
	"github.com/aegislabs/aegis-memory/pkg/database"
	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/httpapi"
	"github.com/aegislabs/aegis-memory/pkg/interaction"
	"github.com/aegislabs/aegis-memory/pkg/memory"
	"github.com/aegislabs/aegis-memory/pkg/ratelimit"
	"github.com/aegislabs/aegis-memory/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment variables", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogFormat)

	slog.Info("starting aegis-memory", "version", version.Full(), "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConfig, err := database.FromAppConfig(cfg)
	if err != nil {
		slog.Error("invalid database configuration", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(dbConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgres")

	if cfg.EmbeddingAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required for the embedding provider")
		os.Exit(1)
	}
	provider := embedding.NewHTTPProvider("", cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	resilient := embedding.NewResilientProvider(provider, 20)
	cache, err := embedding.NewCache(dbClient.DB(), resilient, cfg.EmbeddingModel, config.EmbeddingCacheTier1Size, config.EmbeddingBatchMax)
	if err != nil {
		slog.Error("failed to build embedding cache", "error", err)
		os.Exit(1)
	}
	embeddingSvc := embedding.NewService(cache, cfg.EmbeddingDim)

	limiter, err := ratelimit.New(ratelimit.Config{
		PerMinute: cfg.RateLimitPerMinute,
		PerHour:   cfg.RateLimitPerHour,
		Burst:     cfg.RateLimitBurst,
	}, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	authenticator := auth.New(cfg, dbClient.DB())

	memories := memory.New(dbClient.DB(), embeddingSvc)
	aceRepo := ace.New(dbClient.DB(), memories, embeddingSvc)
	interactions := interaction.New(dbClient.DB(), embeddingSvc)

	cleanupSvc := cleanup.NewService(dbClient.DB(), cleanup.DefaultInterval)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	server := httpapi.NewServer(cfg, dbClient.DB(), authenticator, limiter, memories, aceRepo, interactions)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			slog.Error("http server exited", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}
}

func setupLogging(format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
