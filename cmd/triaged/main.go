package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firstline-ai/triage/internal/analyzer"
	"github.com/firstline-ai/triage/internal/anthropic"
	"github.com/firstline-ai/triage/internal/api"
	"github.com/firstline-ai/triage/internal/bus"
	"github.com/firstline-ai/triage/internal/config"
	"github.com/firstline-ai/triage/internal/enrich"
	"github.com/firstline-ai/triage/internal/session"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/store"
	"github.com/firstline-ai/triage/internal/tavily"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("triage starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// NATS
	busClient, err := bus.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Severity analyzers
	registry := severity.NewRegistry()
	registry.Register(analyzer.NewRerank(llm, slog.Default()))
	registry.Register(analyzer.NewSearch(tavily.NewClient(cfg.TavilyAPIKey, cfg.TavilyURL), llm, slog.Default()))

	analyzers, err := registry.Select(cfg.Analyzers)
	if err != nil {
		slog.Error("analyzer selection failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analyzers selected", "names", cfg.Analyzers)

	coordinator := enrich.NewCoordinator(
		analyzers,
		analyzer.NewSummarizer(llm, slog.Default()),
		cfg.AnalyzerTimeout,
		enrich.MergePolicy{
			MaxWeight:      cfg.MergeMaxWeight,
			MeanWeight:     cfg.MergeMeanWeight,
			HighScore:      cfg.HighScore,
			HighConfidence: cfg.HighConfidence,
		},
		slog.Default(),
	)

	// Sessions
	sessions := session.NewRegistry(coordinator, db, bus.NewNotifier(busClient), session.Options{
		Tunables: session.Tunables{
			EscalateThreshold: cfg.EscalateThreshold,
			CorroborationMin:  cfg.CorroborationMin,
			DampingStep:       cfg.DampingStep,
			ChannelDropScore:  cfg.ChannelDropScore,
		},
		WindowSize:   cfg.WindowSize,
		InboxSize:    cfg.InboxSize,
		PendingMax:   cfg.PendingMax,
		WriteRetries: cfg.WriteRetries,
		RetryBackoff: cfg.RetryBackoff,
		GapTimeout:   cfg.GapTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		GracePeriod:  cfg.GracePeriod,
	}, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, sessions, db, busClient, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := busClient.Publish(bus.SubjectServiceRegistered, map[string]any{
		"service":   "triage",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"analyzers": cfg.Analyzers,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("triage ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	sessions.Shutdown()
	cancel()
	slog.Info("triage stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
