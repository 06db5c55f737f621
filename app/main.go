package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lysyi3m/rss-relay/app/analysis"
	"github.com/lysyi3m/rss-relay/app/api"
	"github.com/lysyi3m/rss-relay/app/cache"
	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/fetcher"
	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/publish"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogger(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(c *cfg.Cfg) error {
	slog.Info("Starting RSS Relay", "version", c.Version, "once", c.Once)

	db, err := database.NewConnection(c.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", c.DBPath, "schema_version", version, "dirty", dirty)

	feedCache, err := newCache(c.RedisURL)
	if err != nil {
		return err
	}
	defer feedCache.Close()

	configCache := feed.NewConfigCache(c.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	slog.Info("Feed configurations loaded", "dir", c.FeedsDir, "count", configCache.GetConfigCount(), "enabled", len(configCache.GetEnabledList()))

	prompts := analysis.NewPromptManager()
	if c.PromptsFile != "" {
		if err := prompts.LoadFile(c.PromptsFile); err != nil {
			return err
		}
		slog.Info("Prompt templates loaded", "file", c.PromptsFile)
	}

	states := database.NewFeedStateRepository(db)
	items := database.NewItemRepository(db)
	analyses := database.NewAnalysisRepository(db)
	publications := database.NewPublicationRepository(db, database.DefaultClaimTTL)

	deps := pipeline.Deps{
		Fetcher:      fetcher.NewRunner(&http.Client{}, feedCache, feed.NewParser(), states, c.UserAgent, c.WorkerCount),
		Configs:      configCache,
		States:       states,
		Items:        items,
		Analyses:     analyses,
		Publications: publications,
		Prompts:      prompts,
	}

	// Interfaces stay nil when a stage is not configured
	service, err := newAnalyzer(c)
	if err != nil {
		return err
	}
	if service != nil {
		deps.Analyzer = service
	}

	publisher, err := newPublisher(c, publications)
	if err != nil {
		return err
	}
	if publisher != nil {
		deps.Publisher = publisher
	}

	relay := pipeline.New(deps, pipeline.Options{
		AnalysisConcurrency: c.AnalysisConcurrency,
		RunBudget:           c.RunBudget,
		MaxPublishAttempts:  c.MaxPublishAttempts,
		MaxAnalysisAttempts: c.MaxAnalysisAttempts,
	})

	if c.Once {
		return runOnce(relay, configCache)
	}

	return serve(c, relay, configCache, states, items, analyses, publications)
}

func newCache(redisURL string) (cache.Cache, error) {
	if redisURL == "" {
		slog.Info("Using in-memory fetch cache")
		return cache.NewMemoryCache(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisCache, err := cache.NewRedisCache(ctx, redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Using Redis fetch cache", "health", redisCache.Health(ctx))
	return redisCache, nil
}

// newAnalyzer returns nil when no models are configured
func newAnalyzer(c *cfg.Cfg) (*analysis.Service, error) {
	if len(c.Models) == 0 {
		slog.Warn("No models configured, items are published without analysis")
		return nil, nil
	}

	var providers []analysis.Provider
	seen := make(map[string]bool)
	for _, model := range c.Models {
		if seen[model.Provider] {
			continue
		}
		seen[model.Provider] = true

		switch model.Provider {
		case "openai":
			providers = append(providers, analysis.NewOpenAIProvider(c.OpenAIAPIKey, c.OpenAIBaseURL))
		case "anthropic":
			providers = append(providers, analysis.NewAnthropicProvider(c.AnthropicAPIKey, c.AnthropicBaseURL, analysis.Pricing{
				Input:     c.AnthropicPrices.Input,
				Output:    c.AnthropicPrices.Output,
				CacheRead: c.AnthropicPrices.CacheRead,
			}))
		}
	}

	service, err := analysis.NewService(c.Models, providers, c.AnalysisRate, c.FallbackBackoff, c.AITimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure analysis: %w", err)
	}

	slog.Info("Analysis configured", "models", c.Models, "budget", c.RunBudget)
	return service, nil
}

// newPublisher returns nil when there is nowhere to publish
func newPublisher(c *cfg.Cfg, publications database.PublicationRepositoryInterface) (*publish.Publisher, error) {
	if c.TelegramToken == "" || len(c.Targets) == 0 {
		slog.Warn("Telegram token or targets not set, publication disabled")
		return nil, nil
	}

	sender, err := publish.NewTelegramSender(c.TelegramToken, tgbotapi.APIEndpoint, nil)
	if err != nil {
		return nil, err
	}

	publisher := publish.NewPublisher(publications, sender, c.Targets)
	slog.Info("Publication configured", "bot", sender.Username(), "targets", publisher.Targets())

	return publisher, nil
}

func runOnce(relay *pipeline.Pipeline, configCache *feed.ConfigCache) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := relay.Run(ctx, configCache.GetEnabledList())
	fmt.Print(report.String())

	return err
}

func serve(c *cfg.Cfg, relay *pipeline.Pipeline, configCache *feed.ConfigCache, states *database.FeedStateRepository,
	items *database.ItemRepository, analyses *database.AnalysisRepository, publications *database.PublicationRepository) error {
	scheduler := tasks.NewScheduler(relay, configCache, states, tasks.Options{
		WorkerCount:   c.WorkerCount,
		Schedule:      c.Schedule,
		RetrySchedule: c.RetrySchedule,
		MaxRuns:       c.MaxRuns,
	})
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()
	slog.Info("Scheduler started", "workers", c.WorkerCount, "schedule", c.Schedule, "retry_schedule", c.RetrySchedule, "max_runs", c.MaxRuns)

	handler := api.NewHandler(configCache, states, items, analyses, publications, relay, scheduler, c.BaseUrl)
	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      api.NewServer(handler, c.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", c.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
	case <-scheduler.Done():
		slog.Info("Run limit reached, shutting down")
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Deferred: the scheduler cancels in-flight runs and waits for its workers
	return serveErr
}
