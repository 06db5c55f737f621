package cfg

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/relay.db" description:"SQLite database file"`
	FeedsDir    string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	PromptsFile string `long:"prompts-file" env:"PROMPTS_FILE" description:"YAML file with analysis prompt templates (optional)"`
	RedisURL    string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the shared fetch cache (in-memory cache when empty)"`

	// HTTP API
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://relay.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Scheduling
	WorkerCount         int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of feeds processed concurrently"`
	Schedule            string `long:"schedule" env:"SCHEDULE" default:"@every 1m" description:"Cron expression for checking feeds that are due"`
	RetrySchedule       string `long:"retry-schedule" env:"RETRY_SCHEDULE" default:"@every 10m" description:"Cron expression for retrying failed analyses and publications"`
	Once                bool   `long:"once" env:"ONCE" description:"Run the pipeline once over all enabled feeds, print the report and exit"`
	MaxRuns             int    `long:"max-runs" env:"MAX_RUNS" default:"0" description:"Stop the scheduler after this many runs (0 = unlimited)"`
	MaxPublishAttempts  int    `long:"max-publish-attempts" env:"MAX_PUBLISH_ATTEMPTS" default:"5" description:"Give up retrying a publication after this many attempts"`
	MaxAnalysisAttempts int    `long:"max-analysis-attempts" env:"MAX_ANALYSIS_ATTEMPTS" default:"3" description:"Give up re-analyzing an item after this many failed analyses"`

	// Publication
	TelegramToken string   `long:"telegram-token" env:"TELEGRAM_TOKEN" description:"Telegram bot token"`
	Targets       []string `long:"target" env:"TARGETS" env-delim:"," description:"Publication target as id=chat_id (repeatable, e.g. bot=123 channel=@news)"`

	// Analysis
	Models              []string      `long:"model" env:"MODELS" env-delim:"," description:"Candidate model as provider:model, in fallback order (repeatable)"`
	OpenAIAPIKey        string        `long:"openai-api-key" env:"OPENAI_API_KEY" description:"API key for the OpenAI-compatible provider"`
	OpenAIBaseURL       string        `long:"openai-base-url" env:"OPENAI_BASE_URL" description:"Base URL for the OpenAI-compatible provider (e.g. an AI gateway)"`
	AnthropicAPIKey     string        `long:"anthropic-api-key" env:"ANTHROPIC_API_KEY" description:"API key for Anthropic"`
	AnthropicBaseURL    string        `long:"anthropic-base-url" env:"ANTHROPIC_BASE_URL" description:"Base URL override for Anthropic"`
	AnthropicPrices     string        `long:"anthropic-prices" env:"ANTHROPIC_PRICES" default:"1,5,0.1" description:"Anthropic USD prices per million tokens as input,output,cache_read"`
	AnalysisConcurrency int           `long:"analysis-concurrency" env:"ANALYSIS_CONCURRENCY" default:"2" description:"Number of items analyzed concurrently"`
	AnalysisRate        float64       `long:"analysis-rate" env:"ANALYSIS_RATE" default:"1" description:"Maximum requests per second per AI provider"`
	FallbackBackoff     time.Duration `long:"fallback-backoff" env:"FALLBACK_BACKOFF" default:"2s" description:"Pause before trying the next model in the fallback chain"`
	AITimeout           time.Duration `long:"ai-timeout" env:"AI_TIMEOUT" default:"60s" description:"Timeout of a single AI request"`
	RunBudget           string        `long:"run-budget" env:"RUN_BUDGET" description:"Maximum net AI cost per run (decimal, empty = unlimited)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Relay/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg, err := build(raw)
	if err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests and embedding.
func Set(c *Cfg) {
	globalCfg = c
}

func build(raw rawCfg) (*Cfg, error) {
	targets, err := ParseTargets(raw.Targets)
	if err != nil {
		return nil, err
	}

	models, err := ParseModels(raw.Models)
	if err != nil {
		return nil, err
	}

	if raw.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	if raw.MaxPublishAttempts <= 0 || raw.MaxAnalysisAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	if raw.AnalysisConcurrency <= 0 {
		return nil, fmt.Errorf("analysis concurrency must be positive")
	}

	runBudget, err := ParseBudget(raw.RunBudget)
	if err != nil {
		return nil, err
	}

	prices, err := ParsePrices(raw.AnthropicPrices)
	if err != nil {
		return nil, err
	}

	return &Cfg{
		DBPath:              raw.DBPath,
		FeedsDir:            raw.FeedsDir,
		PromptsFile:         raw.PromptsFile,
		RedisURL:            raw.RedisURL,
		Port:                raw.Port,
		BaseUrl:             raw.BaseUrl,
		APIAccessKey:        raw.APIAccessKey,
		WorkerCount:         raw.WorkerCount,
		Schedule:            raw.Schedule,
		RetrySchedule:       raw.RetrySchedule,
		Once:                raw.Once,
		MaxRuns:             raw.MaxRuns,
		MaxPublishAttempts:  raw.MaxPublishAttempts,
		MaxAnalysisAttempts: raw.MaxAnalysisAttempts,
		TelegramToken:       raw.TelegramToken,
		Targets:             targets,
		Models:              models,
		OpenAIAPIKey:        raw.OpenAIAPIKey,
		OpenAIBaseURL:       raw.OpenAIBaseURL,
		AnthropicAPIKey:     raw.AnthropicAPIKey,
		AnthropicBaseURL:    raw.AnthropicBaseURL,
		AnthropicPrices:     prices,
		AnalysisConcurrency: raw.AnalysisConcurrency,
		AnalysisRate:        raw.AnalysisRate,
		FallbackBackoff:     raw.FallbackBackoff,
		AITimeout:           raw.AITimeout,
		RunBudget:           runBudget,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}, nil
}

// ParseTargets parses "id=chat_id" pairs. Target ids must be unique.
func ParseTargets(values []string) ([]Target, error) {
	targets := make([]Target, 0, len(values))
	seen := make(map[string]bool, len(values))

	for _, value := range values {
		id, chatID, ok := strings.Cut(strings.TrimSpace(value), "=")
		id = strings.TrimSpace(id)
		chatID = strings.TrimSpace(chatID)
		if !ok || id == "" || chatID == "" {
			return nil, fmt.Errorf("invalid target '%s': expected id=chat_id", value)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate target '%s'", id)
		}
		seen[id] = true
		targets = append(targets, Target{ID: id, ChatID: chatID})
	}

	return targets, nil
}

// ParseModels parses "provider:model" entries, keeping their order.
func ParseModels(values []string) ([]Model, error) {
	models := make([]Model, 0, len(values))

	for _, value := range values {
		provider, name, ok := strings.Cut(strings.TrimSpace(value), ":")
		provider = strings.ToLower(strings.TrimSpace(provider))
		name = strings.TrimSpace(name)
		if !ok || provider == "" || name == "" {
			return nil, fmt.Errorf("invalid model '%s': expected provider:model", value)
		}
		models = append(models, Model{Provider: provider, Name: name})
	}

	return models, nil
}

// ParseBudget parses the per-run cost limit. An empty value means unlimited.
func ParseBudget(value string) (decimal.NullDecimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.NullDecimal{}, nil
	}

	budget, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid run budget '%s': %w", value, err)
	}
	if budget.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("run budget must not be negative")
	}

	return decimal.NewNullDecimal(budget), nil
}

// ParsePrices parses "input,output,cache_read" prices.
func ParsePrices(value string) (Prices, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return Prices{}, fmt.Errorf("invalid prices '%s': expected input,output,cache_read", value)
	}

	var parsed [3]decimal.Decimal
	for i, part := range parts {
		price, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil || price.IsNegative() {
			return Prices{}, fmt.Errorf("invalid price '%s'", part)
		}
		parsed[i] = price
	}

	return Prices{Input: parsed[0], Output: parsed[1], CacheRead: parsed[2]}, nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
