package cfg

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cfg struct {
	// Storage
	DBPath      string
	FeedsDir    string
	PromptsFile string
	RedisURL    string

	// HTTP API
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Scheduling
	WorkerCount         int
	Schedule            string
	RetrySchedule       string
	Once                bool
	MaxRuns             int
	MaxPublishAttempts  int
	MaxAnalysisAttempts int

	// Publication
	TelegramToken string
	Targets       []Target

	// Analysis
	Models              []Model
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	AnthropicAPIKey     string
	AnthropicBaseURL    string
	AnthropicPrices     Prices
	AnalysisConcurrency int
	AnalysisRate        float64
	FallbackBackoff     time.Duration
	AITimeout           time.Duration
	RunBudget           decimal.NullDecimal

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

// Target is a named messaging destination, e.g. "bot" -> "123456".
type Target struct {
	ID     string
	ChatID string
}

// Model is one entry of the ordered fallback chain.
type Model struct {
	Provider string
	Name     string
}

func (m Model) String() string {
	return m.Provider + ":" + m.Name
}

// Prices are USD per million tokens.
type Prices struct {
	Input     decimal.Decimal
	Output    decimal.Decimal
	CacheRead decimal.Decimal
}
