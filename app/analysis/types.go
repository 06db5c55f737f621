package analysis

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome classifies a single model attempt inside the fallback chain.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
)

// Usage is the cost breakdown of one completion. Compensation components are
// signed and stay invalid when the provider did not report them.
type Usage struct {
	Gross decimal.Decimal
	Cache decimal.NullDecimal
	Data  decimal.NullDecimal
	Web   decimal.NullDecimal
	File  decimal.NullDecimal
}

// Net adds every reported component to the gross amount. Components already
// carry their sign, so rebates are negative values.
func (u Usage) Net() decimal.Decimal {
	net := u.Gross
	for _, component := range []decimal.NullDecimal{u.Cache, u.Data, u.Web, u.File} {
		if component.Valid {
			net = net.Add(component.Decimal)
		}
	}
	return net
}

type Prompt struct {
	Purpose   string
	System    string
	User      string
	MaxTokens int64
}

type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
	Usage            Usage
}

// Provider is an AI completion capability for one vendor API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, prompt Prompt) (*Completion, error)
}

type Attempt struct {
	Model    string
	Outcome  Outcome
	Error    string
	Duration time.Duration
}

// Result is the outcome of analyzing one item for one purpose.
type Result struct {
	Purpose          string
	Status           Status
	ModelUsed        string
	ModelsAttempted  []string
	Attempts         []Attempt
	Text             string
	PromptTokens     int64
	CompletionTokens int64
	Usage            Usage
	LastError        string
	RunID            string
}

func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Item is the input of an analysis request.
type Item struct {
	ID          int64
	FeedID      string
	Title       string
	Link        string
	Description string
	Content     string
	Categories  []string
	PublishedAt *time.Time
}
