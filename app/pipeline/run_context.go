package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/rss-relay/app/analysis"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/shopspring/decimal"
)

var _ analysis.Budget = (*RunContext)(nil)

// RunContext carries the state of one pipeline run: its id, the AI spend
// against the run budget and the report being assembled. It is safe for
// concurrent use by the item workers of the run.
type RunContext struct {
	id     string
	budget decimal.NullDecimal

	mu      sync.Mutex
	spent   decimal.Decimal
	report  Report
	targets map[string]int // target -> index in report.Publications
}

// NewRunContext starts a run. An invalid budget means unlimited spend.
func NewRunContext(budget decimal.NullDecimal) *RunContext {
	id := uuid.NewString()

	return &RunContext{
		id:      id,
		budget:  budget,
		spent:   decimal.Zero,
		report:  Report{RunID: id, StartedAt: time.Now()},
		targets: make(map[string]int),
	}
}

func (rc *RunContext) RunID() string {
	return rc.id
}

// Allow reports whether another model attempt fits in the budget. Attempts
// already in flight may overshoot it by their own cost.
func (rc *RunContext) Allow() bool {
	if !rc.budget.Valid {
		return true
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.spent.LessThan(rc.budget.Decimal)
}

func (rc *RunContext) Charge(cost decimal.Decimal) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.spent = rc.spent.Add(cost)
}

func (rc *RunContext) Spent() decimal.Decimal {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.spent
}

func (rc *RunContext) recordFeed(feedReport FeedReport) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.report.Feeds = append(rc.report.Feeds, feedReport)
}

func (rc *RunContext) recordAnalysis(result analysis.Result) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	switch result.Status {
	case analysis.StatusSuccess:
		rc.report.Analyses.Succeeded++
		rc.report.Analyses.NetCost = rc.report.Analyses.NetCost.Add(result.Usage.Net())
	case analysis.StatusFailed:
		rc.report.Analyses.Failed++
	default:
		rc.report.Analyses.Skipped++
	}
}

func (rc *RunContext) recordPublication(target string, outcome database.PublicationOutcome) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	idx, ok := rc.targets[target]
	if !ok {
		idx = len(rc.report.Publications)
		rc.targets[target] = idx
		rc.report.Publications = append(rc.report.Publications, TargetReport{Target: target})
	}

	stats := &rc.report.Publications[idx]
	switch {
	case outcome.Err != nil:
		stats.Failed++
	case outcome.Duplicate, outcome.InFlight:
		stats.Skipped++
	case outcome.Sent:
		stats.Sent++
	}
}

// finish closes the report and returns a copy detached from the run
func (rc *RunContext) finish(cancelled bool, runErr error) *Report {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.report.FinishedAt = time.Now()
	rc.report.Cancelled = cancelled
	if runErr != nil {
		rc.report.Error = runErr.Error()
	}

	report := rc.report
	report.Feeds = append([]FeedReport(nil), rc.report.Feeds...)
	report.Publications = append([]TargetReport(nil), rc.report.Publications...)

	return &report
}
