package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type FeedReport struct {
	Feed       string `json:"feed"`
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Source     string `json:"source,omitempty"`
	Discovered int    `json:"discovered"`
	Stored     int    `json:"stored"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
	Filtered   int    `json:"filtered"`
	Error      string `json:"error,omitempty"`
}

type AnalysisReport struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	NetCost   decimal.Decimal `json:"net_cost"`
}

// TargetReport counts publication outcomes of one target. Skipped covers
// sends that had already happened or were held by another worker.
type TargetReport struct {
	Target  string `json:"target"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Report summarizes one pipeline run
type Report struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Feeds        []FeedReport   `json:"feeds"`
	Analyses     AnalysisReport `json:"analyses"`
	Publications []TargetReport `json:"publications"`
	Cancelled    bool           `json:"cancelled"`
	Error        string         `json:"error,omitempty"`
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedFeeds counts feeds whose fetch did not succeed
func (r *Report) FailedFeeds() int {
	failed := 0
	for _, f := range r.Feeds {
		if !f.Success {
			failed++
		}
	}
	return failed
}

func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s finished in %s", r.RunID, r.Duration().Round(time.Millisecond))
	if r.Cancelled {
		b.WriteString(" (cancelled)")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Feeds: %d ok, %d failed\n", len(r.Feeds)-r.FailedFeeds(), r.FailedFeeds())
	for _, f := range r.Feeds {
		if !f.Success {
			fmt.Fprintf(&b, "  %s: %s\n", f.Feed, f.Status)
			continue
		}
		fmt.Fprintf(&b, "  %s: %s, discovered=%d stored=%d duplicates=%d rejected=%d filtered=%d\n",
			f.Feed, f.Status, f.Discovered, f.Stored, f.Duplicates, f.Rejected, f.Filtered)
	}

	fmt.Fprintf(&b, "Analyses: succeeded=%d failed=%d skipped=%d net_cost=%s\n",
		r.Analyses.Succeeded, r.Analyses.Failed, r.Analyses.Skipped, r.Analyses.NetCost.String())

	b.WriteString("Publications:")
	if len(r.Publications) == 0 {
		b.WriteString(" none")
	}
	b.WriteString("\n")
	for _, p := range r.Publications {
		fmt.Fprintf(&b, "  %s: sent=%d failed=%d skipped=%d\n", p.Target, p.Sent, p.Failed, p.Skipped)
	}

	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}

	return b.String()
}
