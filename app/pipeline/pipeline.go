package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/rss-relay/app/analysis"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/fetcher"
	"github.com/lysyi3m/rss-relay/app/publish"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPurpose     = "summary"
	defaultPageTimeout = 30 * time.Second
)

type FeedFetcher interface {
	Run(ctx context.Context, configs []*feed.Config) ([]fetcher.Result, error)
	FetchPage(ctx context.Context, pageURL string, timeout time.Duration) ([]byte, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, budget analysis.Budget, item analysis.Item, prompt analysis.Prompt) analysis.Result
}

type PromptRenderer interface {
	Render(purpose string, item analysis.Item) (analysis.Prompt, error)
}

type ItemPublisher interface {
	Resolve(selection []string) ([]string, error)
	Publish(ctx context.Context, itemID int64, targets []string, text string) ([]publish.TargetOutcome, error)
}

type ConfigSource interface {
	GetConfig(feedName string) (*feed.Config, error)
	GetEnabledList() []*feed.Config
}

var (
	_ FeedFetcher    = (*fetcher.Runner)(nil)
	_ Analyzer       = (*analysis.Service)(nil)
	_ PromptRenderer = (*analysis.PromptManager)(nil)
	_ ItemPublisher  = (*publish.Publisher)(nil)
	_ ConfigSource   = (*feed.ConfigCache)(nil)
)

// Deps are the collaborators of a pipeline. Analyzer and Publisher may be
// nil: items are then stored without analysis or publication.
type Deps struct {
	Fetcher      FeedFetcher
	Configs      ConfigSource
	Filterer     *feed.Filterer
	Extractor    *feed.ContentExtractor
	States       database.FeedStateRepositoryInterface
	Items        database.ItemRepositoryInterface
	Analyses     database.AnalysisRepositoryInterface
	Publications database.PublicationRepositoryInterface
	Analyzer     Analyzer
	Prompts      PromptRenderer
	Publisher    ItemPublisher
}

type Options struct {
	AnalysisConcurrency int
	RunBudget           decimal.NullDecimal
	MaxPublishAttempts  int
	MaxAnalysisAttempts int
}

// Pipeline moves items from feeds to targets: fetch, store once, analyze,
// publish once per target.
type Pipeline struct {
	Deps
	opts Options

	// Items being analyzed or published right now, shared by concurrent runs
	inflight sync.Map

	lastMu sync.RWMutex
	last   *Report
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.AnalysisConcurrency < 1 {
		opts.AnalysisConcurrency = 1
	}
	if opts.MaxPublishAttempts < 1 {
		opts.MaxPublishAttempts = 1
	}
	if opts.MaxAnalysisAttempts < 1 {
		opts.MaxAnalysisAttempts = 1
	}
	if deps.Filterer == nil {
		deps.Filterer = feed.NewFilterer()
	}
	if deps.Extractor == nil {
		deps.Extractor = feed.NewContentExtractor()
	}

	return &Pipeline{Deps: deps, opts: opts}
}

// job is a stored item on its way to analysis and publication
type job struct {
	item      database.Item
	config    *feed.Config
	feedTitle string
	targets   []string
}

// Run executes the pipeline over configs. Feed, model and delivery failures
// end up in the report; the returned error is a storage failure. A cancelled
// run returns its partial report without an error.
func (p *Pipeline) Run(ctx context.Context, configs []*feed.Config) (*Report, error) {
	rc := NewRunContext(p.opts.RunBudget)
	slog.Info("Run started", "run_id", rc.RunID(), "feeds", len(configs))

	results, err := p.Fetcher.Run(ctx, configs)
	if err != nil {
		return p.finish(ctx, rc, fmt.Errorf("failed to fetch feeds: %w", err))
	}

	var jobs []job
	for i, result := range results {
		feedReport, stored, err := p.store(ctx, configs[i], result)
		rc.recordFeed(feedReport)
		if err != nil {
			return p.finish(ctx, rc, err)
		}
		if err := p.commitToken(ctx, result); err != nil {
			return p.finish(ctx, rc, err)
		}
		jobs = append(jobs, stored...)
	}

	return p.finish(ctx, rc, p.process(ctx, rc, jobs))
}

// LastReport returns the report of the most recent run or retry, or nil
func (p *Pipeline) LastReport() *Report {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last
}

func (p *Pipeline) finish(ctx context.Context, rc *RunContext, runErr error) (*Report, error) {
	cancelled := ctx.Err() != nil
	if cancelled && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
		runErr = nil
	}

	report := rc.finish(cancelled, runErr)

	p.lastMu.Lock()
	p.last = report
	p.lastMu.Unlock()

	slog.Info("Run completed",
		"run_id", report.RunID,
		"duration", report.Duration(),
		"feeds", len(report.Feeds),
		"failed_feeds", report.FailedFeeds(),
		"analyses", report.Analyses.Succeeded,
		"net_cost", report.Analyses.NetCost.String(),
		"cancelled", report.Cancelled)

	if runErr != nil {
		slog.Error("Run failed", "run_id", report.RunID, "error", runErr)
		return report, runErr
	}

	return report, nil
}

// store passes the candidates of one fetched feed through the filters and
// the dedup gate. New items get their publication rows reserved so the
// retry task can find them even if this run stops early.
func (p *Pipeline) store(ctx context.Context, config *feed.Config, result fetcher.Result) (FeedReport, []job, error) {
	report := FeedReport{
		Feed:       config.Name,
		Success:    result.Success,
		Status:     result.Status,
		Source:     string(result.Source),
		Discovered: len(result.Items),
	}
	if result.Err != nil {
		report.Error = result.Err.Error()
	}
	if !result.Success || len(result.Items) == 0 {
		return report, nil, nil
	}

	targets := p.targets(config)
	feedTitle := config.Name
	if result.Metadata != nil {
		feedTitle = cmp.Or(result.Metadata.Title, config.Name)
	}

	candidates, filtered := p.Filterer.Run(result.Items, config.Filters)
	report.Filtered = filtered

	var jobs []job
	for _, candidate := range candidates {
		if candidate.IsFiltered {
			slog.Debug("Item filtered", "feed", config.Name, "title", candidate.Title, "reason", candidate.FilterReason)
			continue
		}

		id, created, err := p.Items.Save(ctx, config.Name, candidate)
		if errors.Is(err, database.ErrMalformedItem) {
			report.Rejected++
			continue
		}
		if err != nil {
			return report, jobs, fmt.Errorf("failed to store item of %s: %w", config.Name, err)
		}
		if !created {
			report.Duplicates++
			continue
		}
		report.Stored++

		if len(targets) > 0 {
			if err := p.Publications.Reserve(ctx, id, targets); err != nil {
				return report, jobs, err
			}
		}

		jobs = append(jobs, job{
			item:      storedItem(id, config.Name, candidate),
			config:    config,
			feedTitle: feedTitle,
			targets:   targets,
		})
	}

	slog.Info("Task completed",
		"type", "StoreFeed",
		"feed", config.Name,
		"total", report.Discovered,
		"new", report.Stored,
		"duplicates", report.Duplicates,
		"rejected", report.Rejected,
		"filtered", report.Filtered)

	return report, jobs, nil
}

// commitToken records the conditional request token of a payload whose
// candidates are all stored. Until then the next poll gets the full payload
// again instead of a 304.
func (p *Pipeline) commitToken(ctx context.Context, result fetcher.Result) error {
	if !result.Success || (result.FetchToken == "" && result.LastModified == "") {
		return nil
	}

	if err := p.States.RecordToken(context.WithoutCancel(ctx), result.FeedName, result.FetchToken, result.LastModified); err != nil {
		return fmt.Errorf("failed to record fetch token of %s: %w", result.FeedName, err)
	}

	return nil
}

// process analyzes and publishes jobs with bounded concurrency. Only storage
// errors stop it.
func (p *Pipeline) process(ctx context.Context, rc *RunContext, jobs []job) error {
	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.AnalysisConcurrency)

	for _, j := range jobs {
		g.Go(func() error {
			return p.processItem(gctx, rc, j)
		})
	}

	return g.Wait()
}

func (p *Pipeline) processItem(ctx context.Context, rc *RunContext, j job) error {
	if ctx.Err() != nil {
		return nil
	}

	if _, busy := p.inflight.LoadOrStore(j.item.ID, struct{}{}); busy {
		slog.Debug("Item already in progress", "item_id", j.item.ID)
		return nil
	}
	defer p.inflight.Delete(j.item.ID)

	summary, ready, err := p.storedSummary(ctx, j)
	if err != nil {
		return err
	}

	if !ready {
		result, err := p.analyze(ctx, rc, j)
		if err != nil {
			return err
		}
		// Failed or skipped items are left for the retry task
		if !result.Succeeded() {
			return nil
		}
		summary = result.Text
	}

	return p.deliver(ctx, rc, j, summary)
}

// storedSummary returns the text to publish when no new analysis is needed
func (p *Pipeline) storedSummary(ctx context.Context, j job) (string, bool, error) {
	if !p.analysisEnabled(j.config) {
		return j.item.Description, true, nil
	}

	purpose := purposeOf(j.config)

	done, err := p.Analyses.HasAnalysis(ctx, j.item.ID, purpose)
	if err != nil {
		return "", false, err
	}
	if !done {
		return "", false, nil
	}

	current, err := p.Analyses.GetCurrent(ctx, j.item.ID, purpose)
	if err != nil {
		return "", false, err
	}

	return current.ResultText, true, nil
}

func (p *Pipeline) analyze(ctx context.Context, rc *RunContext, j job) (analysis.Result, error) {
	purpose := purposeOf(j.config)
	item := analysisItem(j.item)

	if j.config.Settings.ExtractContent {
		content, err := p.enrich(ctx, j)
		if err != nil {
			return analysis.Result{}, err
		}
		item.Content = cmp.Or(content, item.Content)
	}

	prompt, err := p.Prompts.Render(purpose, item)
	if err != nil {
		slog.Error("Failed to render prompt", "item_id", j.item.ID, "purpose", purpose, "error", err)
		result := analysis.Result{Purpose: purpose, Status: analysis.StatusSkipped, LastError: err.Error(), RunID: rc.RunID()}
		rc.recordAnalysis(result)
		return result, nil
	}

	result := p.Analyzer.Analyze(ctx, rc, item, prompt)
	rc.recordAnalysis(result)

	if result.Status == analysis.StatusSkipped {
		slog.Info("Analysis skipped", "item_id", j.item.ID, "reason", result.LastError)
		return result, nil
	}

	// A paid completion is recorded even when the run is being stopped
	if _, err := p.Analyses.Store(context.WithoutCancel(ctx), j.item.ID, result); err != nil {
		return result, fmt.Errorf("failed to store analysis of item %d: %w", j.item.ID, err)
	}

	return result, nil
}

// enrich returns the readable article text of the item's link. Fetch and
// extraction failures fall back to the feed description.
func (p *Pipeline) enrich(ctx context.Context, j job) (string, error) {
	if j.item.ExtractedContent != "" {
		return j.item.ExtractedContent, nil
	}
	if j.item.Link == "" {
		return "", nil
	}

	timeout := cmp.Or(j.config.Settings.GetTimeout(), defaultPageTimeout)

	data, err := p.Fetcher.FetchPage(ctx, j.item.Link, timeout)
	if err != nil {
		slog.Warn("Failed to fetch article page", "item_id", j.item.ID, "url", j.item.Link, "error", err)
		return "", nil
	}

	text, err := p.Extractor.Run(data, j.item.Link)
	if err != nil {
		slog.Warn("Failed to extract content", "item_id", j.item.ID, "url", j.item.Link, "error", err)
		return "", nil
	}

	if err := p.Items.UpdateExtractedContent(ctx, j.item.ID, text); err != nil {
		return "", err
	}

	return text, nil
}

func (p *Pipeline) deliver(ctx context.Context, rc *RunContext, j job, summary string) error {
	if p.Publisher == nil || len(j.targets) == 0 {
		return nil
	}

	text := publish.FormatMessage(publish.Message{
		FeedTitle:  j.feedTitle,
		Title:      j.item.Title,
		Link:       j.item.Link,
		Summary:    summary,
		Categories: j.item.Categories,
	})

	outcomes, err := p.Publisher.Publish(ctx, j.item.ID, j.targets, text)
	for _, outcome := range outcomes {
		rc.recordPublication(outcome.Target, outcome.Outcome)
	}

	return err
}

// targets resolves a feed's target selection. An unknown target disables
// publication for the feed rather than failing the run.
func (p *Pipeline) targets(config *feed.Config) []string {
	if p.Publisher == nil {
		return nil
	}

	targets, err := p.Publisher.Resolve(config.Targets)
	if err != nil {
		slog.Error("Invalid feed targets, publication disabled", "feed", config.Name, "error", err)
		return nil
	}

	return targets
}

func (p *Pipeline) analysisEnabled(config *feed.Config) bool {
	return p.Analyzer != nil && config.Settings.AnalysisEnabled()
}

func purposeOf(config *feed.Config) string {
	return cmp.Or(config.Settings.Purpose, DefaultPurpose)
}

func storedItem(id int64, feedID string, candidate feed.Item) database.Item {
	return database.Item{
		ID:          id,
		FeedID:      feedID,
		ContentKey:  candidate.ContentKey,
		GUID:        candidate.GUID,
		Title:       candidate.Title,
		Link:        candidate.Link,
		Description: candidate.Description,
		Content:     candidate.Content,
		Authors:     candidate.Authors,
		Categories:  candidate.Categories,
		PublishedAt: candidate.PublishedAt,
	}
}

func analysisItem(item database.Item) analysis.Item {
	return analysis.Item{
		ID:          item.ID,
		FeedID:      item.FeedID,
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Content:     cmp.Or(item.ExtractedContent, item.Content),
		Categories:  item.Categories,
		PublishedAt: item.PublishedAt,
	}
}
