package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
)

// Retry picks up work earlier runs left behind: stale publication claims are
// released, items without a current successful analysis are analyzed again
// and failed or never attempted publications are sent again, each bounded
// by its attempt limit.
func (p *Pipeline) Retry(ctx context.Context) (*Report, error) {
	rc := NewRunContext(p.opts.RunBudget)
	slog.Info("Retry started", "run_id", rc.RunID())

	if _, err := p.Publications.ReleaseStale(ctx); err != nil {
		return p.finish(ctx, rc, err)
	}

	var jobs []job
	for _, config := range p.Configs.GetEnabledList() {
		if !p.analysisEnabled(config) {
			continue
		}

		items, err := p.Items.GetUnanalyzedItems(ctx, config.Name, purposeOf(config), p.opts.MaxAnalysisAttempts, 0)
		if err != nil {
			return p.finish(ctx, rc, err)
		}
		if len(items) == 0 {
			continue
		}

		targets := p.targets(config)
		feedTitle := p.feedTitle(ctx, config)
		for _, item := range items {
			jobs = append(jobs, job{item: item, config: config, feedTitle: feedTitle, targets: targets})
		}
	}

	if len(jobs) > 0 {
		slog.Info("Retrying analyses", "run_id", rc.RunID(), "items", len(jobs))
	}
	if err := p.process(ctx, rc, jobs); err != nil {
		return p.finish(ctx, rc, err)
	}

	// Items handled above already went through every target
	handled := make(map[int64]bool, len(jobs))
	for _, j := range jobs {
		handled[j.item.ID] = true
	}

	if p.Publisher != nil {
		if err := p.retryPublications(ctx, rc, handled); err != nil {
			return p.finish(ctx, rc, err)
		}
	}

	return p.finish(ctx, rc, nil)
}

func (p *Pipeline) retryPublications(ctx context.Context, rc *RunContext, handled map[int64]bool) error {
	retryable, err := p.Publications.GetRetryable(ctx, p.opts.MaxPublishAttempts, 0)
	if err != nil {
		return err
	}

	if len(retryable) > 0 {
		slog.Info("Retrying publications", "run_id", rc.RunID(), "count", len(retryable))
	}

	for _, publication := range retryable {
		if ctx.Err() != nil {
			return nil
		}
		if handled[publication.ItemID] {
			continue
		}

		if err := p.republish(ctx, rc, publication); err != nil {
			return err
		}
	}

	return nil
}

// republish sends a stored item to the single target of a publication row.
// Items of removed or disabled feeds, and items still waiting for their
// analysis, are left alone.
func (p *Pipeline) republish(ctx context.Context, rc *RunContext, publication database.Publication) error {
	item, err := p.Items.GetItem(ctx, publication.ItemID)
	if err != nil {
		return fmt.Errorf("failed to load item %d: %w", publication.ItemID, err)
	}

	config, err := p.Configs.GetConfig(item.FeedID)
	if err != nil || !config.Settings.Enabled {
		slog.Debug("Feed not active, skipping publication retry", "feed", item.FeedID, "item_id", item.ID)
		return nil
	}

	if _, busy := p.inflight.LoadOrStore(item.ID, struct{}{}); busy {
		return nil
	}
	defer p.inflight.Delete(item.ID)

	j := job{
		item:      *item,
		config:    config,
		feedTitle: p.feedTitle(ctx, config),
		targets:   []string{publication.Target},
	}

	summary, ready, err := p.storedSummary(ctx, j)
	if err != nil {
		return err
	}
	if !ready {
		slog.Debug("Analysis pending, skipping publication retry", "item_id", item.ID, "target", publication.Target)
		return nil
	}

	return p.deliver(ctx, rc, j, summary)
}

// feedTitle prefers the title the feed reported on its last fetch
func (p *Pipeline) feedTitle(ctx context.Context, config *feed.Config) string {
	if p.States == nil {
		return config.Name
	}

	state, err := p.States.GetState(ctx, config.Name)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			slog.Warn("Failed to load feed state", "feed", config.Name, "error", err)
		}
		return config.Name
	}

	return cmp.Or(state.Title, config.Name)
}
