package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/pipeline"
)

// RunTask runs the pipeline over a set of feeds as one run
type RunTask struct {
	Task
	FeedConfigs []*feed.Config
	runner      PipelineRunner
}

func NewRunTask(feedConfigs []*feed.Config, runner PipelineRunner) *RunTask {
	return &RunTask{
		Task:        NewTask(TaskTypeRun, ""),
		FeedConfigs: feedConfigs,
		runner:      runner,
	}
}

func (t *RunTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	report, err := t.runner.Run(ctx, t.FeedConfigs)
	if err != nil {
		return err
	}

	logCompleted("Run", "", t.GetDuration(), report)

	return nil
}

// ProcessFeedTask runs the pipeline over a single feed, e.g. on an operator
// refresh request
type ProcessFeedTask struct {
	Task
	FeedConfig *feed.Config
	runner     PipelineRunner
}

func NewProcessFeedTask(feedConfig *feed.Config, runner PipelineRunner) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:       NewTask(TaskTypeProcessFeed, feedConfig.Name),
		FeedConfig: feedConfig,
		runner:     runner,
	}
}

func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.Enabled {
		slog.Debug("Feed disabled, skipping", "feed", t.FeedName)
		return nil
	}

	report, err := t.runner.Run(ctx, []*feed.Config{t.FeedConfig})
	if err != nil {
		return err
	}

	logCompleted("ProcessFeed", t.FeedName, t.GetDuration(), report)

	return nil
}

// RetryTask re-analyzes and re-publishes what earlier runs left behind
type RetryTask struct {
	Task
	runner PipelineRunner
}

func NewRetryTask(runner PipelineRunner) *RetryTask {
	return &RetryTask{
		Task:   NewTask(TaskTypeRetry, ""),
		runner: runner,
	}
}

func (t *RetryTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	report, err := t.runner.Retry(ctx)
	if err != nil {
		return err
	}

	logCompleted("Retry", "", t.GetDuration(), report)

	return nil
}

func logCompleted(taskType, feedName string, duration time.Duration, report *pipeline.Report) {
	attrs := []any{"type", taskType}
	if feedName != "" {
		attrs = append(attrs, "feed", feedName)
	}
	attrs = append(attrs,
		"duration", duration,
		"run_id", report.RunID,
		"feeds", len(report.Feeds),
		"failed_feeds", report.FailedFeeds(),
		"analyses", report.Analyses.Succeeded,
		"net_cost", report.Analyses.NetCost.String(),
		"cancelled", report.Cancelled)

	slog.Info("Task completed", attrs...)
}
