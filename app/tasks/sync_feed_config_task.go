package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// SyncFeedConfigTask re-reads one feed configuration file from disk so edits
// apply without a restart.
type SyncFeedConfigTask struct {
	Task
	loader FeedConfigLoader
}

func NewSyncFeedConfigTask(feedName string, loader FeedConfigLoader) *SyncFeedConfigTask {
	return &SyncFeedConfigTask{
		Task:   NewTask(TaskTypeSyncFeedConfig, feedName),
		loader: loader,
	}
}

func (t *SyncFeedConfigTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	config, err := t.loader.LoadConfig(t.FeedName)
	if err != nil {
		slog.Error("Task failed", "type", "SyncFeedConfig", "feed", t.FeedName, "error", err)
		return fmt.Errorf("failed to reload feed config: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncFeedConfig",
		"feed", t.FeedName,
		"enabled", config.Settings.Enabled,
		"duration", t.GetDuration())

	return nil
}
