package tasks

import (
	"context"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/pipeline"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the HTTP API to manage background runs.
// Example usage:
//
//	scheduler := NewScheduler(relay, configCache, states, options)
//	if err := scheduler.Start(); err != nil { ... }
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewProcessFeedTask(feedConfig, relay))
type TaskSchedulerInterface interface {
	Start() error
	Stop()
	EnqueueTask(task TaskInterface) error
	Done() <-chan struct{}
	Health() map[string]any
}

// PipelineRunner is the part of the pipeline the tasks drive.
type PipelineRunner interface {
	Run(ctx context.Context, configs []*feed.Config) (*pipeline.Report, error)
	Retry(ctx context.Context) (*pipeline.Report, error)
}

type FeedConfigSource interface {
	GetEnabledList() []*feed.Config
}

type FeedConfigLoader interface {
	LoadConfig(feedName string) (*feed.Config, error)
}

type FeedStateReader interface {
	GetState(ctx context.Context, feedID string) (*database.FeedState, error)
}

var (
	_ PipelineRunner   = (*pipeline.Pipeline)(nil)
	_ FeedConfigSource = (*feed.ConfigCache)(nil)
	_ FeedConfigLoader = (*feed.ConfigCache)(nil)
	_ FeedStateReader  = (*database.FeedStateRepository)(nil)
)
