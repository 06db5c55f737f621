package api

import (
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

type GeneratorInterface interface {
	Run(name string, metadata feed.Metadata, entries []feed.Entry) (string, error)
}

// Relay is the pipeline as seen by the API: it runs on demand and keeps the
// report of its latest run
type Relay interface {
	tasks.PipelineRunner
	LastReport() *pipeline.Report
}

var (
	_ GeneratorInterface = (*feed.Generator)(nil)
	_ Relay              = (*pipeline.Pipeline)(nil)
)

type Handler struct {
	configCache  *feed.ConfigCache
	states       database.FeedStateRepositoryInterface
	items        database.ItemRepositoryInterface
	analyses     database.AnalysisRepositoryInterface
	publications database.PublicationRepositoryInterface
	generator    GeneratorInterface
	relay        Relay
	scheduler    tasks.TaskSchedulerInterface
}
