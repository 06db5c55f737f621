package fetcher

import (
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
)

type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceNotModified Source = "not_modified"
)

// Result is the outcome of fetching one feed. Items are candidates only;
// nothing is stored by the fetcher. FetchToken and LastModified belong to a
// network payload and are left for the caller to record once its items are
// stored.
type Result struct {
	FeedName     string
	Success      bool
	Source       Source
	Status       string // human readable, for logs and reports
	Metadata     *feed.Metadata
	Items        []feed.Item
	FetchToken   string
	LastModified string
	Err          error
	Duration     time.Duration
}
