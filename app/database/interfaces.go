package database

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-relay/app/analysis"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/shopspring/decimal"
)

// FetchSuccess describes a completed network fetch. Empty metadata fields
// keep the stored values (a 304 response carries none).
type FetchSuccess struct {
	FeedURL     string
	FetchedAt   time.Time
	Title       string
	Link        string
	Description string
}

type FeedStateRepositoryInterface interface {
	GetState(ctx context.Context, feedID string) (*FeedState, error)
	GetStates(ctx context.Context) ([]FeedState, error)

	RecordSuccess(ctx context.Context, feedID string, fetch FetchSuccess) error
	RecordFailure(ctx context.Context, feedID, feedURL string, attemptedAt time.Time, fetchErr error) error
	RecordAttempt(ctx context.Context, feedID, feedURL string, attemptedAt time.Time) error
	RecordToken(ctx context.Context, feedID, fetchToken, lastModified string) error
}

type ItemRepositoryInterface interface {
	Save(ctx context.Context, feedID string, candidate feed.Item) (int64, bool, error)

	GetItem(ctx context.Context, id int64) (*Item, error)
	GetItemCount(ctx context.Context, feedID string) (int, error)
	GetFeedStats(ctx context.Context) ([]FeedItemStats, error)
	GetUnanalyzedItems(ctx context.Context, feedID, purpose string, maxFailures, limit int) ([]Item, error)
	GetAnalyzedEntries(ctx context.Context, feedID, purpose string, limit int) ([]AnalyzedItem, error)

	UpdateExtractedContent(ctx context.Context, id int64, content string) error
}

type AnalysisRepositoryInterface interface {
	Store(ctx context.Context, itemID int64, result analysis.Result) (int64, error)
	HasAnalysis(ctx context.Context, itemID int64, purpose string) (bool, error)
	GetCurrent(ctx context.Context, itemID int64, purpose string) (*Analysis, error)
	GetHistory(ctx context.Context, itemID int64, purpose string) ([]Analysis, error)

	TotalNetCost(ctx context.Context, since time.Time) (decimal.Decimal, error)
	GetStats(ctx context.Context) (int, int, error)
}

// SendFunc delivers content and returns the platform message id.
type SendFunc func(ctx context.Context) (string, error)

type PublicationRepositoryInterface interface {
	Reserve(ctx context.Context, itemID int64, targets []string) error
	Publish(ctx context.Context, itemID int64, target string, send SendFunc) (PublicationOutcome, error)

	GetPublication(ctx context.Context, itemID int64, target string) (*Publication, error)
	GetRetryable(ctx context.Context, maxAttempts, limit int) ([]Publication, error)
	ReleaseStale(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) ([]TargetStats, error)
}

var (
	_ FeedStateRepositoryInterface   = (*FeedStateRepository)(nil)
	_ ItemRepositoryInterface        = (*ItemRepository)(nil)
	_ AnalysisRepositoryInterface    = (*AnalysisRepository)(nil)
	_ PublicationRepositoryInterface = (*PublicationRepository)(nil)
)
