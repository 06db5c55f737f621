package database

import (
	"time"

	"github.com/lysyi3m/rss-relay/app/analysis"
)

type FeedState struct {
	FeedID        string
	FeedURL       string
	Title         string // Feed's own title from RSS/Atom
	Link          string // Homepage URL from feed's <link> element
	Description   string
	LastFetchAt   *time.Time // Last successful fetch, never moves backwards
	LastAttemptAt *time.Time
	FetchToken    string // ETag, or "sha256:<hex>" of the payload
	LastModified  string // Last-Modified header of the last successful fetch
	FailureCount  int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Item struct {
	ID               int64
	FeedID           string
	ContentKey       string
	GUID             string
	Title            string
	Link             string
	Description      string
	Content          string
	Authors          []string
	Categories       []string
	PublishedAt      *time.Time // nil when the source omitted or mangled it
	Raw              []byte
	ExtractedContent string
	CreatedAt        time.Time
}

type Analysis struct {
	ID               int64
	ItemID           int64
	Purpose          string
	Status           analysis.Status
	ModelUsed        string
	ModelsAttempted  []string
	Attempts         []analysis.Attempt
	ResultText       string
	LastError        string
	TokensPrompt     int64
	TokensCompletion int64
	Usage            analysis.Usage
	RunID            string
	IsCurrent        bool
	CreatedAt        time.Time
}

type PublicationStatus string

const (
	PublicationPending PublicationStatus = "pending"
	PublicationSent    PublicationStatus = "sent"
	PublicationFailed  PublicationStatus = "failed"
)

type Publication struct {
	ID                int64
	ItemID            int64
	Target            string
	Status            PublicationStatus
	PlatformMessageID string
	Attempts          int
	LastError         string
	ClaimedAt         *time.Time
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PublicationOutcome reports what a publish call did. Sent with Duplicate set
// means the send had already happened and was not repeated.
type PublicationOutcome struct {
	Publication Publication
	Sent        bool
	Duplicate   bool
	InFlight    bool // another worker holds the claim
	Err         error
}

type FeedItemStats struct {
	FeedID   string
	Items    int
	Analyzed int
	LastItem *time.Time
}

type TargetStats struct {
	Target  string
	Pending int
	Sent    int
	Failed  int
}

// AnalyzedItem is an item joined with its current successful analysis.
type AnalyzedItem struct {
	Item     Item
	Summary  string
	Model    string
	Analyzed time.Time
}
