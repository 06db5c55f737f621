package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

// Item is a normalized candidate produced from one feed entry. It becomes a
// stored item only after the item repository accepts it.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt *time.Time // nil when the feed omitted it or it did not parse
	Authors     []string
	Categories  []string // feed order is preserved

	ContentKey   string
	Raw          []byte // JSON of the parsed entry
	IsFiltered   bool
	FilterReason string
}

// Malformed reports whether the item carries neither a title nor a link.
func (i Item) Malformed() bool {
	return i.Title == "" && i.Link == ""
}

// Configuration types

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`
	Settings ConfigSettings `yaml:"settings"`
	Targets  []string       `yaml:"targets"` // empty means every configured target
	Filters  []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled         bool   `yaml:"enabled"`
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	MaxItems        int    `yaml:"max_items"`        // 0 keeps every entry
	Timeout         int    `yaml:"timeout"`          // seconds
	CacheTTL        int    `yaml:"cache_ttl"`        // seconds
	ExtractContent  bool   `yaml:"extract_content"`
	Analyze         *bool  `yaml:"analyze"`
	Purpose         string `yaml:"purpose"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

func (s ConfigSettings) GetRefreshInterval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

func (s ConfigSettings) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func (s ConfigSettings) GetCacheTTL() time.Duration {
	return time.Duration(s.CacheTTL) * time.Second
}

// AnalysisEnabled defaults to true when the setting is absent.
func (s ConfigSettings) AnalysisEnabled() bool {
	return s.Analyze == nil || *s.Analyze
}
