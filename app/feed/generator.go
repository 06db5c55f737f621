package feed

import (
	"cmp"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
)

// Entry is a stored item together with its current analysis, ready to be
// rendered into an output feed.
type Entry struct {
	Item     Item
	Summary  string
	StoredAt time.Time
}

type Generator struct {
	selfBaseURL string
}

func NewGenerator(selfBaseURL string) *Generator {
	return &Generator{
		selfBaseURL: selfBaseURL,
	}
}

// Run renders RSS 2.0 for a feed, using the analysis summary as the item
// description when one is present.
func (g *Generator) Run(name string, metadata Metadata, entries []Entry) (string, error) {
	description := metadata.Description
	if description == "" {
		description = fmt.Sprintf("Analyzed items of %s", name)
	}

	out := &feeds.Feed{
		Title:       cmp.Or(metadata.Title, name),
		Link:        &feeds.Link{Href: cmp.Or(metadata.Link, g.selfLink(name))},
		Description: description,
		Created:     time.Now().UTC(),
	}

	if len(entries) > 0 {
		out.Created = g.entryTime(entries[0])
	}

	out.Items = make([]*feeds.Item, 0, len(entries))
	for _, entry := range entries {
		out.Items = append(out.Items, g.buildItem(entry))
	}

	rss, err := out.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to render RSS: %w", err)
	}

	return rss, nil
}

func (g *Generator) buildItem(entry Entry) *feeds.Item {
	item := &feeds.Item{
		Id:          cmp.Or(entry.Item.GUID, entry.Item.Link),
		Title:       entry.Item.Title,
		Link:        &feeds.Link{Href: entry.Item.Link},
		Description: cmp.Or(entry.Summary, entry.Item.Description, "No description available"),
		Created:     g.entryTime(entry),
	}

	if len(entry.Item.Authors) > 0 && entry.Item.Authors[0] != "" {
		item.Author = &feeds.Author{Name: entry.Item.Authors[0]}
	}

	return item
}

func (g *Generator) entryTime(entry Entry) time.Time {
	if entry.Item.PublishedAt != nil {
		return *entry.Item.PublishedAt
	}
	return entry.StoredAt
}

func (g *Generator) selfLink(name string) string {
	if g.selfBaseURL != "" {
		return fmt.Sprintf("%s/feeds/%s", g.selfBaseURL, name)
	}
	return fmt.Sprintf("/feeds/%s", name)
}
