package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses a raw RSS, Atom or JSON feed payload. When maxItems is positive
// only the first maxItems entries are returned.
func (p *Parser) Run(data []byte, maxItems int) (*Metadata, []Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
	}

	entries := feed.Items
	if maxItems > 0 && len(entries) > maxItems {
		entries = entries[:maxItems]
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		items = append(items, p.normalizeItem(entry))
	}

	return metadata, items, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Item {
	normalized := Item{
		GUID:        strings.TrimSpace(item.GUID),
		Title:       strings.TrimSpace(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Description: item.Description,
		Content:     item.Content,
	}

	if item.PublishedParsed != nil {
		published := item.PublishedParsed.UTC()
		normalized.PublishedAt = &published
	} else if item.UpdatedParsed != nil {
		updated := item.UpdatedParsed.UTC()
		normalized.PublishedAt = &updated
	}

	normalized.Authors = p.extractAuthors(item)

	for _, category := range item.Categories {
		if category = strings.TrimSpace(category); category != "" {
			normalized.Categories = append(normalized.Categories, category)
		}
	}

	normalized.ContentKey = ContentKey(normalized.GUID, normalized.Link, normalized.Title)

	if raw, err := json.Marshal(item); err == nil {
		normalized.Raw = raw
	}

	return normalized
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				authorStr := p.formatAuthor(author.Name, author.Email)
				if authorStr != "" {
					authors = append(authors, authorStr)
				}
			}
		}
	} else if item.Author != nil {
		authorStr := p.formatAuthor(item.Author.Name, item.Author.Email)
		if authorStr != "" {
			authors = append(authors, authorStr)
		}
	}

	return authors
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}
