package feed

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRSS(t *testing.T) {
	generator := NewGenerator("https://relay.example.com")

	published := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	entries := []Entry{
		{
			Item: Item{
				GUID:        "item-1",
				Title:       "First <item>",
				Link:        "https://example.com/1",
				Description: "Original description",
				PublishedAt: &published,
				Authors:     []string{"Jane"},
			},
			Summary: "AI summary of the first item",
		},
		{
			Item: Item{
				Title:       "Second item",
				Link:        "https://example.com/2",
				Description: "Only a description",
			},
			StoredAt: published.Add(time.Hour),
		},
	}

	rss, err := generator.Run("tech", Metadata{Title: "Tech", Link: "https://example.com"}, entries)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expectedStrings := []string{
		`<rss version="2.0"`,
		"<title>Tech</title>",
		"First &lt;item&gt;",
		"AI summary of the first item",
		"Only a description",
		"https://example.com/2",
	}
	for _, expected := range expectedStrings {
		if !strings.Contains(rss, expected) {
			t.Errorf("Expected RSS to contain %q", expected)
		}
	}

	if strings.Contains(rss, "Original description") {
		t.Error("Expected summary to replace the original description")
	}
}

func TestGenerateWithMinimalData(t *testing.T) {
	generator := NewGenerator("")

	rss, err := generator.Run("minimal", Metadata{}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, "<title>minimal</title>") {
		t.Error("Expected feed name to be used as title")
	}
	if !strings.Contains(rss, "/feeds/minimal") {
		t.Error("Expected self link to be used when the source link is unknown")
	}
	if strings.Contains(rss, "<item>") {
		t.Error("Expected no items")
	}
}
