package feed

import (
	"testing"
)

func TestFilterer_Run_NoFilters(t *testing.T) {
	filterer := NewFilterer()

	items := []Item{
		{Title: "Test Item 1", Description: "Test description"},
		{Title: "Test Item 2", Description: "Another description"},
	}

	result, count := filterer.Run(items, nil)

	if len(result) != 2 {
		t.Errorf("Expected 2 items, got %d", len(result))
	}
	if count != 0 {
		t.Errorf("Expected 0 filtered items, got %d", count)
	}
	for i, item := range result {
		if item.IsFiltered {
			t.Errorf("Item %d should not be filtered when no filters are configured", i)
		}
	}
}

func TestFilterer_Run_TitleIncludeFilter(t *testing.T) {
	filterer := NewFilterer()

	items := []Item{
		{Title: "Breaking News: Important Update"},
		{Title: "Sports Update"},
		{Title: "Weather Report"},
	}

	filters := []ConfigFilter{
		{Field: "title", Includes: []string{"news", "update"}},
	}

	result, count := filterer.Run(items, filters)

	if count != 1 {
		t.Errorf("Expected 1 filtered item, got %d", count)
	}
	if result[0].IsFiltered || result[1].IsFiltered {
		t.Error("Items containing included terms should not be filtered")
	}
	if !result[2].IsFiltered {
		t.Error("Third item should be filtered, doesn't contain included terms")
	}
	if result[2].FilterReason == "" {
		t.Error("Third item should have filter reason")
	}
}

func TestFilterer_Run_ExcludeWinsOverInclude(t *testing.T) {
	filterer := NewFilterer()

	items := []Item{
		{Title: "Tech news", Categories: []string{"Go", "Sponsored"}},
		{Title: "Tech news", Categories: []string{"Go"}},
	}

	filters := []ConfigFilter{
		{Field: "title", Includes: []string{"tech"}},
		{Field: "categories", Excludes: []string{"sponsored"}},
	}

	result, count := filterer.Run(items, filters)

	if count != 1 {
		t.Errorf("Expected 1 filtered item, got %d", count)
	}
	if !result[0].IsFiltered {
		t.Error("Sponsored item should be filtered")
	}
	if result[1].IsFiltered {
		t.Errorf("Second item should pass, got reason: %s", result[1].FilterReason)
	}
}

func TestFilterer_Run_PreservesItemData(t *testing.T) {
	filterer := NewFilterer()

	items := []Item{
		{
			GUID:       "test-guid-1",
			Title:      "Test Article",
			Link:       "https://example.com/1",
			Categories: []string{"b", "a"},
			ContentKey: "key",
		},
	}

	result, _ := filterer.Run(items, []ConfigFilter{{Field: "title", Includes: []string{"test"}}})

	item := result[0]
	if item.GUID != "test-guid-1" || item.Link != "https://example.com/1" || item.ContentKey != "key" {
		t.Errorf("Item data not preserved: %+v", item)
	}
	if len(item.Categories) != 2 || item.Categories[0] != "b" {
		t.Errorf("Category order not preserved: %v", item.Categories)
	}
}

func TestFilterer_GetFieldValue(t *testing.T) {
	filterer := NewFilterer()

	item := Item{
		Title:       "Test Title",
		Description: "Test Description",
		Content:     "Test Content",
		Authors:     []string{"author1@example.com", "author2@example.com"},
		Link:        "https://example.com",
		Categories:  []string{"cat1", "cat2"},
	}

	tests := []struct {
		field    string
		expected string
	}{
		{"title", "Test Title"},
		{"description", "Test Description"},
		{"content", "Test Content"},
		{"authors", "author1@example.com author2@example.com"},
		{"link", "https://example.com"},
		{"categories", "cat1 cat2"},
		{"unknown", ""},
	}

	for _, test := range tests {
		result := filterer.getFieldValue(item, test.field)
		if result != test.expected {
			t.Errorf("getFieldValue(%s): expected '%s', got '%s'", test.field, test.expected, result)
		}
	}
}

func TestFilterer_MatchesFilter(t *testing.T) {
	filterer := NewFilterer()

	tests := []struct {
		value    string
		pattern  string
		expected bool
	}{
		{"Hello World", "hello", true},
		{"Hello World", "WORLD", true},
		{"Hello World", "xyz", false},
		{"", "test", false},
		{"test", "", true},
	}

	for _, test := range tests {
		result := filterer.matchesFilter(test.value, test.pattern)
		if result != test.expected {
			t.Errorf("matchesFilter(%q, %q): expected %v, got %v", test.value, test.pattern, test.expected, result)
		}
	}
}
