package publish

import (
	"cmp"
	"fmt"
	"html"
	"strings"
	"unicode"
)

// Telegram rejects messages longer than 4096 characters
const maxSummaryRunes = 3000

type Message struct {
	FeedTitle  string
	Title      string
	Link       string
	Summary    string
	Categories []string
}

// FormatMessage renders an item as Telegram HTML
func FormatMessage(m Message) string {
	var b strings.Builder

	title := cmp.Or(m.Title, m.Link)
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>\n")

	if m.FeedTitle != "" {
		b.WriteString("<i>")
		b.WriteString(html.EscapeString(m.FeedTitle))
		b.WriteString("</i>\n")
	}

	if summary := strings.TrimSpace(m.Summary); summary != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(truncate(summary, maxSummaryRunes)))
		b.WriteString("\n")
	}

	if tags := hashtags(m.Categories); tags != "" {
		b.WriteString("\n")
		b.WriteString(tags)
		b.WriteString("\n")
	}

	if m.Link != "" {
		b.WriteString(fmt.Sprintf("\n<a href=\"%s\">Read more</a>", html.EscapeString(m.Link)))
	}

	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func hashtags(categories []string) string {
	seen := make(map[string]bool)
	var tags []string

	for _, category := range categories {
		tag := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				return r
			}
			if unicode.IsSpace(r) || r == '-' {
				return '_'
			}
			return -1
		}, strings.TrimSpace(category))

		tag = strings.Trim(tag, "_")
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		tags = append(tags, "#"+tag)
	}

	return strings.Join(tags, " ")
}
