package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
)

// ItemRepository handles database operations for feed items
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `i.id, i.feed_id, i.content_key, i.guid, i.title, i.link,
	i.description, i.content, i.authors_json, i.categories_json,
	i.published_at, i.raw_json, i.extracted_content, i.created_at`

// Save stores a candidate unless its content key is already known for the
// feed. It returns the new item id and true on first insert, and zero and
// false for a duplicate. The insert and the duplicate check are a single
// statement, so concurrent callers cannot both win.
func (r *ItemRepository) Save(ctx context.Context, feedID string, candidate feed.Item) (int64, bool, error) {
	if candidate.Malformed() {
		slog.Warn("Rejected malformed item", "feed", feedID, "guid", candidate.GUID)
		return 0, false, ErrMalformedItem
	}

	contentKey := feed.ContentKey(candidate.GUID, candidate.Link, candidate.Title)

	authors, err := json.Marshal(nonNil(candidate.Authors))
	if err != nil {
		return 0, false, fmt.Errorf("failed to encode authors: %w", err)
	}
	categories, err := json.Marshal(nonNil(candidate.Categories))
	if err != nil {
		return 0, false, fmt.Errorf("failed to encode categories: %w", err)
	}

	var raw sql.NullString
	if len(candidate.Raw) > 0 {
		raw = sql.NullString{String: string(candidate.Raw), Valid: true}
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO items (
			feed_id, content_key, guid, title, link, description, content,
			authors_json, categories_json, published_at, raw_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, content_key) DO NOTHING
		RETURNING id
	`, feedID, contentKey, candidate.GUID, candidate.Title, candidate.Link,
		candidate.Description, candidate.Content, string(authors), string(categories),
		formatNullTime(candidate.PublishedAt), raw, formatTime(time.Now())).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to store item: %w", err)
	}

	return id, true, nil
}

// GetItem returns ErrNotFound for an unknown id
func (r *ItemRepository) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.id = ?`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// GetItemCount returns the total number of items for a feed
func (r *ItemRepository) GetItemCount(ctx context.Context, feedID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE feed_id = ?", feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// GetFeedStats returns per-feed item and analysis counts
func (r *ItemRepository) GetFeedStats(ctx context.Context) ([]FeedItemStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			i.feed_id,
			COUNT(*),
			SUM(CASE WHEN EXISTS (
				SELECT 1 FROM ai_analysis a
				WHERE a.item_id = i.id AND a.is_current = 1 AND a.status = 'success'
			) THEN 1 ELSE 0 END),
			MAX(i.created_at)
		FROM items i
		GROUP BY i.feed_id
		ORDER BY i.feed_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed stats: %w", err)
	}
	defer rows.Close()

	var stats []FeedItemStats
	for rows.Next() {
		var s FeedItemStats
		var lastItem sql.NullString
		if err := rows.Scan(&s.FeedID, &s.Items, &s.Analyzed, &lastItem); err != nil {
			return nil, fmt.Errorf("failed to scan feed stats row: %w", err)
		}
		if s.LastItem, err = parseNullTime(lastItem); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed stats rows: %w", err)
	}

	return stats, nil
}

// GetUnanalyzedItems returns the oldest items of a feed that lack a current
// successful analysis for purpose and have failed fewer than maxFailures times
func (r *ItemRepository) GetUnanalyzedItems(ctx context.Context, feedID, purpose string, maxFailures, limit int) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items i
		WHERE i.feed_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM ai_analysis a
			WHERE a.item_id = i.id AND a.purpose = ? AND a.is_current = 1 AND a.status = 'success'
		  )
		  AND (
			SELECT COUNT(*) FROM ai_analysis f
			WHERE f.item_id = i.id AND f.purpose = ? AND f.status = 'failed'
		  ) < ?
		ORDER BY i.id
		LIMIT ?
	`, feedID, purpose, purpose, maxFailures, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get unanalyzed items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

// GetAnalyzedEntries returns the newest items of a feed together with their
// current successful analysis for purpose
func (r *ItemRepository) GetAnalyzedEntries(ctx context.Context, feedID, purpose string, limit int) ([]AnalyzedItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`, a.result_text, a.model_used, a.created_at
		FROM items i
		JOIN ai_analysis a ON a.item_id = i.id
		WHERE i.feed_id = ?
		  AND a.purpose = ? AND a.is_current = 1 AND a.status = 'success'
		ORDER BY COALESCE(i.published_at, i.created_at) DESC
		LIMIT ?
	`, feedID, purpose, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get analyzed entries: %w", err)
	}
	defer rows.Close()

	var entries []AnalyzedItem
	for rows.Next() {
		var entry AnalyzedItem
		var analyzedAt string

		item, err := scanItem(rows, &entry.Summary, &entry.Model, &analyzedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analyzed entry row: %w", err)
		}
		entry.Item = *item
		if entry.Analyzed, err = parseTime(analyzedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyzed entry rows: %w", err)
	}

	return entries, nil
}

// UpdateExtractedContent stores readability output for an item
func (r *ItemRepository) UpdateExtractedContent(ctx context.Context, id int64, content string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE items SET extracted_content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// scanItem reads itemColumns followed by any extra destinations
func scanItem(row rowScanner, extra ...any) (*Item, error) {
	var item Item
	var authors, categories string
	var publishedAt, raw sql.NullString
	var createdAt string

	dest := []any{
		&item.ID, &item.FeedID, &item.ContentKey, &item.GUID, &item.Title, &item.Link,
		&item.Description, &item.Content, &authors, &categories,
		&publishedAt, &raw, &item.ExtractedContent, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authors), &item.Authors); err != nil {
		return nil, fmt.Errorf("invalid stored authors: %w", err)
	}
	if err := json.Unmarshal([]byte(categories), &item.Categories); err != nil {
		return nil, fmt.Errorf("invalid stored categories: %w", err)
	}
	if raw.Valid {
		item.Raw = []byte(raw.String)
	}

	var err error
	if item.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &item, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit"
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
