package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FeedStateRepository handles per-feed fetch bookkeeping
type FeedStateRepository struct {
	db *DB
}

// NewFeedStateRepository creates a new feed state repository
func NewFeedStateRepository(db *DB) *FeedStateRepository {
	return &FeedStateRepository{db: db}
}

const feedStateColumns = `feed_id, feed_url, title, link, description,
	last_fetch_at, last_attempt_at, fetch_token, last_modified,
	failure_count, last_error, created_at, updated_at`

// GetState returns ErrNotFound when the feed was never fetched
func (r *FeedStateRepository) GetState(ctx context.Context, feedID string) (*FeedState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedStateColumns+` FROM feed_state WHERE feed_id = ?`, feedID)

	state, err := scanFeedState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed state: %w", err)
	}

	return state, nil
}

func (r *FeedStateRepository) GetStates(ctx context.Context) ([]FeedState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+feedStateColumns+` FROM feed_state ORDER BY feed_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed states: %w", err)
	}
	defer rows.Close()

	var states []FeedState
	for rows.Next() {
		state, err := scanFeedState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed state row: %w", err)
		}
		states = append(states, *state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed state rows: %w", err)
	}

	return states, nil
}

// RecordSuccess resets the failure count and advances the last fetch
// timestamp. An older timestamp never replaces a newer one. The conditional
// request token is not touched here, see RecordToken.
func (r *FeedStateRepository) RecordSuccess(ctx context.Context, feedID string, fetch FetchSuccess) error {
	now := formatTime(time.Now())
	fetchedAt := formatTime(fetch.FetchedAt)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_state (
			feed_id, feed_url, title, link, description,
			last_fetch_at, last_attempt_at,
			failure_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			feed_url = CASE WHEN excluded.feed_url != '' THEN excluded.feed_url ELSE feed_state.feed_url END,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE feed_state.title END,
			link = CASE WHEN excluded.link != '' THEN excluded.link ELSE feed_state.link END,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE feed_state.description END,
			last_fetch_at = CASE
				WHEN feed_state.last_fetch_at IS NULL OR feed_state.last_fetch_at < excluded.last_fetch_at
				THEN excluded.last_fetch_at ELSE feed_state.last_fetch_at END,
			last_attempt_at = excluded.last_attempt_at,
			failure_count = 0,
			last_error = '',
			updated_at = excluded.updated_at
	`, feedID, fetch.FeedURL, fetch.Title, fetch.Link, fetch.Description,
		fetchedAt, fetchedAt, now, now)

	if err != nil {
		return fmt.Errorf("failed to record fetch success: %w", err)
	}

	return nil
}

// RecordToken saves the conditional request token of a payload. Callers
// record it only once every item of that payload is stored, so a later 304
// can never hide an item that was not saved. Empty values keep the stored ones.
func (r *FeedStateRepository) RecordToken(ctx context.Context, feedID, fetchToken, lastModified string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_state SET
			fetch_token = CASE WHEN ? != '' THEN ? ELSE fetch_token END,
			last_modified = CASE WHEN ? != '' THEN ? ELSE last_modified END,
			updated_at = ?
		WHERE feed_id = ?
	`, fetchToken, fetchToken, lastModified, lastModified, formatTime(time.Now()), feedID)

	if err != nil {
		return fmt.Errorf("failed to record fetch token: %w", err)
	}

	return nil
}

// RecordAttempt marks a poll that was answered without a network fetch.
// The last fetch timestamp and the failure count are left alone.
func (r *FeedStateRepository) RecordAttempt(ctx context.Context, feedID, feedURL string, attemptedAt time.Time) error {
	now := formatTime(time.Now())

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_state (
			feed_id, feed_url, last_attempt_at, failure_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, 0, '', ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			last_attempt_at = excluded.last_attempt_at,
			updated_at = excluded.updated_at
	`, feedID, feedURL, formatTime(attemptedAt), now, now)

	if err != nil {
		return fmt.Errorf("failed to record fetch attempt: %w", err)
	}

	return nil
}

// RecordFailure increments the consecutive failure count, creating the state
// on the first attempt.
func (r *FeedStateRepository) RecordFailure(ctx context.Context, feedID, feedURL string, attemptedAt time.Time, fetchErr error) error {
	now := formatTime(time.Now())

	message := "unknown error"
	if fetchErr != nil {
		message = fetchErr.Error()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_state (
			feed_id, feed_url, last_attempt_at, failure_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			feed_url = CASE WHEN excluded.feed_url != '' THEN excluded.feed_url ELSE feed_state.feed_url END,
			last_attempt_at = excluded.last_attempt_at,
			failure_count = feed_state.failure_count + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, feedID, feedURL, formatTime(attemptedAt), message, now, now)

	if err != nil {
		return fmt.Errorf("failed to record fetch failure: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedState(row rowScanner) (*FeedState, error) {
	var state FeedState
	var lastFetchAt, lastAttemptAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&state.FeedID, &state.FeedURL, &state.Title, &state.Link, &state.Description,
		&lastFetchAt, &lastAttemptAt, &state.FetchToken, &state.LastModified,
		&state.FailureCount, &state.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if state.LastFetchAt, err = parseNullTime(lastFetchAt); err != nil {
		return nil, err
	}
	if state.LastAttemptAt, err = parseNullTime(lastAttemptAt); err != nil {
		return nil, err
	}
	if state.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &state, nil
}
