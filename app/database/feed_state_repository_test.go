package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFeedStateRecordSuccessAndFailure(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedStateRepository(newTestDB(t))

	if _, err := repo.GetState(ctx, "tech"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before the first fetch, got %v", err)
	}

	attempt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// First attempt fails: the state is created with one failure
	if err := repo.RecordFailure(ctx, "tech", "https://example.com/feed", attempt, errors.New("connection refused")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := repo.RecordFailure(ctx, "tech", "https://example.com/feed", attempt.Add(time.Minute), errors.New("timeout")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	state, err := repo.GetState(ctx, "tech")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if state.FailureCount != 2 {
		t.Errorf("Expected failure count 2, got %d", state.FailureCount)
	}
	if state.LastError != "timeout" {
		t.Errorf("Expected last error 'timeout', got '%s'", state.LastError)
	}
	if state.LastFetchAt != nil {
		t.Errorf("Expected no successful fetch yet, got %v", state.LastFetchAt)
	}

	fetchedAt := attempt.Add(2 * time.Minute)
	err = repo.RecordSuccess(ctx, "tech", FetchSuccess{
		FeedURL:   "https://example.com/feed",
		FetchedAt: fetchedAt,
		Title:     "Tech News",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	state, err = repo.GetState(ctx, "tech")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if state.FailureCount != 0 || state.LastError != "" {
		t.Errorf("Expected failures to reset, got count %d and error '%s'", state.FailureCount, state.LastError)
	}
	if state.LastFetchAt == nil || !state.LastFetchAt.Equal(fetchedAt) {
		t.Errorf("Expected last fetch %v, got %v", fetchedAt, state.LastFetchAt)
	}
	if state.Title != "Tech News" {
		t.Errorf("Expected title 'Tech News', got '%s'", state.Title)
	}
	if state.FetchToken != "" {
		t.Errorf("Expected no token before it is recorded, got '%s'", state.FetchToken)
	}
}

func TestFeedStateLastFetchIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedStateRepository(newTestDB(t))

	newer := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	if err := repo.RecordSuccess(ctx, "tech", FetchSuccess{FetchedAt: newer, Title: "Tech"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordToken(ctx, "tech", "a", ""); err != nil {
		t.Fatal(err)
	}

	// An out-of-order success without a token, as after a 304 response
	if err := repo.RecordSuccess(ctx, "tech", FetchSuccess{FetchedAt: older}); err != nil {
		t.Fatal(err)
	}

	state, err := repo.GetState(ctx, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if !state.LastFetchAt.Equal(newer) {
		t.Errorf("Expected last fetch to stay at %v, got %v", newer, state.LastFetchAt)
	}
	if state.FetchToken != "a" || state.Title != "Tech" {
		t.Errorf("Expected token and title to be kept, got '%s' and '%s'", state.FetchToken, state.Title)
	}

	states, err := repo.GetStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 || states[0].FeedID != "tech" {
		t.Errorf("Expected one state for 'tech', got %+v", states)
	}
}

func TestFeedStateRecordToken(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedStateRepository(newTestDB(t))

	// No state yet: nothing to attach the token to
	if err := repo.RecordToken(ctx, "tech", `"v1"`, ""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := repo.GetState(ctx, "tech"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected no state to be created by a token, got %v", err)
	}

	if err := repo.RecordSuccess(ctx, "tech", FetchSuccess{FetchedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordToken(ctx, "tech", `"v1"`, "Wed, 01 May 2024 10:00:00 GMT"); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordToken(ctx, "tech", `"v2"`, ""); err != nil {
		t.Fatal(err)
	}

	state, err := repo.GetState(ctx, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if state.FetchToken != `"v2"` {
		t.Errorf("Expected token '\"v2\"', got '%s'", state.FetchToken)
	}
	if state.LastModified != "Wed, 01 May 2024 10:00:00 GMT" {
		t.Errorf("Expected last modified to be kept, got '%s'", state.LastModified)
	}
}

func TestFeedStateRecordAttempt(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedStateRepository(newTestDB(t))

	fetchedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	attemptedAt := fetchedAt.Add(time.Minute)

	if err := repo.RecordFailure(ctx, "tech", "https://example.com/feed", fetchedAt.Add(-time.Minute), errors.New("timeout")); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordSuccess(ctx, "tech", FetchSuccess{FetchedAt: fetchedAt}); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordFailure(ctx, "tech", "https://example.com/feed", fetchedAt.Add(30*time.Second), errors.New("timeout")); err != nil {
		t.Fatal(err)
	}

	if err := repo.RecordAttempt(ctx, "tech", "https://example.com/feed", attemptedAt); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	state, err := repo.GetState(ctx, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if state.LastAttemptAt == nil || !state.LastAttemptAt.Equal(attemptedAt) {
		t.Errorf("Expected last attempt %v, got %v", attemptedAt, state.LastAttemptAt)
	}
	if state.LastFetchAt == nil || !state.LastFetchAt.Equal(fetchedAt) {
		t.Errorf("Expected last fetch to stay at %v, got %v", fetchedAt, state.LastFetchAt)
	}
	if state.FailureCount != 1 {
		t.Errorf("Expected failure count to stay at 1, got %d", state.FailureCount)
	}

	// First poll served without the network creates the state
	if err := repo.RecordAttempt(ctx, "news", "https://example.com/news", attemptedAt); err != nil {
		t.Fatal(err)
	}
	state, err = repo.GetState(ctx, "news")
	if err != nil {
		t.Fatal(err)
	}
	if state.LastFetchAt != nil || state.FeedURL != "https://example.com/news" {
		t.Errorf("Expected attempt-only state, got %+v", state)
	}
}
