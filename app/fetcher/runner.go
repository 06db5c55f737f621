package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/rss-relay/app/cache"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"golang.org/x/sync/errgroup"
)

const (
	maxBodySize      = 20 << 20
	contentHashToken = "sha256:"
)

// Runner polls feeds, honoring the fetch cache and conditional request
// tokens, and turns payloads into candidate items. Fetches of the same feed
// are serialized.
type Runner struct {
	httpClient *http.Client
	cache      cache.Cache
	parser     *feed.Parser
	states     database.FeedStateRepositoryInterface
	userAgent  string
	workers    int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewRunner(httpClient *http.Client, feedCache cache.Cache, parser *feed.Parser, states database.FeedStateRepositoryInterface, userAgent string, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}

	return &Runner{
		httpClient: httpClient,
		cache:      feedCache,
		parser:     parser,
		states:     states,
		userAgent:  userAgent,
		workers:    workers,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Run fetches every feed with bounded concurrency. Results keep the order of
// configs. A feed failure is reported in its result; only a feed state
// storage error is returned.
func (r *Runner) Run(ctx context.Context, configs []*feed.Config) ([]Result, error) {
	results := make([]Result, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, config := range configs {
		g.Go(func() error {
			result, err := r.Fetch(gctx, config)
			results[i] = result
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	return results, nil
}

// Fetch polls a single feed and records the attempt in its feed state
func (r *Runner) Fetch(ctx context.Context, config *feed.Config) (Result, error) {
	lock := r.feedLock(config.Name)
	lock.Lock()
	defer lock.Unlock()

	startedAt := time.Now()
	result := Result{FeedName: config.Name}

	if err := ctx.Err(); err != nil {
		result.Err = err
		result.Status = "cancelled"
		return result, nil
	}

	if data, ok := r.cachedPayload(ctx, config); ok {
		metadata, items, err := r.parser.Run(data, config.Settings.MaxItems)
		if err == nil {
			result.Source = SourceCache
			result.Metadata = metadata
			result.Items = items
			return r.served(ctx, config, result, startedAt)
		}
		slog.Warn("Cached feed payload is unreadable, fetching from network", "feed", config.Name, "error", err)
	}

	state, err := r.states.GetState(ctx, config.Name)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return result, err
	}

	resp, err := r.request(ctx, config, state)
	if err != nil {
		return r.fail(ctx, config, result, err, startedAt)
	}

	success := database.FetchSuccess{
		FeedURL:   config.URL,
		FetchedAt: startedAt,
	}

	if resp.notModified {
		result.Source = SourceNotModified
		return r.succeed(ctx, config, result, success, "not modified", startedAt)
	}

	metadata, items, err := r.parser.Run(resp.body, config.Settings.MaxItems)
	if err != nil {
		return r.fail(ctx, config, result, err, startedAt)
	}

	// Only payloads that parse are replayed from the cache
	if config.Settings.CacheTTL > 0 {
		if err := r.cache.SetFeedData(ctx, config.URL, resp.body, config.Settings.GetCacheTTL()); err != nil {
			slog.Warn("Failed to cache feed data", "feed", config.Name, "error", err)
		}
	}

	success.Title = metadata.Title
	success.Link = metadata.Link
	success.Description = metadata.Description

	result.Source = SourceNetwork
	result.Metadata = metadata
	result.Items = items
	result.FetchToken = resp.token
	result.LastModified = resp.lastModified

	return r.succeed(ctx, config, result, success, fmt.Sprintf("fetched %d items", len(items)), startedAt)
}

func (r *Runner) cachedPayload(ctx context.Context, config *feed.Config) ([]byte, bool) {
	if config.Settings.CacheTTL <= 0 {
		return nil, false
	}

	data, ok, err := r.cache.GetFeedData(ctx, config.URL)
	if err != nil {
		slog.Warn("Fetch cache unavailable", "feed", config.Name, "error", err)
		return nil, false
	}

	return data, ok
}

// served records a poll answered from the cache. It is an attempt, not a
// fetch: the last fetch time and the failure count stay as they are.
func (r *Runner) served(ctx context.Context, config *feed.Config, result Result, startedAt time.Time) (Result, error) {
	if err := r.states.RecordAttempt(context.WithoutCancel(ctx), config.Name, config.URL, startedAt); err != nil {
		return result, err
	}

	result.Success = true
	result.Status = fmt.Sprintf("%d items from cache", len(result.Items))
	result.Duration = time.Since(startedAt)

	slog.Debug("Feed served from cache", "feed", config.Name, "items", len(result.Items), "duration", result.Duration)

	return result, nil
}

func (r *Runner) succeed(ctx context.Context, config *feed.Config, result Result, success database.FetchSuccess, status string, startedAt time.Time) (Result, error) {
	if err := r.states.RecordSuccess(context.WithoutCancel(ctx), config.Name, success); err != nil {
		return result, err
	}

	result.Success = true
	result.Status = status
	result.Duration = time.Since(startedAt)

	slog.Debug("Feed fetched", "feed", config.Name, "source", result.Source, "items", len(result.Items), "duration", result.Duration)

	return result, nil
}

func (r *Runner) fail(ctx context.Context, config *feed.Config, result Result, fetchErr error, startedAt time.Time) (Result, error) {
	result.Err = fetchErr
	result.Status = fmt.Sprintf("error: %v", fetchErr)
	result.Duration = time.Since(startedAt)

	// A run being stopped is not a failure of the feed
	if ctx.Err() != nil {
		result.Status = "cancelled"
		return result, nil
	}

	slog.Warn("Feed fetch failed", "feed", config.Name, "error", fetchErr)

	if err := r.states.RecordFailure(ctx, config.Name, config.URL, startedAt, fetchErr); err != nil {
		return result, err
	}

	return result, nil
}

type response struct {
	body         []byte
	token        string
	lastModified string
	notModified  bool
}

func (r *Runner) request(ctx context.Context, config *feed.Config, state *database.FeedState) (*response, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, config.Settings.GetTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	if state != nil {
		if state.FetchToken != "" && !strings.HasPrefix(state.FetchToken, contentHashToken) {
			req.Header.Set("If-None-Match", state.FetchToken)
		}
		if state.LastModified != "" {
			req.Header.Set("If-Modified-Since", state.LastModified)
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &response{notModified: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	token := resp.Header.Get("ETag")
	if token == "" {
		hash := sha256.Sum256(body)
		token = contentHashToken + hex.EncodeToString(hash[:])
	}

	return &response{
		body:         body,
		token:        token,
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func (r *Runner) feedLock(name string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[name] = lock
	}
	return lock
}
