package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lysyi3m/rss-relay/app/analysis"
	"github.com/lysyi3m/rss-relay/app/cache"
	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/fetcher"
	"github.com/lysyi3m/rss-relay/app/publish"
	"github.com/shopspring/decimal"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <item><title>One</title><link>https://example.com/1</link><guid>1</guid><description>First body</description><category>Go</category></item>
    <item><title>Two</title><link>https://example.com/2</link><guid>2</guid><description>Second body</description></item>
    <item><title>Three</title><link>https://example.com/3</link><guid>3</guid><description>Third body</description></item>
  </channel>
</rss>`

// Net cost of one completion: 0.0003780711 + (-0.0000038189)
const completionNetCost = "0.0003742522"

// mockProvider answers every model except the failing ones
type mockProvider struct {
	mu      sync.Mutex
	failing map[string]error
	calls   map[string]int
}

func newMockProvider() *mockProvider {
	return &mockProvider{failing: make(map[string]error), calls: make(map[string]int)}
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) Complete(ctx context.Context, model string, prompt analysis.Prompt) (*analysis.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[model]++
	if err := m.failing[model]; err != nil {
		return nil, err
	}

	title, _, _ := strings.Cut(prompt.User, "\n")
	return &analysis.Completion{
		Text:             "Summary of " + strings.TrimPrefix(title, "Title: "),
		PromptTokens:     100,
		CompletionTokens: 20,
		Usage: analysis.Usage{
			Gross: decimal.RequireFromString("0.0003780711"),
			Data:  decimal.NewNullDecimal(decimal.RequireFromString("-0.0000038189")),
		},
	}, nil
}

func (m *mockProvider) setFailing(model string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, model)
		return
	}
	m.failing[model] = err
}

// mockSender fails for chats listed in failing
type mockSender struct {
	mu      sync.Mutex
	failing map[string]error
	sent    map[string][]string
}

func newMockSender() *mockSender {
	return &mockSender{failing: make(map[string]error), sent: make(map[string][]string)}
}

func (m *mockSender) Send(ctx context.Context, chatID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failing[chatID]; err != nil {
		return "", err
	}
	m.sent[chatID] = append(m.sent[chatID], text)
	return fmt.Sprintf("%s-%d", chatID, len(m.sent[chatID])), nil
}

func (m *mockSender) count(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent[chatID])
}

func (m *mockSender) setFailing(chatID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, chatID)
		return
	}
	m.failing[chatID] = err
}

type staticConfigs []*feed.Config

func (s staticConfigs) GetConfig(feedName string) (*feed.Config, error) {
	for _, c := range s {
		if c.Name == feedName {
			return c, nil
		}
	}
	return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
}

func (s staticConfigs) GetEnabledList() []*feed.Config {
	var enabled []*feed.Config
	for _, c := range s {
		if c.Settings.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

// failingItems makes Save fail while fail is set
type failingItems struct {
	*database.ItemRepository
	fail atomic.Bool
}

func (f *failingItems) Save(ctx context.Context, feedID string, candidate feed.Item) (int64, bool, error) {
	if f.fail.Load() {
		return 0, false, errors.New("disk I/O error")
	}
	return f.ItemRepository.Save(ctx, feedID, candidate)
}

type testEnv struct {
	states       *database.FeedStateRepository
	items        *database.ItemRepository
	analyses     *database.AnalysisRepository
	publications *database.PublicationRepository
	provider     *mockProvider
	sender       *mockSender
	configs      staticConfigs
	pipeline     *Pipeline
}

var testTargets = []cfg.Target{
	{ID: "bot", ChatID: "123"},
	{ID: "channel", ChatID: "@news"},
}

func newTestEnv(t *testing.T, opts Options, withAnalysis bool, configs ...*feed.Config) *testEnv {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	env := &testEnv{
		items:        database.NewItemRepository(db),
		analyses:     database.NewAnalysisRepository(db),
		publications: database.NewPublicationRepository(db, 0),
		provider:     newMockProvider(),
		sender:       newMockSender(),
		configs:      staticConfigs(configs),
	}

	states := database.NewFeedStateRepository(db)
	env.states = states
	runner := fetcher.NewRunner(&http.Client{}, cache.NewMemoryCache(), feed.NewParser(), states, "rss-relay-test", 2)

	deps := Deps{
		Fetcher:      runner,
		Configs:      env.configs,
		States:       states,
		Items:        env.items,
		Analyses:     env.analyses,
		Publications: env.publications,
		Prompts:      analysis.NewPromptManager(),
		Publisher:    publish.NewPublisher(env.publications, env.sender, testTargets),
	}

	if withAnalysis {
		service, err := analysis.NewService(
			[]cfg.Model{{Provider: "mock", Name: "m1"}, {Provider: "mock", Name: "m2"}},
			[]analysis.Provider{env.provider}, 0, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		deps.Analyzer = service
	}

	env.pipeline = New(deps, opts)
	return env
}

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestConfig(name, url string) *feed.Config {
	return &feed.Config{
		Name: name,
		URL:  url,
		Settings: feed.ConfigSettings{
			Enabled: true,
			Timeout: 5,
		},
	}
}

func defaultOptions() Options {
	return Options{AnalysisConcurrency: 2, MaxPublishAttempts: 5, MaxAnalysisAttempts: 3}
}

func TestRunStoresAnalyzesAndPublishesOnce(t *testing.T) {
	server := newFeedServer(t, testFeed)
	config := newTestConfig("tech", server.URL)
	env := newTestEnv(t, defaultOptions(), true, config)

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(report.Feeds) != 1 || !report.Feeds[0].Success {
		t.Fatalf("Expected one successful feed, got %+v", report.Feeds)
	}
	if report.Feeds[0].Discovered != 3 || report.Feeds[0].Stored != 3 {
		t.Errorf("Expected 3 discovered and stored, got %+v", report.Feeds[0])
	}
	if report.Analyses.Succeeded != 3 || report.Analyses.Failed != 0 {
		t.Errorf("Expected 3 successful analyses, got %+v", report.Analyses)
	}
	expectedCost := decimal.RequireFromString(completionNetCost).Mul(decimal.NewFromInt(3))
	if !report.Analyses.NetCost.Equal(expectedCost) {
		t.Errorf("Expected net cost %s, got %s", expectedCost, report.Analyses.NetCost)
	}
	if len(report.Publications) != 2 {
		t.Fatalf("Expected two targets in report, got %+v", report.Publications)
	}
	for _, target := range report.Publications {
		if target.Sent != 3 || target.Failed != 0 {
			t.Errorf("Expected 3 sends to %s, got %+v", target.Target, target)
		}
	}

	// Same payload again: nothing new is stored, analyzed or sent
	report, err = env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatalf("Expected no error on second run, got: %v", err)
	}
	if report.Feeds[0].Stored != 0 || report.Feeds[0].Duplicates != 3 {
		t.Errorf("Expected 3 duplicates on second run, got %+v", report.Feeds[0])
	}
	if report.Analyses.Succeeded != 0 {
		t.Errorf("Expected no analyses on second run, got %+v", report.Analyses)
	}

	if env.sender.count("123") != 3 || env.sender.count("@news") != 3 {
		t.Errorf("Expected exactly 3 sends per target, got bot=%d channel=%d", env.sender.count("123"), env.sender.count("@news"))
	}

	count, _ := env.items.GetItemCount(context.Background(), "tech")
	if count != 3 {
		t.Errorf("Expected 3 stored items, got %d", count)
	}

	if env.pipeline.LastReport() != report {
		t.Error("Expected last report to be the second run")
	}
}

func TestRunMessageUsesAnalysisSummary(t *testing.T) {
	server := newFeedServer(t, testFeed)
	env := newTestEnv(t, defaultOptions(), true, newTestConfig("tech", server.URL))

	if _, err := env.pipeline.Run(context.Background(), env.configs); err != nil {
		t.Fatal(err)
	}

	env.sender.mu.Lock()
	defer env.sender.mu.Unlock()

	found := false
	for _, text := range env.sender.sent["123"] {
		if strings.Contains(text, "Summary of One") && strings.Contains(text, "<i>Test Feed</i>") && strings.Contains(text, "#Go") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a message with the summary, feed title and hashtag, got %v", env.sender.sent["123"])
	}
}

func TestRunFallbackRecordsAttemptedModels(t *testing.T) {
	server := newFeedServer(t, testFeed)
	env := newTestEnv(t, defaultOptions(), true, newTestConfig("tech", server.URL))
	env.provider.setFailing("m1", &analysis.CompletionError{Provider: "mock", Model: "m1", StatusCode: http.StatusServiceUnavailable, Err: errors.New("overloaded")})

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Analyses.Succeeded != 3 {
		t.Fatalf("Expected fallback to succeed for every item, got %+v", report.Analyses)
	}

	items, err := env.items.GetAnalyzedEntries(context.Background(), "tech", DefaultPurpose, 0)
	if err != nil || len(items) != 3 {
		t.Fatalf("Expected 3 analyzed entries, got %d (%v)", len(items), err)
	}

	current, err := env.analyses.GetCurrent(context.Background(), items[0].Item.ID, DefaultPurpose)
	if err != nil {
		t.Fatal(err)
	}
	if current.ModelUsed != "mock:m2" {
		t.Errorf("Expected model used mock:m2, got %s", current.ModelUsed)
	}
	if len(current.ModelsAttempted) != 2 || current.ModelsAttempted[0] != "mock:m1" || current.ModelsAttempted[1] != "mock:m2" {
		t.Errorf("Expected attempted [mock:m1 mock:m2], got %v", current.ModelsAttempted)
	}
	if current.RunID != report.RunID {
		t.Errorf("Expected analysis to carry run id %s, got %s", report.RunID, current.RunID)
	}
}

func TestRunCrossTargetFailureAndRetry(t *testing.T) {
	server := newFeedServer(t, testFeed)
	env := newTestEnv(t, defaultOptions(), true, newTestConfig("tech", server.URL))
	env.sender.setFailing("@news", errors.New("Bad Request: chat not found"))

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}

	byTarget := make(map[string]TargetReport)
	for _, target := range report.Publications {
		byTarget[target.Target] = target
	}
	if byTarget["bot"].Sent != 3 {
		t.Errorf("Expected bot to receive 3 messages, got %+v", byTarget["bot"])
	}
	if byTarget["channel"].Failed != 3 {
		t.Errorf("Expected 3 failed channel sends, got %+v", byTarget["channel"])
	}

	env.sender.setFailing("@news", nil)

	retry, err := env.pipeline.Retry(context.Background())
	if err != nil {
		t.Fatalf("Expected no error from retry, got: %v", err)
	}
	if len(retry.Publications) != 1 || retry.Publications[0].Target != "channel" || retry.Publications[0].Sent != 3 {
		t.Errorf("Expected retry to send 3 channel messages only, got %+v", retry.Publications)
	}
	if retry.Analyses.Succeeded != 0 {
		t.Errorf("Expected no new analyses on retry, got %+v", retry.Analyses)
	}

	if env.sender.count("123") != 3 || env.sender.count("@news") != 3 {
		t.Errorf("Expected 3 sends per target, got bot=%d channel=%d", env.sender.count("123"), env.sender.count("@news"))
	}

	entries, _ := env.items.GetAnalyzedEntries(context.Background(), "tech", DefaultPurpose, 1)
	publication, err := env.publications.GetPublication(context.Background(), entries[0].Item.ID, "channel")
	if err != nil {
		t.Fatal(err)
	}
	if publication.Status != database.PublicationSent || publication.Attempts != 2 {
		t.Errorf("Expected sent after 2 attempts, got %s after %d", publication.Status, publication.Attempts)
	}
}

func TestRetryAnalyzesFailedItems(t *testing.T) {
	server := newFeedServer(t, testFeed)
	env := newTestEnv(t, defaultOptions(), true, newTestConfig("tech", server.URL))
	env.provider.setFailing("m1", errors.New("boom"))
	env.provider.setFailing("m2", errors.New("boom"))

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Analyses.Failed != 3 {
		t.Errorf("Expected 3 failed analyses, got %+v", report.Analyses)
	}
	if env.sender.count("123") != 0 {
		t.Errorf("Expected nothing published without analysis, got %d", env.sender.count("123"))
	}

	env.provider.setFailing("m1", nil)

	retry, err := env.pipeline.Retry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if retry.Analyses.Succeeded != 3 {
		t.Errorf("Expected 3 analyses on retry, got %+v", retry.Analyses)
	}
	if env.sender.count("123") != 3 || env.sender.count("@news") != 3 {
		t.Errorf("Expected 3 sends per target after retry, got bot=%d channel=%d", env.sender.count("123"), env.sender.count("@news"))
	}

	// Nothing is left to do
	again, err := env.pipeline.Retry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again.Analyses.Succeeded != 0 || len(again.Publications) != 0 {
		t.Errorf("Expected idle retry, got %+v", again)
	}
}

func TestRetryGivesUpAfterMaxAnalysisAttempts(t *testing.T) {
	server := newFeedServer(t, testFeed)
	opts := defaultOptions()
	opts.MaxAnalysisAttempts = 1
	env := newTestEnv(t, opts, true, newTestConfig("tech", server.URL))
	env.provider.setFailing("m1", errors.New("boom"))
	env.provider.setFailing("m2", errors.New("boom"))

	if _, err := env.pipeline.Run(context.Background(), env.configs); err != nil {
		t.Fatal(err)
	}

	retry, err := env.pipeline.Retry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if retry.Analyses.Succeeded+retry.Analyses.Failed != 0 {
		t.Errorf("Expected no analysis attempts after the limit, got %+v", retry.Analyses)
	}
}

func TestRunBudgetSkipsAnalyses(t *testing.T) {
	server := newFeedServer(t, testFeed)
	opts := defaultOptions()
	opts.AnalysisConcurrency = 1
	opts.RunBudget = decimal.NewNullDecimal(decimal.RequireFromString("0.0005"))
	env := newTestEnv(t, opts, true, newTestConfig("tech", server.URL))

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}

	// The second analysis starts below the budget and is allowed to finish
	if report.Analyses.Succeeded != 2 || report.Analyses.Skipped != 1 {
		t.Errorf("Expected 2 succeeded and 1 skipped, got %+v", report.Analyses)
	}

	pending, err := env.items.GetUnanalyzedItems(context.Background(), "tech", DefaultPurpose, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected the skipped item to stay unanalyzed, got %d", len(pending))
	}

	history, _ := env.analyses.GetHistory(context.Background(), pending[0].ID, DefaultPurpose)
	if len(history) != 0 {
		t.Errorf("Expected no stored analysis for a skipped item, got %d", len(history))
	}
}

func TestRunRejectsMalformedAndFiltersItems(t *testing.T) {
	body := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Mixed</title>
    <item><title>Keep</title><link>https://example.com/keep</link></item>
    <item><title>Sponsored post</title><link>https://example.com/ad</link></item>
    <item><description>Body without title or link</description></item>
  </channel>
</rss>`
	server := newFeedServer(t, body)
	config := newTestConfig("mixed", server.URL)
	config.Filters = []feed.ConfigFilter{{Field: "title", Excludes: []string{"sponsored"}}}
	env := newTestEnv(t, defaultOptions(), false, config)

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}

	fr := report.Feeds[0]
	if fr.Discovered != 3 || fr.Stored != 1 || fr.Filtered != 1 || fr.Rejected != 1 {
		t.Errorf("Expected 3 discovered, 1 stored, 1 filtered, 1 rejected, got %+v", fr)
	}

	state, err := env.pipeline.States.GetState(context.Background(), "mixed")
	if err != nil {
		t.Fatal(err)
	}
	if state.FailureCount != 0 {
		t.Errorf("Expected rejected items not to count as feed failures, got %d", state.FailureCount)
	}
}

func TestRunWithoutAnalysisPublishesDescription(t *testing.T) {
	server := newFeedServer(t, testFeed)
	env := newTestEnv(t, defaultOptions(), false, newTestConfig("tech", server.URL))

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Analyses.Succeeded+report.Analyses.Failed+report.Analyses.Skipped != 0 {
		t.Errorf("Expected no analyses, got %+v", report.Analyses)
	}
	if env.sender.count("123") != 3 {
		t.Fatalf("Expected 3 messages, got %d", env.sender.count("123"))
	}

	env.sender.mu.Lock()
	defer env.sender.mu.Unlock()
	if !strings.Contains(strings.Join(env.sender.sent["123"], "\n"), "Second body") {
		t.Error("Expected the feed description to be published")
	}
}

func TestRunFeedFailureDoesNotAbortOthers(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()
	server := newFeedServer(t, testFeed)

	env := newTestEnv(t, defaultOptions(), false,
		newTestConfig("broken", broken.URL),
		newTestConfig("tech", server.URL))

	report, err := env.pipeline.Run(context.Background(), env.configs)
	if err != nil {
		t.Fatal(err)
	}

	if report.Feeds[0].Success || report.Feeds[0].Error == "" {
		t.Errorf("Expected broken feed to fail with an error, got %+v", report.Feeds[0])
	}
	if !report.Feeds[1].Success || report.Feeds[1].Stored != 3 {
		t.Errorf("Expected healthy feed to store 3 items, got %+v", report.Feeds[1])
	}
	if report.FailedFeeds() != 1 {
		t.Errorf("Expected 1 failed feed, got %d", report.FailedFeeds())
	}
	if !strings.Contains(report.String(), "Feeds: 1 ok, 1 failed") {
		t.Errorf("Unexpected report text:\n%s", report.String())
	}
}

func TestRunStorageErrorKeepsPayloadForNextPoll(t *testing.T) {
	var notModified atomic.Int32
	newServer := func() *httptest.Server {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("If-None-Match") == `"v1"` {
				notModified.Add(1)
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			w.Write([]byte(testFeed))
		}))
		t.Cleanup(server.Close)
		return server
	}

	env := newTestEnv(t, defaultOptions(), false,
		newTestConfig("tech", newServer().URL),
		newTestConfig("news", newServer().URL))

	items := &failingItems{ItemRepository: env.items}
	env.pipeline.Items = items
	ctx := context.Background()

	items.fail.Store(true)
	if _, err := env.pipeline.Run(ctx, env.configs); err == nil {
		t.Fatal("Expected the storage error to be returned")
	}

	for _, name := range []string{"tech", "news"} {
		state, err := env.states.GetState(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if state.FetchToken != "" {
			t.Errorf("Expected no token for unstored payload of %s, got '%s'", name, state.FetchToken)
		}
	}

	items.fail.Store(false)
	report, err := env.pipeline.Run(ctx, env.configs)
	if err != nil {
		t.Fatalf("Expected no error after recovery, got: %v", err)
	}

	for i, name := range []string{"tech", "news"} {
		if report.Feeds[i].Source != string(fetcher.SourceNetwork) || report.Feeds[i].Stored != 3 {
			t.Errorf("Expected %s to store the full payload, got %+v", name, report.Feeds[i])
		}
		count, _ := env.items.GetItemCount(ctx, name)
		if count != 3 {
			t.Errorf("Expected 3 stored items for %s after recovery, got %d", name, count)
		}
	}
	if notModified.Load() != 0 {
		t.Errorf("Expected no 304 before the payload was stored, got %d", notModified.Load())
	}

	// Stored now: the token is recorded and the next poll is conditional
	report, err = env.pipeline.Run(ctx, env.configs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Feeds[0].Source != string(fetcher.SourceNotModified) {
		t.Errorf("Expected a 304 once the payload is stored, got %s", report.Feeds[0].Source)
	}
	if notModified.Load() != 2 {
		t.Errorf("Expected 2 not modified responses, got %d", notModified.Load())
	}
}

func TestRunCancelled(t *testing.T) {
	server := newFeedServer(t, testFeed)
	env := newTestEnv(t, defaultOptions(), true, newTestConfig("tech", server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.pipeline.Run(ctx, env.configs)
	if err != nil {
		t.Fatalf("Expected cancellation not to be an error, got: %v", err)
	}
	if !report.Cancelled {
		t.Error("Expected report to be marked cancelled")
	}

	count, _ := env.items.GetItemCount(context.Background(), "tech")
	if count != 0 {
		t.Errorf("Expected no items stored by a cancelled run, got %d", count)
	}
	if env.sender.count("123") != 0 {
		t.Error("Expected no sends from a cancelled run")
	}
}

func TestRunContextBudget(t *testing.T) {
	unlimited := NewRunContext(decimal.NullDecimal{})
	unlimited.Charge(decimal.NewFromInt(1000))
	if !unlimited.Allow() {
		t.Error("Expected unlimited budget to always allow")
	}

	limited := NewRunContext(decimal.NewNullDecimal(decimal.RequireFromString("0.001")))
	if !limited.Allow() {
		t.Error("Expected fresh run to be allowed")
	}
	limited.Charge(decimal.RequireFromString("0.0007"))
	limited.Charge(decimal.RequireFromString("-0.0001"))
	if !limited.Allow() {
		t.Error("Expected spend below budget to be allowed")
	}
	limited.Charge(decimal.RequireFromString("0.0004"))
	if limited.Allow() {
		t.Error("Expected exhausted budget to refuse")
	}
	if !limited.Spent().Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("Expected spent 0.001, got %s", limited.Spent())
	}

	if limited.RunID() == unlimited.RunID() || limited.RunID() == "" {
		t.Error("Expected distinct run ids")
	}
}
