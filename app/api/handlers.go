package api

import (
	"cmp"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

func NewHandler(configCache *feed.ConfigCache, states database.FeedStateRepositoryInterface,
	items database.ItemRepositoryInterface, analyses database.AnalysisRepositoryInterface,
	publications database.PublicationRepositoryInterface, relay Relay,
	scheduler tasks.TaskSchedulerInterface, baseURL string) *Handler {
	return &Handler{
		configCache:  configCache,
		states:       states,
		items:        items,
		analyses:     analyses,
		publications: publications,
		generator:    feed.NewGenerator(baseURL),
		relay:        relay,
		scheduler:    scheduler,
	}
}

// GetFeed serves the analyzed items of a feed as RSS
func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		slog.Error("Feed configuration not found", "feed", name, "error", err)
		c.Status(http.StatusNotFound)
		return
	}

	ctx := c.Request.Context()

	var metadata feed.Metadata
	var lastUpdated *time.Time
	state, err := h.states.GetState(ctx, name)
	switch {
	case err == nil:
		metadata = feed.Metadata{Title: state.Title, Link: state.Link, Description: state.Description}
		lastUpdated = state.LastFetchAt
	case !errors.Is(err, database.ErrNotFound):
		slog.Error("Database error", "operation", "get_state", "feed", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	purpose := cmp.Or(feedConfig.Settings.Purpose, pipeline.DefaultPurpose)
	analyzed, err := h.items.GetAnalyzedEntries(ctx, name, purpose, feedConfig.Settings.MaxItems)
	if err != nil {
		slog.Error("Database error", "operation", "get_analyzed_entries", "feed", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	entries := make([]feed.Entry, 0, len(analyzed))
	for _, a := range analyzed {
		entries = append(entries, feed.Entry{
			Item: feed.Item{
				GUID:        a.Item.GUID,
				Title:       a.Item.Title,
				Link:        a.Item.Link,
				Description: a.Item.Description,
				Content:     a.Item.Content,
				PublishedAt: a.Item.PublishedAt,
				Authors:     a.Item.Authors,
				Categories:  a.Item.Categories,
			},
			Summary:  a.Summary,
			StoredAt: a.Item.CreatedAt,
		})
	}

	rss, err := h.generator.Run(name, metadata, entries)
	if err != nil {
		slog.Error("RSS generation error", "feed", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(entries)))
	c.Header("X-Feed-Name", name)
	if lastUpdated != nil {
		c.Header("X-Last-Updated", lastUpdated.Format(time.RFC3339))
	}

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]any{
		"status":                "ok",
		"version":               cfg.GetVersion(),
		"timestamp":             time.Now().In(time.Local).Format(time.RFC3339),
		"loaded_configurations": h.configCache.GetConfigCount(),
	}

	if h.scheduler != nil {
		health["scheduler"] = h.scheduler.Health()
	}

	if report := h.relay.LastReport(); report != nil {
		health["last_run_at"] = report.FinishedAt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, health)
}

// GetStats reports stored items, analyses, AI spend and deliveries
func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	feedStats, err := h.items.GetFeedStats(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	succeeded, failed, err := h.analyses.GetStats(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_analysis_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	totalCost, err := h.analyses.TotalNetCost(ctx, time.Time{})
	if err != nil {
		slog.Error("Database error", "operation", "total_net_cost", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	dayCost, err := h.analyses.TotalNetCost(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		slog.Error("Database error", "operation", "total_net_cost", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	targetStats, err := h.publications.GetStats(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_publication_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	totalItems := 0
	feeds := make([]gin.H, 0, len(feedStats))
	for _, fs := range feedStats {
		totalItems += fs.Items
		feeds = append(feeds, gin.H{
			"name":         fs.FeedID,
			"items":        fs.Items,
			"analyzed":     fs.Analyzed,
			"last_item_at": fs.LastItem,
		})
	}

	publications := make([]gin.H, 0, len(targetStats))
	for _, ts := range targetStats {
		publications = append(publications, gin.H{
			"target":  ts.Target,
			"pending": ts.Pending,
			"sent":    ts.Sent,
			"failed":  ts.Failed,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"items": totalItems,
		"analyses": gin.H{
			"succeeded": succeeded,
			"failed":    failed,
		},
		"net_cost": gin.H{
			"total":    totalCost.String(),
			"last_24h": dayCost.String(),
		},
		"publications": publications,
	})
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	ctx := c.Request.Context()
	configs := h.configCache.GetConfigs()

	feeds := make([]map[string]any, 0, len(configs))

	for _, name := range slices.Sorted(maps.Keys(configs)) {
		feedConfig := configs[name]

		feedInfo := map[string]any{
			"name":             feedConfig.Name,
			"url":              feedConfig.URL,
			"title":            "",
			"enabled":          feedConfig.Settings.Enabled,
			"max_items":        feedConfig.Settings.MaxItems,
			"refresh_interval": feedConfig.Settings.GetRefreshInterval().String(),
			"analyze":          feedConfig.Settings.AnalysisEnabled(),
			"targets":          feedConfig.Targets,
			"filters":          len(feedConfig.Filters),
		}

		if state, err := h.states.GetState(ctx, name); err == nil {
			feedInfo["title"] = state.Title
			feedInfo["last_fetch_at"] = state.LastFetchAt
			feedInfo["last_attempt_at"] = state.LastAttemptAt
			feedInfo["failure_count"] = state.FailureCount
			feedInfo["last_error"] = state.LastError
		}

		if itemCount, err := h.items.GetItemCount(ctx, name); err == nil {
			feedInfo["item_count"] = itemCount
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]any{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APIGetLastRun(c *gin.Context) {
	report := h.relay.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has completed yet"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// APIRefreshFeed queues an immediate pipeline run over one feed
func (h *Handler) APIRefreshFeed(c *gin.Context) {
	name := c.Param("name")

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	if !feedConfig.Settings.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed is disabled"})
		return
	}

	task := tasks.NewProcessFeedTask(feedConfig, h.relay)
	h.enqueue(c, task, name)
}

// APIReloadFeed queues a re-read of the feed's configuration file
func (h *Handler) APIReloadFeed(c *gin.Context) {
	name := c.Param("name")

	task := tasks.NewSyncFeedConfigTask(name, h.configCache)
	h.enqueue(c, task, name)
}

func (h *Handler) enqueue(c *gin.Context, task tasks.TaskInterface, name string) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is not running"})
		return
	}

	err := h.scheduler.EnqueueTask(task)
	if errors.Is(err, tasks.ErrTaskActive) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Task already queued or running",
			"details": err.Error(),
		})
		return
	}
	if err != nil {
		slog.Error("Error enqueueing task", "type", string(task.GetType()), "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"feed":    name,
		"task": gin.H{
			"id":   task.GetID(),
			"type": task.GetType(),
		},
	})
}
