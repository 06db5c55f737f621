package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFeedConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeFeedConfig(t, tempDir, "test", `
url: "https://example.com/feed.xml"

settings:
  enabled: true
  refresh_interval: 1800
  max_items: 25
  timeout: 15
  cache_ttl: 120
  extract_content: true
  analyze: false
  purpose: "digest"

targets:
  - bot
  - channel

filters:
  - field: "title"
    includes:
      - "technology"
    excludes:
      - "spam"
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 feedConfig, got %d", configCache.GetConfigCount())
	}

	feedConfig, err := configCache.GetConfig("test")
	if err != nil {
		t.Fatal(err)
	}

	if feedConfig.Name != "test" {
		t.Errorf("Expected name 'test', got '%s'", feedConfig.Name)
	}
	if feedConfig.URL != "https://example.com/feed.xml" {
		t.Errorf("Expected URL 'https://example.com/feed.xml', got '%s'", feedConfig.URL)
	}
	if feedConfig.Settings.GetRefreshInterval() != 1800*time.Second {
		t.Errorf("Expected refresh interval 1800s, got %v", feedConfig.Settings.GetRefreshInterval())
	}
	if feedConfig.Settings.MaxItems != 25 {
		t.Errorf("Expected max items 25, got %d", feedConfig.Settings.MaxItems)
	}
	if feedConfig.Settings.GetCacheTTL() != 2*time.Minute {
		t.Errorf("Expected cache TTL 2m, got %v", feedConfig.Settings.GetCacheTTL())
	}
	if !feedConfig.Settings.ExtractContent {
		t.Error("Expected extract_content to be enabled")
	}
	if feedConfig.Settings.AnalysisEnabled() {
		t.Error("Expected analysis to be disabled")
	}
	if feedConfig.Settings.Purpose != "digest" {
		t.Errorf("Expected purpose 'digest', got '%s'", feedConfig.Settings.Purpose)
	}
	if len(feedConfig.Targets) != 2 || feedConfig.Targets[0] != "bot" {
		t.Errorf("Unexpected targets: %v", feedConfig.Targets)
	}
	if len(feedConfig.Filters) != 1 {
		t.Errorf("Expected 1 filter, got %d", len(feedConfig.Filters))
	}
}

func TestConfigCacheLoadConfigWithDefaults(t *testing.T) {
	tempDir := t.TempDir()

	writeFeedConfig(t, tempDir, "test", `
url: "https://example.com/feed.xml"

settings:
  enabled: true
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	feedConfig, err := configCache.GetConfig("test")
	if err != nil {
		t.Fatal(err)
	}

	if feedConfig.Settings.GetRefreshInterval() != time.Hour {
		t.Errorf("Expected default refresh interval 1h, got %v", feedConfig.Settings.GetRefreshInterval())
	}
	if feedConfig.Settings.MaxItems != 100 {
		t.Errorf("Expected default max items 100, got %d", feedConfig.Settings.MaxItems)
	}
	if feedConfig.Settings.GetCacheTTL() != 5*time.Minute {
		t.Errorf("Expected default cache TTL 5m, got %v", feedConfig.Settings.GetCacheTTL())
	}
	if !feedConfig.Settings.AnalysisEnabled() {
		t.Error("Expected analysis to be enabled by default")
	}
	if feedConfig.Settings.Purpose != "summary" {
		t.Errorf("Expected default purpose 'summary', got '%s'", feedConfig.Settings.Purpose)
	}
	if len(feedConfig.Targets) != 0 {
		t.Errorf("Expected no explicit targets, got %v", feedConfig.Targets)
	}
}

func TestConfigCacheInvalidConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeFeedConfig(t, tempDir, "invalid", `
settings:
  enabled: true
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err == nil {
		t.Error("Expected error for invalid feedConfig")
	}
}

func TestConfigCacheEmptyDirectory(t *testing.T) {
	configCache := NewConfigCache(t.TempDir())
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 0 {
		t.Errorf("Expected 0 feedConfigs from empty directory, got %d", configCache.GetConfigCount())
	}
}

func TestConfigCacheReloadConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeFeedConfig(t, tempDir, "test", `
url: "https://example.com/feed.xml"
settings:
  enabled: true
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	writeFeedConfig(t, tempDir, "test", `
url: "https://example.com/new-feed.xml"
settings:
  enabled: true
  max_items: 50
`)

	reloadedConfig, err := configCache.LoadConfig("test")
	if err != nil {
		t.Fatal(err)
	}

	if reloadedConfig.URL != "https://example.com/new-feed.xml" {
		t.Errorf("Expected updated URL 'https://example.com/new-feed.xml', got '%s'", reloadedConfig.URL)
	}
	if reloadedConfig.Settings.MaxItems != 50 {
		t.Errorf("Expected updated max_items 50, got %d", reloadedConfig.Settings.MaxItems)
	}

	if _, err := configCache.LoadConfig("nonexistent"); err == nil {
		t.Error("Expected error for non-existent config")
	}

	writeFeedConfig(t, tempDir, "test", `invalid yaml content`)
	if _, err := configCache.LoadConfig("test"); err == nil {
		t.Error("Expected error for invalid config file")
	}
}

func TestConfigCacheGetEnabledList(t *testing.T) {
	tempDir := t.TempDir()

	writeFeedConfig(t, tempDir, "zeta", "url: \"https://example.com/z.xml\"\nsettings:\n  enabled: true\n")
	writeFeedConfig(t, tempDir, "alpha", "url: \"https://example.com/a.xml\"\nsettings:\n  enabled: true\n")
	writeFeedConfig(t, tempDir, "off", "url: \"https://example.com/o.xml\"\nsettings:\n  enabled: false\n")

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	list := configCache.GetEnabledList()
	if len(list) != 2 {
		t.Fatalf("Expected 2 enabled configs, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Errorf("Expected [alpha zeta], got [%s %s]", list[0].Name, list[1].Name)
	}

	allConfigs := configCache.GetConfigs()
	delete(allConfigs, "alpha")
	if configCache.GetConfigCount() != 3 {
		t.Error("Modifying returned configs map affected the cache")
	}
}

func TestConfigCacheValidateConfig(t *testing.T) {
	configCache := NewConfigCache("")

	if err := configCache.validateConfig(nil); err == nil {
		t.Error("Expected error for nil feedConfig, got none")
	}

	valid := func() *Config {
		return &Config{
			Name: "test-feed",
			URL:  "https://example.com/feed.xml",
			Settings: ConfigSettings{
				RefreshInterval: 3600,
				MaxItems:        100,
				Timeout:         30,
				CacheTTL:        300,
			},
		}
	}

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"empty URL", func(c *Config) { c.URL = "" }},
		{"negative refresh interval", func(c *Config) { c.Settings.RefreshInterval = -1 }},
		{"negative max items", func(c *Config) { c.Settings.MaxItems = -1 }},
		{"negative timeout", func(c *Config) { c.Settings.Timeout = -1 }},
		{"negative cache TTL", func(c *Config) { c.Settings.CacheTTL = -1 }},
		{"invalid filter field", func(c *Config) {
			c.Filters = []ConfigFilter{{Field: "invalid_field", Includes: []string{"test"}}}
		}},
		{"filter without rules", func(c *Config) {
			c.Filters = []ConfigFilter{{Field: "title"}}
		}},
		{"empty target", func(c *Config) { c.Targets = []string{"bot", " "} }},
		{"duplicate target", func(c *Config) { c.Targets = []string{"bot", "bot"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.modify(config)
			if err := configCache.validateConfig(config); err == nil {
				t.Errorf("Expected error for %s, got none", tt.name)
			}
		})
	}

	if err := configCache.validateConfig(valid()); err != nil {
		t.Errorf("Expected no error for valid feedConfig, got: %v", err)
	}
}
