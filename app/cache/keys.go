package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// GenerateFeedKey generates a consistent cache key for a feed URL
func GenerateFeedKey(feedURL string) string {
	hash := sha256.Sum256([]byte(feedURL))
	return fmt.Sprintf("feed:%x", hash[:8]) // first 8 bytes keep keys short
}

type envelope struct {
	URL       string `json:"url"`
	Content   []byte `json:"content"`
	CachedAt  int64  `json:"cached_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func encodeEnvelope(feedURL string, data []byte, now time.Time, ttl time.Duration) ([]byte, error) {
	encoded, err := json.Marshal(envelope{
		URL:       feedURL,
		Content:   data,
		CachedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed data: %w", err)
	}
	return encoded, nil
}

// decodeEnvelope reports a miss for undecodable, foreign or expired entries
func decodeEnvelope(raw []byte, feedURL string, now time.Time) ([]byte, bool) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if e.URL != feedURL || e.Content == nil {
		return nil, false
	}
	if e.ExpiresAt > 0 && now.Unix() >= e.ExpiresAt {
		return nil, false
	}
	return e.Content, true
}
