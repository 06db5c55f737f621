package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/text/unicode/norm"
)

const normalizeFlags = purell.FlagsUsuallySafeGreedy | purell.FlagRemoveFragment | purell.FlagSortQuery

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"yclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// ContentKey derives the deduplication identity of an entry: the GUID when
// the feed provides one, otherwise the normalized link. Entries with neither
// fall back to the title so they still deduplicate within a feed.
func ContentKey(guid, link, title string) string {
	if g := norm.NFC.String(strings.TrimSpace(guid)); g != "" {
		return hashKey("guid", g)
	}
	if l := NormalizeLink(link); l != "" {
		return hashKey("link", l)
	}
	if t := norm.NFC.String(strings.TrimSpace(title)); t != "" {
		return hashKey("title", t)
	}
	return ""
}

// NormalizeLink canonicalizes a link for identity purposes: lowercased scheme
// and host, no default port, fragment, trailing slash or tracking parameters,
// and sorted query parameters.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	u, err := url.Parse(link)
	if err != nil {
		return link
	}

	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()

	normalized := purell.NormalizeURL(u, normalizeFlags)
	if normalized == "" {
		return link
	}
	return normalized
}

func hashKey(kind, value string) string {
	hash := sha256.Sum256([]byte(kind + "\x00" + value))
	return hex.EncodeToString(hash[:])
}
