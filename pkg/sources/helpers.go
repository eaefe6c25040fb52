package sources

import (
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageSize    = 100
	defaultMaxRetries  = 3
	defaultHTTPTimeout = 15 * time.Second
)

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}

// unixTime converts an upstream epoch-seconds field, tolerating zero.
func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// parseUpstreamDate tries the layouts the REST sources actually emit.
func parseUpstreamDate(raw string, layouts ...string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// dedupeNames keeps first occurrence of each non-empty name, exact match.
func dedupeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// pagesFor derives how many pages cover maxItems at itemsPerPage without
// over-fetching by more than one page's worth.
func pagesFor(maxItems, itemsPerPage int) int {
	if itemsPerPage <= 0 {
		return 0
	}
	if maxItems <= 0 {
		return 0
	}
	return (maxItems + itemsPerPage - 1) / itemsPerPage
}

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
