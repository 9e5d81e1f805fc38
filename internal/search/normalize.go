package search

import (
	"sort"
	"strings"
	"time"

	"github.com/docser/docser/models"
)

// fieldPath addresses one candidate location of a logical attribute inside a
// nested JSON object. Attributes are resolved from an ordered list of paths;
// the first non-empty hit wins.
type fieldPath []string

func valueAt(item map[string]any, path fieldPath) (any, bool) {
	var cur any = item
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringAt(item map[string]any, paths ...fieldPath) string {
	for _, p := range paths {
		if v, ok := valueAt(item, p); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func numberAt(item map[string]any, paths ...fieldPath) (float64, bool) {
	for _, p := range paths {
		if v, ok := valueAt(item, p); ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// titleFromURL derives a readable title from the last path segment of a
// document URL: extension stripped, underscores replaced with spaces.
// "/sites/hr/Travel_Expense_Policy.pdf" becomes "Travel Expense Policy".
func titleFromURL(rawURL string) string {
	seg := rawURL
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	if i := strings.LastIndex(seg, "."); i >= 0 {
		seg = seg[:i]
	}
	return strings.ReplaceAll(seg, "_", " ")
}

// fileTypeFromURL reads the lowercase extension off the last path segment of
// a URL, "unknown" when there is none. Scoping to the segment keeps host dots
// from masquerading as extensions.
func fileTypeFromURL(rawURL string) string {
	seg := rawURL
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	i := strings.LastIndex(seg, ".")
	if i < 0 || i+1 == len(seg) {
		return "unknown"
	}
	return strings.ToLower(seg[i+1:])
}

func parseTimestamp(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// rankAndLimit orders chunks by non-increasing relevance score, preserving
// backend order on ties, and truncates to top.
func rankAndLimit(chunks []models.DocumentChunk, top int) []models.DocumentChunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].RelevanceScore > chunks[j].RelevanceScore
	})
	if top > 0 && len(chunks) > top {
		chunks = chunks[:top]
	}
	return chunks
}
