package media

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/banux/nxt-catalog/internal/catalog"
)

// imageObjectKeys lists the object fields that may carry an image path, in
// order of preference.
var imageObjectKeys = []string{"url", "path", "full_url"}

// RawFeaturePaths flattens every feature image alias of p into the ordered,
// unresolved list of stored paths. It is the positional view the backend
// uses for removals: duplicates are kept and nothing is resolved.
// Malformed entries are skipped.
func RawFeaturePaths(p catalog.Product) []string {
	var out []string
	for _, field := range p.ImageFields() {
		for _, el := range candidateElements(field) {
			if path, ok := elementPath(el); ok {
				out = append(out, path)
			}
		}
	}
	return out
}

// NormalizeFeatureImages returns the resolved, deduplicated feature image URLs
// of p in backend order. The result is never nil and malformed input only
// ever shortens it.
func NormalizeFeatureImages(p catalog.Product, r Resolver, tok Token) []string {
	return dedupResolved(RawFeaturePaths(p), r, tok, make([]string, 0))
}

// dedupResolved resolves each path and appends it to out unless an identical
// URL is already present.
func dedupResolved(paths []string, r Resolver, tok Token, out []string) []string {
	seen := make(map[string]struct{}, len(out)+len(paths))
	for _, u := range out {
		seen[u] = struct{}{}
	}
	for _, p := range paths {
		u := r.Resolve(p, tok)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// candidateElements decodes one raw field into its list of elements.
func candidateElements(raw json.RawMessage) []any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return expand(v)
}

// expand applies the shape fallback chain to a decoded field value.
func expand(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case string:
		return expandString(t)
	case map[string]any, float64:
		return []any{t}
	default:
		return nil
	}
}

// expandString handles the two string encodings: a JSON-encoded array, or a
// comma separated list. A string that parses as JSON but not as an array is
// treated as a list.
func expandString(s string) []any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return arr
	}
	var out []any
	for _, part := range strings.Split(s, ",") {
		// Leftovers of broken JSON ("[", quotes) are stripped along with spaces.
		part = strings.Trim(part, " \t\r\n\"'[]")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// elementPath extracts the stored path from a single element.
func elementPath(el any) (string, bool) {
	switch t := el.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case map[string]any:
		for _, key := range imageObjectKeys {
			if s, ok := t[key].(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}
