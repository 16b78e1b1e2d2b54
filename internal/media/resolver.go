// Package media derives display data for product images: URL resolution,
// normalization of the backend's feature image shapes, gallery composition,
// preview-to-backend index reconciliation, the per-product featured image
// cursor and the image load cache with its cache-busting token.
package media

import (
	"strings"
)

// TokenParam is the query parameter carrying the cache-busting token.
const TokenParam = "v"

// Token is an opaque cache-busting value appended to every resolved URL.
// The empty Token appends nothing.
type Token string

// Resolver maps raw stored image paths to fully-qualified display URLs.
type Resolver struct {
	// FileRoot is the base URL stored files are served from
	// (e.g. "https://api.example.com"). Empty yields root-relative URLs.
	FileRoot string
}

// Resolve returns the display URL for raw with tok appended as the last
// query parameter. Blank input resolves to "".
//
// Absolute http(s) URLs pass through with their query preserved. Relative
// paths lose leading slashes; "storage/" paths are joined to FileRoot,
// "public/" is rewritten to "storage/", and anything else is assumed to live
// under "storage/". data: and blob: URIs are returned unchanged.
//
// For a fixed tok the result is byte-identical across calls, so it is safe to
// use as a map key.
func (r Resolver) Resolve(raw string, tok Token) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "data:"), strings.HasPrefix(lower, "blob:"):
		return raw
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return appendToken(raw, tok)
	}

	p := strings.TrimLeft(raw, "/")
	switch {
	case strings.HasPrefix(p, "storage/"):
		// already rooted under storage/
	case strings.HasPrefix(p, "public/"):
		p = "storage/" + strings.TrimPrefix(p, "public/")
	default:
		p = "storage/" + p
	}
	return appendToken(strings.TrimRight(r.FileRoot, "/")+"/"+p, tok)
}

// appendToken adds v=tok to u, keeping any existing query and fragment.
func appendToken(u string, tok Token) string {
	if tok == "" {
		return u
	}
	fragment := ""
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u, fragment = u[:i], u[i:]
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
		if strings.HasSuffix(u, "?") || strings.HasSuffix(u, "&") {
			sep = ""
		}
	}
	return u + sep + TokenParam + "=" + string(tok) + fragment
}

// baseName returns the final path segment of u with query and fragment removed.
func baseName(u string) string {
	u = stripQuery(u)
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		return u[i+1:]
	}
	return u
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
