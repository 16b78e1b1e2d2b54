package media

import "github.com/banux/nxt-catalog/internal/catalog"

// BuildGallery composes the presentation gallery of p: the thumbnail first,
// then the normalized feature images, deduplicated left to right by resolved
// URL. No two entries of the result are equal.
func BuildGallery(p catalog.Product, r Resolver, tok Token) []string {
	paths := make([]string, 0, 1)
	if p.ThumbnailImage != "" {
		paths = append(paths, p.ThumbnailImage)
	}
	paths = append(paths, RawFeaturePaths(p)...)
	return dedupResolved(paths, r, tok, make([]string, 0, len(paths)))
}
