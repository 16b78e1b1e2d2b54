package media

import "strings"

// Reconciler maps each normalized preview back to the position its image
// occupies in the raw backend array, so removals can be sent by that position.
// The returned slice has one entry per preview.
type Reconciler interface {
	Reconcile(raw []string, previews []string) []int
}

// FilenameReconciler matches previews to raw entries by file name or by
// substring containment.
//
// For each preview the raw array is scanned in order and the first entry
// whose final path segment equals the preview's, or whose value is contained
// in the preview URL (or contains it), wins. Without a match the preview's own
// position is used. Raw entries are not claimed, so two previews sharing a
// file name map to the same index.
type FilenameReconciler struct{}

// Reconcile implements Reconciler.
func (FilenameReconciler) Reconcile(raw []string, previews []string) []int {
	out := make([]int, len(previews))
	for i, preview := range previews {
		out[i] = i
		name := baseName(preview)
		for j, candidate := range raw {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			if (name != "" && baseName(candidate) == name) ||
				strings.Contains(preview, candidate) ||
				strings.Contains(candidate, preview) {
				out[i] = j
				break
			}
		}
	}
	return out
}
