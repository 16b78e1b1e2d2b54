package staging

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banux/nxt-catalog/internal/catalog"
)

// Default limits.
const (
	DefaultMaxImages   = 10
	DefaultMaxFileSize = 5 << 20
)

// allowedTypes is the upload allow-list for product images.
var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// AllowedType reports whether mediaType is an accepted image type.
func AllowedType(mediaType string) bool {
	_, ok := allowedTypes[mediaType]
	return ok
}

// Limits bounds what a session accepts.
type Limits struct {
	// MaxImages caps existing plus staged feature images.
	MaxImages int
	// MaxFileSize caps a single file, in bytes.
	MaxFileSize int64
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{MaxImages: DefaultMaxImages, MaxFileSize: DefaultMaxFileSize}
}

// ExistingPreview is an already-stored feature image shown in the form.
type ExistingPreview struct {
	DisplayURL string
	// OriginalIndex is the position of the image in the backend's raw array.
	OriginalIndex int
}

// Option configures a Session.
type Option func(*Session)

// WithLimits overrides DefaultLimits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(s *Session) {
		if l.MaxImages > 0 {
			s.limits.MaxImages = l.MaxImages
		}
		if l.MaxFileSize > 0 {
			s.limits.MaxFileSize = l.MaxFileSize
		}
	}
}

// WithPreviewer replaces DataURIPreview.
func WithPreviewer(p Previewer) Option {
	return func(s *Session) {
		if p != nil {
			s.previewer = p
		}
	}
}

// Session is the staged media state of one create or edit form.
// It is owned by a single form and is not safe for concurrent use.
type Session struct {
	limits    Limits
	previewer Previewer

	productID string

	existing    []ExistingPreview
	newFiles    []FileHandle
	newPreviews []string
	removed     map[int]struct{}

	thumbURL     string
	thumbFile    *FileHandle
	thumbPreview string
	thumbRemoved bool

	errors map[string]string
}

func newSession(opts []Option) *Session {
	s := &Session{
		limits:    DefaultLimits(),
		previewer: DataURIPreview,
		removed:   make(map[int]struct{}),
		errors:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewCreateSession returns an empty session for a new product.
func NewCreateSession(opts ...Option) *Session {
	return newSession(opts)
}

// NewEditSession returns a session pre-populated with the stored thumbnail
// and feature images of productID.
func NewEditSession(productID, thumbnailURL string, existing []ExistingPreview, opts ...Option) *Session {
	s := newSession(opts)
	s.productID = productID
	s.thumbURL = thumbnailURL
	s.existing = append([]ExistingPreview(nil), existing...)
	return s
}

// ProductID returns the edited product id, or "" for a create session.
func (s *Session) ProductID() string { return s.productID }

// IsEdit reports whether the session edits an existing product.
func (s *Session) IsEdit() bool { return s.productID != "" }

// Limits returns the effective limits.
func (s *Session) Limits() Limits { return s.limits }

// Existing returns the stored feature images still kept.
func (s *Session) Existing() []ExistingPreview {
	return append([]ExistingPreview(nil), s.existing...)
}

// NewFiles returns the staged files in staging order.
func (s *Session) NewFiles() []FileHandle {
	return append([]FileHandle(nil), s.newFiles...)
}

// NewPreviews returns the previews of NewFiles, positionally aligned.
func (s *Session) NewPreviews() []string {
	return append([]string(nil), s.newPreviews...)
}

// ImageCount returns existing plus staged feature images.
func (s *Session) ImageCount() int {
	return len(s.existing) + len(s.newFiles)
}

// StageNewImages validates files and stages them with their previews.
//
// The batch is rejected whole, without mutation, when any file has an
// unsupported type, exceeds MaxFileSize, or when the batch would push the
// image count over MaxImages. Previews are generated concurrently; if any
// fails nothing is staged.
func (s *Session) StageNewImages(ctx context.Context, files []FileHandle) error {
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if err := s.checkFile(FieldFeatureImages, f); err != nil {
			return err
		}
	}
	if total := s.ImageCount() + len(files); total > s.limits.MaxImages {
		return s.fail(&ValidationError{
			Field:  FieldFeatureImages,
			Reason: fmt.Sprintf("at most %d images allowed, got %d", s.limits.MaxImages, total),
			Err:    ErrTooManyImages,
		})
	}

	previews := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			p, err := s.previewer(gctx, f)
			if err != nil {
				return fmt.Errorf("preview %s: %w", f.Name, err)
			}
			previews[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.newFiles = append(s.newFiles, files...)
	s.newPreviews = append(s.newPreviews, previews...)
	delete(s.errors, FieldFeatureImages)
	return nil
}

func (s *Session) checkFile(field string, f FileHandle) error {
	if !AllowedType(f.MediaType()) {
		return s.fail(&ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%s: type %q is not an accepted image type", f.Name, f.ContentType),
			Err:    ErrUnsupportedType,
		})
	}
	if f.Size > s.limits.MaxFileSize {
		return s.fail(&ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%s: %d bytes exceeds the %d byte limit", f.Name, f.Size, s.limits.MaxFileSize),
			Err:    ErrFileTooLarge,
		})
	}
	return nil
}

func (s *Session) fail(err *ValidationError) error {
	s.errors[err.Field] = err.Reason
	return err
}

// RemoveExisting drops the existing preview at previewIndex and records its
// OriginalIndex for removal. Remaining entries keep their OriginalIndex.
// Out-of-range indexes are ignored.
func (s *Session) RemoveExisting(previewIndex int) {
	if previewIndex < 0 || previewIndex >= len(s.existing) {
		return
	}
	s.removed[s.existing[previewIndex].OriginalIndex] = struct{}{}
	s.existing = append(s.existing[:previewIndex], s.existing[previewIndex+1:]...)
}

// RemoveNew unstages the file at stagedIndex together with its preview.
func (s *Session) RemoveNew(stagedIndex int) {
	if stagedIndex < 0 || stagedIndex >= len(s.newFiles) {
		return
	}
	s.newFiles = append(s.newFiles[:stagedIndex], s.newFiles[stagedIndex+1:]...)
	s.newPreviews = append(s.newPreviews[:stagedIndex], s.newPreviews[stagedIndex+1:]...)
}

// RemovedIndices returns the original indexes marked for removal, ascending.
func (s *Session) RemovedIndices() []int {
	out := make([]int, 0, len(s.removed))
	for i := range s.removed {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// HasPendingRemovals reports whether any stored image is marked for removal.
func (s *Session) HasPendingRemovals() bool { return len(s.removed) > 0 }

// HasPendingAdditions reports whether any new feature image is staged.
func (s *Session) HasPendingAdditions() bool { return len(s.newFiles) > 0 }

// NeedsMultipart reports whether submitting the session requires a
// multipart body rather than plain JSON.
func (s *Session) NeedsMultipart() bool {
	return s.HasPendingAdditions() || s.HasPendingRemovals() || s.thumbFile != nil
}

// StageThumbnail replaces the thumbnail with f.
func (s *Session) StageThumbnail(ctx context.Context, f FileHandle) error {
	if err := s.checkFile(FieldThumbnail, f); err != nil {
		return err
	}
	p, err := s.previewer(ctx, f)
	if err != nil {
		return fmt.Errorf("preview %s: %w", f.Name, err)
	}
	s.thumbFile = &f
	s.thumbPreview = p
	s.thumbRemoved = false
	delete(s.errors, FieldThumbnail)
	return nil
}

// RemoveThumbnail clears both the staged and the stored thumbnail.
func (s *Session) RemoveThumbnail() {
	s.thumbFile = nil
	s.thumbPreview = ""
	s.thumbRemoved = true
}

// Thumbnail returns the URL to display in the thumbnail slot: the staged
// preview, else the stored thumbnail unless removed.
func (s *Session) Thumbnail() string {
	switch {
	case s.thumbFile != nil:
		return s.thumbPreview
	case s.thumbRemoved:
		return ""
	default:
		return s.thumbURL
	}
}

// ThumbnailFile returns the staged thumbnail, or nil.
func (s *Session) ThumbnailFile() *FileHandle {
	if s.thumbFile == nil {
		return nil
	}
	f := *s.thumbFile
	return &f
}

// Validate checks the session before submission.
func (s *Session) Validate() error {
	if s.Thumbnail() == "" {
		return s.fail(&ValidationError{
			Field:  FieldThumbnail,
			Reason: "a thumbnail image is required",
			Err:    ErrThumbnailRequired,
		})
	}
	return nil
}

// ApplyServerErrors records the per-field messages returned by the API.
func (s *Session) ApplyServerErrors(fe catalog.FieldErrors) {
	for field, msgs := range fe {
		if len(msgs) == 0 {
			continue
		}
		s.errors[field] = strings.Join(msgs, " ")
	}
}

// FieldErrors returns a copy of the current per-field messages.
func (s *Session) FieldErrors() map[string]string {
	out := make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// ClearErrors drops every recorded message.
func (s *Session) ClearErrors() {
	s.errors = make(map[string]string)
}
