package staging

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned for files outside the image allow-list.
	ErrUnsupportedType = errors.New("staging: unsupported media type")
	// ErrFileTooLarge is returned for files larger than Limits.MaxFileSize.
	ErrFileTooLarge = errors.New("staging: file too large")
	// ErrTooManyImages is returned when a batch would exceed Limits.MaxImages.
	ErrTooManyImages = errors.New("staging: too many images")
	// ErrThumbnailRequired is returned by Validate when the product would be
	// left without a thumbnail.
	ErrThumbnailRequired = errors.New("staging: thumbnail required")
)

// Field names errors are reported under. They match the catalog API fields.
const (
	FieldFeatureImages = "feature_images"
	FieldThumbnail     = "thumbnail_image"
)

// ValidationError is a rejected edit attached to a form field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
