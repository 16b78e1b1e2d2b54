// Package catalog provides the product catalog abstraction for nxt-catalog.
// It defines the core data types shared by the admin core, the remote client
// and the storage backends, plus the Repository interface backends implement.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by backends when a product id is unknown.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrInvalid is returned by backends when a write fails validation.
	ErrInvalid = errors.New("catalog: invalid product")
)

// Product is a catalog entry as the backend stores and returns it.
type Product struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`

	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle,omitempty"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Active      bool    `json:"active"`

	// ThumbnailImage is the single cover image path or URL.
	ThumbnailImage string `json:"thumbnail_image,omitempty"`

	// FeatureImages is the backend's as-stored feature image field. Its shape
	// is not guaranteed: array, JSON-encoded array string, comma string,
	// scalar or null. It is kept verbatim and never rewritten by the core.
	FeatureImages json.RawMessage `json:"feature_images,omitempty"`

	// Legacy aliases some records still carry instead of, or alongside,
	// feature_images. They are unioned by the normalizer.
	FeatureImagesAlt json.RawMessage `json:"featureImages,omitempty"`
	Images           json.RawMessage `json:"images,omitempty"`
	Gallery          json.RawMessage `json:"gallery,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImageFields returns the raw feature image fields in alias priority order,
// skipping empty ones and explicit JSON nulls.
func (p Product) ImageFields() []json.RawMessage {
	var out []json.RawMessage
	for _, f := range []json.RawMessage{p.FeatureImages, p.FeatureImagesAlt, p.Images, p.Gallery} {
		trimmed := bytes.TrimSpace(f)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Clone returns a deep copy of p so raw fields can be handed out without
// sharing backing arrays.
func (p Product) Clone() Product {
	p.FeatureImages = cloneRaw(p.FeatureImages)
	p.FeatureImagesAlt = cloneRaw(p.FeatureImagesAlt)
	p.Images = cloneRaw(p.Images)
	p.Gallery = cloneRaw(p.Gallery)
	return p
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

// FieldErrors maps a product field name to its validation messages, in the
// shape the catalog API returns them.
type FieldErrors map[string][]string

// Add appends msg to the messages recorded for field.
func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// ProductUpdate carries the editable scalar fields of a product write.
// Nil pointer fields are left unchanged.
type ProductUpdate struct {
	Title       *string  `json:"title,omitempty"`
	Subtitle    *string  `json:"subtitle,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Active      *bool    `json:"active,omitempty"`

	// ThumbnailImage replaces the stored thumbnail path when non-nil.
	ThumbnailImage *string `json:"thumbnail_image,omitempty"`
}

// Apply copies every non-nil field of u onto p.
func (u ProductUpdate) Apply(p *Product) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Subtitle != nil {
		p.Subtitle = *u.Subtitle
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Active != nil {
		p.Active = *u.Active
	}
	if u.ThumbnailImage != nil {
		p.ThumbnailImage = *u.ThumbnailImage
	}
}

// Repository is the interface storage backends satisfy.
type Repository interface {
	// List returns every product in storage order.
	List() ([]Product, error)

	// ProductByID returns a single product or ErrNotFound.
	ProductByID(id string) (*Product, error)

	// CreateProduct assigns an id and timestamps and stores p.
	CreateProduct(p Product) (*Product, error)

	// UpdateProduct replaces the stored product with the same id.
	UpdateProduct(p Product) (*Product, error)

	// DeleteProduct removes the product or returns ErrNotFound.
	DeleteProduct(id string) error
}

// Refresher is an optional interface for backends that can reload their
// index from the underlying store.
type Refresher interface {
	Refresh() error
}
