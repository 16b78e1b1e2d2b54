// Package fs implements a file-based product backend for nxt-catalog.
// Products are kept in an in-memory index and persisted as a single JSON
// document at {dir}/.products.json.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banux/nxt-catalog/internal/catalog"
)

const dataFilename = ".products.json"

// Backend is a file-based product backend.
type Backend struct {
	root     string
	dataPath string // {root}/.products.json
	now      func() time.Time

	mu       sync.RWMutex
	products []catalog.Product
	byID     map[string]int // product ID -> index in products
}

// New creates a backend rooted at dir and loads any persisted products.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	b := &Backend{
		root:     dir,
		dataPath: filepath.Join(dir, dataFilename),
		now:      time.Now,
		byID:     make(map[string]int),
	}
	if err := b.Refresh(); err != nil {
		return nil, err
	}
	return b, nil
}

// Refresh reloads the index from disk. A missing file is an empty catalog.
// It implements catalog.Refresher.
func (b *Backend) Refresh() error {
	var products []catalog.Product

	data, err := os.ReadFile(b.dataPath)
	switch {
	case os.IsNotExist(err):
		// nothing persisted yet
	case err != nil:
		return fmt.Errorf("read products: %w", err)
	default:
		if err := json.Unmarshal(data, &products); err != nil {
			return fmt.Errorf("parse %s: %w", b.dataPath, err)
		}
	}

	byID := make(map[string]int, len(products))
	for i, p := range products {
		byID[p.ID] = i
	}

	b.mu.Lock()
	b.products = products
	b.byID = byID
	b.mu.Unlock()
	return nil
}

// save persists b.products. Must be called with b.mu held.
func (b *Backend) save() error {
	products := b.products
	if products == nil {
		products = []catalog.Product{}
	}
	// Not indented: raw image fields would be re-indented on every round trip.
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}

	// Write to a temp file first, then rename
	tmp, err := os.CreateTemp(b.root, ".products-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write products: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.dataPath); err != nil {
		return fmt.Errorf("rename products: %w", err)
	}
	return nil
}

// List returns every product in insertion order.
func (b *Backend) List() ([]catalog.Product, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]catalog.Product, len(b.products))
	for i, p := range b.products {
		out[i] = p.Clone()
	}
	return out, nil
}

// ProductByID returns the product with the given ID.
func (b *Backend) ProductByID(id string) (*catalog.Product, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("product %q: %w", id, catalog.ErrNotFound)
	}
	p := b.products[i].Clone()
	return &p, nil
}

// CreateProduct assigns a new UUIDv7 and timestamps to p and stores it.
func (b *Backend) CreateProduct(p catalog.Product) (*catalog.Product, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", catalog.ErrInvalid)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Caller-chosen ids are honoured so images can be stored before the record.
	if p.ID == "" {
		p.ID = id.String()
	}
	if _, exists := b.byID[p.ID]; exists {
		return nil, fmt.Errorf("product %q already exists: %w", p.ID, catalog.ErrInvalid)
	}
	now := b.now().UTC()
	p = p.Clone()
	p.CreatedAt = now
	p.UpdatedAt = now

	b.products = append(b.products, p)
	b.byID[p.ID] = len(b.products) - 1
	if err := b.save(); err != nil {
		b.products = b.products[:len(b.products)-1]
		delete(b.byID, p.ID)
		return nil, err
	}
	out := p.Clone()
	return &out, nil
}

// UpdateProduct replaces the stored product with p.ID. CreatedAt is kept.
func (b *Backend) UpdateProduct(p catalog.Product) (*catalog.Product, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", catalog.ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.byID[p.ID]
	if !ok {
		return nil, fmt.Errorf("product %q: %w", p.ID, catalog.ErrNotFound)
	}
	prev := b.products[i]
	p = p.Clone()
	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = b.now().UTC()

	b.products[i] = p
	if err := b.save(); err != nil {
		b.products[i] = prev
		return nil, err
	}
	out := p.Clone()
	return &out, nil
}

// DeleteProduct removes the product with the given ID.
func (b *Backend) DeleteProduct(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("product %q: %w", id, catalog.ErrNotFound)
	}
	prev := b.products
	products := make([]catalog.Product, 0, len(prev)-1)
	products = append(products, prev[:i]...)
	products = append(products, prev[i+1:]...)

	b.products = products
	if err := b.save(); err != nil {
		b.products = prev
		return err
	}
	b.reindex()
	return nil
}

// reindex rebuilds byID. Must be called with b.mu held.
func (b *Backend) reindex() {
	b.byID = make(map[string]int, len(b.products))
	for i, p := range b.products {
		b.byID[p.ID] = i
	}
}
