// Package sqlite implements a SQLite-backed product backend for nxt-catalog.
// Feature image fields are stored as raw JSON text, exactly as written, so
// legacy shapes survive a round trip.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/banux/nxt-catalog/internal/catalog"
)

const dbFilename = ".catalog.db"

// Backend is a SQLite-backed product backend.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the SQLite catalog at {dir}/.catalog.db and applies
// the schema.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, dbFilename)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbPath, err)
	}

	// WAL mode for concurrent reads.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	b := &Backend{db: db, now: time.Now}
	if err := b.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return b, nil
}

// Close releases database resources.
func (b *Backend) Close() error {
	return b.db.Close()
}

// createSchema creates the tables if they don't exist yet.
func (b *Backend) createSchema() error {
	_, err := b.db.Exec(`
CREATE TABLE IF NOT EXISTS products (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL DEFAULT '',
    subtitle        TEXT NOT NULL DEFAULT '',
    category        TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    price           REAL NOT NULL DEFAULT 0,
    active          INTEGER NOT NULL DEFAULT 0,
    thumbnail_image TEXT NOT NULL DEFAULT '',
    feature_images  TEXT,
    feature_images_alt TEXT,
    images          TEXT,
    gallery         TEXT,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
`)
	return err
}

const productColumns = `id, title, subtitle, category, description, price, active,
    thumbnail_image, feature_images, feature_images_alt, images, gallery,
    created_at, updated_at`

// List returns every product in insertion order.
func (b *Backend) List() ([]catalog.Product, error) {
	rows, err := b.db.Query(`SELECT ` + productColumns + ` FROM products ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ProductByID returns a single product by its ID.
func (b *Backend) ProductByID(id string) (*catalog.Product, error) {
	row := b.db.QueryRow(`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct inserts p with a new UUIDv7 unless p.ID is already set.
func (b *Backend) CreateProduct(p catalog.Product) (*catalog.Product, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", catalog.ErrInvalid)
	}
	if p.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		p.ID = id.String()
	}
	now := b.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := b.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM products WHERE id = ?`, p.ID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, fmt.Errorf("product %q already exists: %w", p.ID, catalog.ErrInvalid)
	}

	_, err = tx.Exec(`
INSERT INTO products (`+productColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, p.Subtitle, p.Category, p.Description, p.Price, boolToInt(p.Active),
		p.ThumbnailImage, rawToNull(p.FeatureImages), rawToNull(p.FeatureImagesAlt),
		rawToNull(p.Images), rawToNull(p.Gallery),
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b.ProductByID(p.ID)
}

// UpdateProduct replaces every column of the product with p.ID except
// created_at.
func (b *Backend) UpdateProduct(p catalog.Product) (*catalog.Product, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", catalog.ErrInvalid)
	}
	res, err := b.db.Exec(`
UPDATE products SET
    title = ?, subtitle = ?, category = ?, description = ?, price = ?, active = ?,
    thumbnail_image = ?, feature_images = ?, feature_images_alt = ?, images = ?, gallery = ?,
    updated_at = ?
WHERE id = ?`,
		p.Title, p.Subtitle, p.Category, p.Description, p.Price, boolToInt(p.Active),
		p.ThumbnailImage, rawToNull(p.FeatureImages), rawToNull(p.FeatureImagesAlt),
		rawToNull(p.Images), rawToNull(p.Gallery),
		b.now().UTC().UnixNano(), p.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("product %q: %w", p.ID, catalog.ErrNotFound)
	}
	return b.ProductByID(p.ID)
}

// DeleteProduct removes the product with the given ID.
func (b *Backend) DeleteProduct(id string) error {
	res, err := b.db.Exec(`DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %q: %w", id, catalog.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (catalog.Product, error) {
	var (
		p                          catalog.Product
		active                     int
		features, alt, imgs, galry sql.NullString
		created, updated           int64
	)
	err := s.Scan(&p.ID, &p.Title, &p.Subtitle, &p.Category, &p.Description, &p.Price, &active,
		&p.ThumbnailImage, &features, &alt, &imgs, &galry, &created, &updated)
	if err != nil {
		return catalog.Product{}, err
	}
	p.Active = active != 0
	p.FeatureImages = nullToRaw(features)
	p.FeatureImagesAlt = nullToRaw(alt)
	p.Images = nullToRaw(imgs)
	p.Gallery = nullToRaw(galry)
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

func rawToNull(r json.RawMessage) sql.NullString {
	if len(r) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(r), Valid: true}
}

func nullToRaw(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
