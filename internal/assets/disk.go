// Package assets stores uploaded product images on local disk under the
// storage/ tree the catalog API serves.
package assets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Prefix is the first segment of every stored path.
const Prefix = "storage"

// ErrInvalidPath is returned for ids or paths that would escape the root.
var ErrInvalidPath = errors.New("assets: invalid path")

// DiskStore saves product images under {Root}/storage/products/{id}/.
type DiskStore struct {
	Root string
}

// NewDiskStore creates the storage tree under root.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(root, Prefix, "products"), 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{Root: root}, nil
}

// Save writes src for productID and returns its relative path, e.g.
// "storage/products/{id}/{uuid}.jpg". The extension follows contentType,
// falling back to the one of filename. src is closed after reading.
func (d *DiskStore) Save(productID, filename, contentType string, src io.ReadCloser) (string, error) {
	defer src.Close()

	id, err := validateSegment("product id", productID)
	if err != nil {
		return "", err
	}
	ext := mimeToExt(contentType)
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(filepath.Base(filename)))
	}

	dir := filepath.Join(d.Root, Prefix, "products", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create product dir: %w", err)
	}

	// Write to a temp file first, then rename
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	name := uuid.NewString() + ext
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("rename upload: %w", err)
	}
	return path.Join(Prefix, "products", id, name), nil
}

// Delete removes the file at rel, a path returned by Save. Paths outside the
// storage tree (external URLs, legacy values) are ignored. A missing file is
// not an error.
func (d *DiskStore) Delete(rel string) error {
	full, ok, err := d.resolve(rel)
	if err != nil || !ok {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// DeleteProduct removes every stored image of productID.
func (d *DiskStore) DeleteProduct(productID string) error {
	id, err := validateSegment("product id", productID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(d.Root, Prefix, "products", id)); err != nil {
		return fmt.Errorf("delete product images: %w", err)
	}
	return nil
}

// Dir returns the directory served under /storage/.
func (d *DiskStore) Dir() string {
	return filepath.Join(d.Root, Prefix)
}

// resolve maps a stored relative path to a file under Root. ok is false for
// values that do not point into the storage tree.
func (d *DiskStore) resolve(rel string) (string, bool, error) {
	rel = strings.TrimLeft(strings.TrimSpace(rel), "/")
	if rel == "" || strings.Contains(rel, "://") {
		return "", false, nil
	}
	if !strings.HasPrefix(rel, Prefix+"/") {
		return "", false, nil
	}
	if strings.Contains(rel, "\\") {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", false, fmt.Errorf("%w: %q", ErrInvalidPath, rel)
		}
	}
	return filepath.Join(d.Root, filepath.FromSlash(rel)), true, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidPath, name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("%w: %s contains path separators", ErrInvalidPath, name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("%w: %s contains a traversal sequence", ErrInvalidPath, name)
	}
	return value, nil
}

// mimeToExt maps the accepted image types to file extensions.
func mimeToExt(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
