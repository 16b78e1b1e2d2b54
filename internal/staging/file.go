// Package staging holds the uncommitted media edits of a product form:
// existing feature images marked for removal, new images staged for upload
// with their local previews, and the thumbnail slot.
package staging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FileHandle is a locally selected file that has not been uploaded yet.
type FileHandle struct {
	Name        string
	ContentType string
	Size        int64

	// Open returns a fresh reader over the file content.
	Open func() (io.ReadCloser, error)
}

// BytesFile returns a FileHandle over an in-memory buffer.
func BytesFile(name, contentType string, data []byte) FileHandle {
	return FileHandle{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// OSFile returns a FileHandle for the file at path. The content type comes
// from the extension, falling back to sniffing the first 512 bytes.
func OSFile(path string) (FileHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileHandle{}, err
	}
	if info.IsDir() {
		return FileHandle{}, fmt.Errorf("staging: %s is a directory", path)
	}

	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		f, err := os.Open(path)
		if err != nil {
			return FileHandle{}, err
		}
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		f.Close()
		ct = http.DetectContentType(head[:n])
	}

	return FileHandle{
		Name:        filepath.Base(path),
		ContentType: ct,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// MediaType returns the lower-cased content type without parameters.
func (f FileHandle) MediaType() string {
	mt, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(f.ContentType))
	}
	return mt
}

// Previewer renders a displayable preview of a staged file.
type Previewer func(ctx context.Context, f FileHandle) (string, error)

// DataURIPreview reads f and returns it as a base64 data URI.
func DataURIPreview(ctx context.Context, f FileHandle) (string, error) {
	if f.Open == nil {
		return "", fmt.Errorf("staging: %s has no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("staging: open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	buf.WriteString("data:")
	buf.WriteString(f.MediaType())
	buf.WriteString(";base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if _, err := io.Copy(enc, ctxReader{ctx: ctx, r: rc}); err != nil {
		return "", fmt.Errorf("staging: read %s: %w", f.Name, err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
