// Package remote is the HTTP client of the catalog API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/staging"
)

const defaultTimeout = 30 * time.Second

// Multipart field names understood by the catalog API.
const (
	FieldThumbnail     = "thumbnail_image"
	FieldFeatureImages = "feature_images"
	FieldRemoved       = "removed_feature_images"
)

// ErrMissingID is returned when an operation needs a product id.
var ErrMissingID = errors.New("remote: missing product id")

// Client talks to the catalog API. It never retries.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submission is a create or update request.
type Submission struct {
	Fields catalog.ProductUpdate

	// Thumbnail replaces the stored thumbnail when non-nil.
	Thumbnail *staging.FileHandle
	// FeatureImages are appended to the stored feature images.
	FeatureImages []staging.FileHandle
	// RemovedFeatureImages are positions in the stored raw array, ascending.
	RemovedFeatureImages []int
}

// Multipart reports whether the submission must be sent as
// multipart/form-data rather than JSON.
func (s Submission) Multipart() bool {
	return s.Thumbnail != nil || len(s.FeatureImages) > 0 || len(s.RemovedFeatureImages) > 0
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// ListProducts returns every product.
func (c *Client) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	var out []catalog.Product
	if err := c.do(ctx, http.MethodGet, "", nil, "", &out); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if out == nil {
		out = []catalog.Product{}
	}
	return out, nil
}

// GetProduct returns a single product.
func (c *Client) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	var p catalog.Product
	if err := c.do(ctx, http.MethodGet, id, nil, "", &p); err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

// CreateProduct creates a product and returns it as stored.
func (c *Client) CreateProduct(ctx context.Context, sub Submission) (*catalog.Product, error) {
	p, err := c.submit(ctx, http.MethodPost, "", sub)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// UpdateProduct updates product id and returns it as stored.
func (c *Client) UpdateProduct(ctx context.Context, id string, sub Submission) (*catalog.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	method := http.MethodPatch
	if sub.Multipart() {
		// Multipart bodies on PATCH are dropped by some proxies.
		method = http.MethodPost
	}
	p, err := c.submit(ctx, method, id, sub)
	if err != nil {
		return nil, fmt.Errorf("update product %s: %w", id, err)
	}
	return p, nil
}

// DeleteProduct deletes product id.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if err := c.do(ctx, http.MethodDelete, id, nil, "", nil); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	return nil
}

func (c *Client) submit(ctx context.Context, method, id string, sub Submission) (*catalog.Product, error) {
	var (
		body        []byte
		contentType string
		err         error
	)
	if sub.Multipart() {
		body, contentType, err = encodeMultipart(sub)
	} else {
		body, err = json.Marshal(sub.Fields)
		contentType = "application/json"
	}
	if err != nil {
		return nil, err
	}

	var p catalog.Product
	if err := c.do(ctx, method, id, body, contentType, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) endpoint(id string) (string, error) {
	if id == "" {
		return url.JoinPath(c.baseURL, "api", "products")
	}
	return url.JoinPath(c.baseURL, "api", "products", id)
}

func (c *Client) do(ctx context.Context, method, id string, body []byte, contentType string, out any) error {
	endpoint, err := c.endpoint(id)
	if err != nil {
		return err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return errors.New("decode response: missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func encodeMultipart(sub Submission) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := formFields(sub.Fields)
	for _, k := range formFieldOrder {
		if v, ok := fields[k]; ok {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	if len(sub.RemovedFeatureImages) > 0 {
		removed, err := json.Marshal(sub.RemovedFeatureImages)
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField(FieldRemoved, string(removed)); err != nil {
			return nil, "", err
		}
	}
	if sub.Thumbnail != nil {
		if err := writeFile(w, FieldThumbnail, *sub.Thumbnail); err != nil {
			return nil, "", err
		}
	}
	for _, f := range sub.FeatureImages {
		if err := writeFile(w, FieldFeatureImages, f); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var formFieldOrder = []string{"title", "subtitle", "category", "description", "price", "active"}

func formFields(u catalog.ProductUpdate) map[string]string {
	out := make(map[string]string)
	if u.Title != nil {
		out["title"] = *u.Title
	}
	if u.Subtitle != nil {
		out["subtitle"] = *u.Subtitle
	}
	if u.Category != nil {
		out["category"] = *u.Category
	}
	if u.Description != nil {
		out["description"] = *u.Description
	}
	if u.Price != nil {
		out["price"] = strconv.FormatFloat(*u.Price, 'f', -1, 64)
	}
	if u.Active != nil {
		out["active"] = strconv.FormatBool(*u.Active)
	}
	return out
}

func writeFile(w *multipart.Writer, field string, f staging.FileHandle) error {
	if f.Open == nil {
		return fmt.Errorf("%s: no content", f.Name)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	h.Set("Content-Type", f.MediaType())
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return nil
}
