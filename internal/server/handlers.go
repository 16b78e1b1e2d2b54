package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/media"
	"github.com/banux/nxt-catalog/internal/staging"
)

// Form field names of product writes.
const (
	fieldThumbnail = "thumbnail_image"
	fieldFeatures  = "feature_images"
	fieldRemoved   = "removed_feature_images"
)

// multipartMemory is how much of a multipart body is kept in memory; the rest
// spills to temp files.
const multipartMemory = 32 << 20

// dataBody is the success envelope of every JSON response.
type dataBody struct {
	Data any `json:"data"`
}

// errorBody is the JSON error document.
type errorBody struct {
	Message string              `json:"message"`
	Errors  catalog.FieldErrors `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dataBody{Data: v})
}

func writeError(w http.ResponseWriter, status int, msg string, fields catalog.FieldErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Message: msg, Errors: fields})
}

// writeRepoError maps a backend error to its status.
func writeRepoError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found", nil)
	case errors.Is(err, catalog.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, action+" failed: "+err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, action+" failed", nil)
	}
}

// handleHealth serves a simple health-check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleListProducts serves every product with its feature image fields as
// stored.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.repo.List()
	if err != nil {
		s.log.Error("list products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "catalog error", nil)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// handleGetProduct handles GET /api/products/{id}.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.repo.ProductByID(mux.Vars(r)["id"])
	if err != nil {
		writeRepoError(w, "lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// productRequest is a decoded product write, JSON or multipart.
type productRequest struct {
	catalog.ProductUpdate

	// FeatureImages replaces the stored field verbatim. JSON bodies only.
	FeatureImages json.RawMessage `json:"feature_images,omitempty"`

	thumbnail *multipart.FileHeader
	features  []*multipart.FileHeader
	removed   []int
	multipart bool
}

// parseProductRequest decodes r by content type. Field level problems are
// returned as FieldErrors; a non-nil error means the body itself is unusable.
func (s *Server) parseProductRequest(w http.ResponseWriter, r *http.Request) (*productRequest, catalog.FieldErrors, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req productRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return &req, catalog.FieldErrors{}, nil
	}

	// Limit request body to prevent memory exhaustion
	limit := s.opts.MaxImageSize*int64(s.opts.MaxImages+1) + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, fmt.Errorf("request too large or malformed: %w", err)
	}

	req := &productRequest{multipart: true}
	fe := catalog.FieldErrors{}
	form := r.MultipartForm

	value := func(name string) (string, bool) {
		v, ok := form.Value[name]
		if !ok || len(v) == 0 {
			return "", false
		}
		return v[0], true
	}
	if v, ok := value("title"); ok {
		req.Title = &v
	}
	if v, ok := value("subtitle"); ok {
		req.Subtitle = &v
	}
	if v, ok := value("category"); ok {
		req.Category = &v
	}
	if v, ok := value("description"); ok {
		req.Description = &v
	}
	if v, ok := value("price"); ok {
		price, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			fe.Add("price", "price must be a number")
		} else {
			req.Price = &price
		}
	}
	if v, ok := value("active"); ok {
		active, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			fe.Add("active", "active must be true or false")
		} else {
			req.Active = &active
		}
	}
	if v, ok := value(fieldRemoved); ok && strings.TrimSpace(v) != "" {
		if err := json.Unmarshal([]byte(v), &req.removed); err != nil {
			fe.Add(fieldRemoved, "removed_feature_images must be a JSON array of indices")
		}
	}

	if files := form.File[fieldThumbnail]; len(files) > 0 {
		req.thumbnail = files[0]
	} else if v, ok := value(fieldThumbnail); ok {
		// A plain string keeps or replaces the stored path.
		req.ThumbnailImage = &v
	}
	req.features = form.File[fieldFeatures]
	return req, fe, nil
}

// fileType returns the media type of an uploaded part.
func fileType(h *multipart.FileHeader) string {
	ct := h.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = mime.TypeByExtension(strings.ToLower(filepath.Ext(h.Filename)))
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}

// checkFiles validates upload types and sizes.
func (s *Server) checkFiles(fe catalog.FieldErrors, field string, files ...*multipart.FileHeader) {
	for _, h := range files {
		if h == nil {
			continue
		}
		if !staging.AllowedType(fileType(h)) {
			fe.Add(field, fmt.Sprintf("%s is not an accepted image type", h.Filename))
			continue
		}
		if h.Size > s.opts.MaxImageSize {
			fe.Add(field, fmt.Sprintf("%s exceeds the %d byte limit", h.Filename, s.opts.MaxImageSize))
		}
	}
}

// validate applies the write rules shared by create and update. kept is the
// number of stored feature images that survive the request.
func (s *Server) validate(req *productRequest, fe catalog.FieldErrors, create bool, kept int) {
	if create {
		if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
			fe.Add("title", "title is required")
		}
		if req.thumbnail == nil && (req.ThumbnailImage == nil || *req.ThumbnailImage == "") {
			fe.Add(fieldThumbnail, "thumbnail image is required")
		}
	} else {
		if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
			fe.Add("title", "title cannot be empty")
		}
		if req.thumbnail == nil && req.ThumbnailImage != nil && *req.ThumbnailImage == "" {
			fe.Add(fieldThumbnail, "thumbnail image cannot be removed")
		}
	}
	if req.Price != nil && *req.Price < 0 {
		fe.Add("price", "price cannot be negative")
	}
	if kept+len(req.features) > s.opts.MaxImages {
		fe.Add(fieldFeatures, fmt.Sprintf("at most %d feature images are allowed", s.opts.MaxImages))
	}
	s.checkFiles(fe, fieldThumbnail, req.thumbnail)
	s.checkFiles(fe, fieldFeatures, req.features...)
}

// storeFile saves one upload for productID.
func (s *Server) storeFile(productID string, h *multipart.FileHeader) (string, error) {
	f, err := h.Open()
	if err != nil {
		return "", err
	}
	rel, err := s.images.Save(productID, h.Filename, fileType(h), f)
	if err != nil {
		return "", err
	}
	s.metrics.uploads.Inc()
	return rel, nil
}

// storeUploads saves the thumbnail and feature uploads of req. On error every
// file written so far is removed again.
func (s *Server) storeUploads(productID string, req *productRequest) (thumb string, features []string, err error) {
	var written []string
	defer func() {
		if err != nil {
			s.discard(written)
		}
	}()
	if req.thumbnail != nil {
		if thumb, err = s.storeFile(productID, req.thumbnail); err != nil {
			return "", nil, err
		}
		written = append(written, thumb)
	}
	for _, h := range req.features {
		rel, ferr := s.storeFile(productID, h)
		if ferr != nil {
			err = ferr
			return "", nil, err
		}
		written = append(written, rel)
		features = append(features, rel)
	}
	return thumb, features, nil
}

// discard removes stored files, logging failures.
func (s *Server) discard(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.images.Delete(p); err != nil {
			s.log.Warn("remove stored image", zap.String("path", p), zap.Error(err))
		}
	}
}

// hasUploads reports whether req carries files that need an image store.
func (req *productRequest) hasUploads() bool {
	return req.thumbnail != nil || len(req.features) > 0
}

// handleCreateProduct handles POST /api/products.
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	req, fe, err := s.parseProductRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.hasUploads() && s.images == nil {
		http.Error(w, "image upload not supported by this server", http.StatusNotImplemented)
		return
	}
	s.validate(req, fe, true, rawLen(req.FeatureImages))
	if len(fe) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation failed", fe)
		return
	}

	p := catalog.Product{ID: uuid.Must(uuid.NewV7()).String()}
	req.Apply(&p)
	if len(req.FeatureImages) > 0 {
		p.FeatureImages = req.FeatureImages
	}

	var written []string
	if req.hasUploads() {
		thumb, features, err := s.storeUploads(p.ID, req)
		if err != nil {
			s.log.Error("store uploads", zap.String("product", p.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "storing images failed", nil)
			return
		}
		if thumb != "" {
			p.ThumbnailImage = thumb
		}
		if len(features) > 0 {
			p.FeatureImages = mustMarshal(features)
		}
		written = append(features, thumb)
	}

	created, err := s.repo.CreateProduct(p)
	if err != nil {
		s.discard(written)
		writeRepoError(w, "create", err)
		return
	}
	s.log.Info("product created", zap.String("product", created.ID), zap.Int("images", len(written)))
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateProduct handles PATCH and POST /api/products/{id}. Removals
// refer to positions in the stored raw feature image list; out of range
// indices are ignored.
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, err := s.repo.ProductByID(id)
	if err != nil {
		writeRepoError(w, "update", err)
		return
	}

	req, fe, err := s.parseProductRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.hasUploads() && s.images == nil {
		http.Error(w, "image upload not supported by this server", http.StatusNotImplemented)
		return
	}

	existing := media.RawFeaturePaths(*current)
	kept, dropped := splitRemoved(existing, req.removed)
	if len(req.FeatureImages) > 0 {
		kept = make([]string, rawLen(req.FeatureImages))
	}
	s.validate(req, fe, false, len(kept))
	if len(fe) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation failed", fe)
		return
	}

	p := current.Clone()
	oldThumb := p.ThumbnailImage
	req.Apply(&p)
	if len(req.FeatureImages) > 0 {
		p.FeatureImages = req.FeatureImages
		p.FeatureImagesAlt, p.Images, p.Gallery = nil, nil, nil
	}

	thumb, features, err := s.storeUploads(id, req)
	if err != nil {
		s.log.Error("store uploads", zap.String("product", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storing images failed", nil)
		return
	}
	if thumb != "" {
		p.ThumbnailImage = thumb
	}
	if req.multipart && (len(dropped) > 0 || len(features) > 0) {
		// The merged list is written back as a plain array under the
		// canonical field; aliases are folded into it.
		p.FeatureImages = mustMarshal(append(kept, features...))
		p.FeatureImagesAlt, p.Images, p.Gallery = nil, nil, nil
	}

	updated, err := s.repo.UpdateProduct(p)
	if err != nil {
		s.discard(append(features, thumb))
		writeRepoError(w, "update", err)
		return
	}

	var orphaned []string
	for _, d := range dropped {
		if !slices.Contains(kept, d) {
			orphaned = append(orphaned, d)
		}
	}
	if updated.ThumbnailImage != oldThumb && !slices.Contains(kept, oldThumb) {
		orphaned = append(orphaned, oldThumb)
	}
	if s.images != nil {
		s.discard(orphaned)
	}
	s.log.Info("product updated",
		zap.String("product", id),
		zap.Int("added", len(features)),
		zap.Int("removed", len(dropped)))
	writeJSON(w, http.StatusOK, updated)
}

// splitRemoved partitions paths into those kept and those at the removed
// original indices.
func splitRemoved(paths []string, removed []int) (kept, dropped []string) {
	drop := make(map[int]struct{}, len(removed))
	for _, i := range removed {
		if i >= 0 && i < len(paths) {
			drop[i] = struct{}{}
		}
	}
	kept = make([]string, 0, len(paths))
	for i, p := range paths {
		if _, ok := drop[i]; ok {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}
	return kept, dropped
}

// handleDeleteProduct handles DELETE /api/products/{id}. Stored images of the
// product are removed with it.
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.repo.DeleteProduct(id); err != nil {
		writeRepoError(w, "delete", err)
		return
	}
	if s.images != nil {
		if err := s.images.DeleteProduct(id); err != nil {
			s.log.Warn("remove product images", zap.String("product", id), zap.Error(err))
		}
	}
	s.log.Info("product deleted", zap.String("product", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh triggers an on-demand reload of the backend index.
// Returns 501 if the backend does not support refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		http.Error(w, "refresh not supported by this backend", http.StatusNotImplemented)
		return
	}
	if err := s.refresher.Refresh(); err != nil {
		s.log.Error("refresh", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "refresh failed: "+err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// rawLen counts the paths of a raw feature image value.
func rawLen(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	return len(media.RawFeaturePaths(catalog.Product{FeatureImages: raw}))
}

func mustMarshal(paths []string) json.RawMessage {
	if paths == nil {
		paths = []string{}
	}
	data, err := json.Marshal(paths)
	if err != nil {
		panic(err)
	}
	return data
}
