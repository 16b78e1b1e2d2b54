// Package server implements the HTTP server and routing for the nxt-catalog
// product API.
package server

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/banux/nxt-catalog/internal/catalog"
)

// Default upload limits.
const (
	defaultMaxImages    = 10
	defaultMaxImageSize = 5 << 20
)

// ImageStore persists uploaded product images. Paths it returns are
// relative ("storage/...") and served under /storage/.
type ImageStore interface {
	Save(productID, filename, contentType string, src io.ReadCloser) (string, error)
	Delete(rel string) error
	DeleteProduct(productID string) error
	// Dir is the directory served at /storage/.
	Dir() string
}

// Options holds optional configuration for the Server.
type Options struct {
	// Images stores uploads. If nil, multipart writes are rejected with 501
	// and /storage/ is not served.
	Images ImageStore

	// MaxImages caps the feature images of one product.
	MaxImages int

	// MaxImageSize caps a single uploaded image, in bytes.
	MaxImageSize int64

	// Token, if set, is required on every write route.
	Token string

	// Logger receives one entry per request. Nil discards.
	Logger *zap.Logger
}

// Server is the HTTP server for the product catalog API.
type Server struct {
	router    *mux.Router
	repo      catalog.Repository
	refresher catalog.Refresher // optional; nil if backend doesn't support manual refresh
	images    ImageStore
	log       *zap.Logger
	metrics   *metrics
	opts      Options
}

// New creates and configures a new Server with the given backend and options.
// If the backend also implements catalog.Refresher, POST /api/refresh is enabled.
func New(repo catalog.Repository, opts Options) *Server {
	if opts.MaxImages <= 0 {
		opts.MaxImages = defaultMaxImages
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = defaultMaxImageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:  mux.NewRouter(),
		repo:    repo,
		images:  opts.Images,
		log:     logger.Named("http"),
		metrics: newMetrics(),
		opts:    opts,
	}
	if rf, ok := repo.(catalog.Refresher); ok {
		s.refresher = rf
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler, delegating to the mux router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// registerRoutes sets up all endpoint routes.
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.observe)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.Handle("/products", s.write(s.handleCreateProduct)).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	// POST is accepted alongside PATCH for multipart bodies.
	api.Handle("/products/{id}", s.write(s.handleUpdateProduct)).Methods(http.MethodPatch, http.MethodPost)
	api.Handle("/products/{id}", s.write(s.handleDeleteProduct)).Methods(http.MethodDelete)
	api.Handle("/refresh", s.write(s.handleRefresh)).Methods(http.MethodPost)

	// Stored product images.
	if s.images != nil {
		files := http.StripPrefix("/storage/", http.FileServer(http.Dir(s.images.Dir())))
		r.PathPrefix("/storage/").Handler(cacheControl(files)).Methods(http.MethodGet, http.MethodHead)
	}
}

// write wraps a mutating handler with the token check.
func (s *Server) write(h http.HandlerFunc) http.Handler {
	return requireToken(s.opts.Token, h)
}

// cacheControl marks stored images cacheable. Their names are unique per
// upload, and clients bust caches with a query token anyway.
func cacheControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		next.ServeHTTP(w, r)
	})
}
