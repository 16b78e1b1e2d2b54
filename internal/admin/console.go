// Package admin wires the catalog store, the media derivations and the
// staging session into the product admin workflow: list, feature cycling,
// edit forms and write-then-refetch submission.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/media"
	"github.com/banux/nxt-catalog/internal/remote"
	"github.com/banux/nxt-catalog/internal/staging"
	"github.com/banux/nxt-catalog/internal/store"
)

var (
	// ErrNoSession is returned by Submit when no form is open.
	ErrNoSession = errors.New("admin: no open edit session")
	// ErrUnknownProduct is returned for ids missing from the snapshot.
	ErrUnknownProduct = errors.New("admin: unknown product")
)

// API is the subset of the catalog API the console writes through.
type API interface {
	store.Source
	CreateProduct(ctx context.Context, sub remote.Submission) (*catalog.Product, error)
	UpdateProduct(ctx context.Context, id string, sub remote.Submission) (*catalog.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

// Options configures a Console. Zero values pick defaults.
type Options struct {
	Resolver   media.Resolver
	Reconciler media.Reconciler
	Limits     staging.Limits
	PageSize   int
	Logger     *zap.Logger
	// Clock feeds the load cache token; nil uses time.Now.
	Clock func() time.Time
}

// ProductView is a product row with its derived gallery.
type ProductView struct {
	Product     catalog.Product
	Gallery     []string
	Featured    int
	FeaturedURL string
}

// Console is safe for concurrent use, but holds at most one edit session.
type Console struct {
	api        API
	store      *store.Store
	cursors    *media.CursorStore
	cache      *media.LoadCache
	resolver   media.Resolver
	reconciler media.Reconciler
	limits     staging.Limits
	log        *zap.Logger

	mu      sync.Mutex
	session *staging.Session
}

// New returns a Console writing through api.
func New(api API, opts Options) *Console {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reconciler := opts.Reconciler
	if reconciler == nil {
		reconciler = media.FilenameReconciler{}
	}
	limits := staging.DefaultLimits()
	if opts.Limits.MaxImages > 0 {
		limits.MaxImages = opts.Limits.MaxImages
	}
	if opts.Limits.MaxFileSize > 0 {
		limits.MaxFileSize = opts.Limits.MaxFileSize
	}

	cache := media.NewLoadCache(opts.Clock)
	st := store.New(api, cache, logger)
	if opts.PageSize > 0 {
		st.SetPageSize(opts.PageSize)
	}
	return &Console{
		api:        api,
		store:      st,
		cursors:    media.NewCursorStore(),
		cache:      cache,
		resolver:   opts.Resolver,
		reconciler: reconciler,
		limits:     limits,
		log:        logger.Named("admin"),
	}
}

// Store exposes the filter, sort and pagination controls.
func (c *Console) Store() *store.Store { return c.store }

// Token returns the current cache-busting token.
func (c *Console) Token() media.Token { return c.cache.Token() }

// Load refetches the product list.
func (c *Console) Load(ctx context.Context) error {
	return c.store.Refetch(ctx)
}

// Products returns the current page with galleries and featured images.
func (c *Console) Products() []ProductView {
	items := c.store.Page().Items
	tok := c.cache.Token()
	out := make([]ProductView, len(items))
	for i, p := range items {
		out[i] = c.view(p, tok)
	}
	return out
}

// Product returns the view of a single product.
func (c *Console) Product(id string) (ProductView, error) {
	p, ok := c.store.Product(id)
	if !ok {
		return ProductView{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return c.view(p, c.cache.Token()), nil
}

func (c *Console) view(p catalog.Product, tok media.Token) ProductView {
	gallery := media.BuildGallery(p, c.resolver, tok)
	v := ProductView{
		Product:  p,
		Gallery:  gallery,
		Featured: c.cursors.Get(p.ID, len(gallery)),
	}
	if len(gallery) > 0 {
		v.FeaturedURL = gallery[v.Featured]
	}
	return v
}

// Cycle moves the featured image of id one step in direction.
func (c *Console) Cycle(id string, direction int) (ProductView, error) {
	p, ok := c.store.Product(id)
	if !ok {
		return ProductView{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	tok := c.cache.Token()
	c.cursors.Cycle(id, len(media.BuildGallery(p, c.resolver, tok)), direction)
	return c.view(p, tok), nil
}

// MarkLoading records that url started displaying.
func (c *Console) MarkLoading(url string) { c.cache.Begin(url) }

// MarkLoaded records that url finished displaying, or failed to.
func (c *Console) MarkLoaded(url string) { c.cache.Finish(url) }

// ImageState reports the display state of url.
func (c *Console) ImageState(url string) (loading, known bool) { return c.cache.State(url) }

// OpenCreate opens an empty form, replacing any open one.
func (c *Console) OpenCreate() *staging.Session {
	s := staging.NewCreateSession(staging.WithLimits(c.limits))
	c.setSession(s)
	return s
}

// OpenEdit opens the form of product id, replacing any open one.
// Existing previews carry the raw array position reconciled at open time.
func (c *Console) OpenEdit(id string) (*staging.Session, error) {
	p, ok := c.store.Product(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	tok := c.cache.Token()
	previews := media.NormalizeFeatureImages(p, c.resolver, tok)
	indexes := c.reconciler.Reconcile(media.RawFeaturePaths(p), previews)

	existing := make([]staging.ExistingPreview, len(previews))
	for i, u := range previews {
		existing[i] = staging.ExistingPreview{DisplayURL: u, OriginalIndex: indexes[i]}
	}
	s := staging.NewEditSession(p.ID, c.resolver.Resolve(p.ThumbnailImage, tok), existing, staging.WithLimits(c.limits))
	c.setSession(s)
	return s, nil
}

// Session returns the open form, or nil.
func (c *Console) Session() *staging.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CloseEdit discards the open form.
func (c *Console) CloseEdit() { c.setSession(nil) }

func (c *Console) setSession(s *staging.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Submit validates and writes the open form.
//
// Server field errors are recorded on the session, which stays open. On
// success the returned product is applied optimistically, the form is
// closed and the list refetched; a refetch failure is returned alongside the
// written product and leaves the optimistic state in place.
func (c *Console) Submit(ctx context.Context, fields catalog.ProductUpdate) (*catalog.Product, error) {
	s := c.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	s.ClearErrors()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	sub := remote.Submission{
		Fields:               fields,
		Thumbnail:            s.ThumbnailFile(),
		FeatureImages:        s.NewFiles(),
		RemovedFeatureImages: s.RemovedIndices(),
	}

	var (
		p   *catalog.Product
		err error
	)
	if s.IsEdit() {
		p, err = c.api.UpdateProduct(ctx, s.ProductID(), sub)
	} else {
		p, err = c.api.CreateProduct(ctx, sub)
	}
	if err != nil {
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
			s.ApplyServerErrors(apiErr.Fields)
		}
		c.log.Warn("submit failed", zap.String("product_id", s.ProductID()), zap.Error(err))
		return nil, err
	}

	c.log.Info("product saved",
		zap.String("product_id", p.ID),
		zap.Bool("multipart", sub.Multipart()),
		zap.Int("added", len(sub.FeatureImages)),
		zap.Ints("removed", sub.RemovedFeatureImages),
	)
	c.store.ApplyOptimisticUpdate(*p)
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	if err := c.store.Refetch(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Delete removes product id, then refetches.
func (c *Console) Delete(ctx context.Context, id string) error {
	if err := c.api.DeleteProduct(ctx, id); err != nil {
		c.log.Warn("delete failed", zap.String("product_id", id), zap.Error(err))
		return err
	}
	c.log.Info("product deleted", zap.String("product_id", id))
	c.store.ApplyOptimisticDelete(id)
	c.cursors.Forget(id)

	c.mu.Lock()
	if c.session != nil && c.session.ProductID() == id {
		c.session = nil
	}
	c.mu.Unlock()

	return c.store.Refetch(ctx)
}

// Discard drops every featured cursor and the open form, as when the
// product list is thrown away.
func (c *Console) Discard() {
	c.cursors.Reset()
	c.CloseEdit()
}
