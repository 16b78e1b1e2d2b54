package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/media"
	"github.com/banux/nxt-catalog/internal/remote"
	"github.com/banux/nxt-catalog/internal/staging"
)

type fakeAPI struct {
	mu       sync.Mutex
	products []catalog.Product
	listErr  error
	writeErr error
	lists    int
	subs     []remote.Submission
	// onList runs before each list, after the call is counted.
	onList func(n int)
}

func (f *fakeAPI) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	f.mu.Lock()
	f.lists++
	n := f.lists
	hook := f.onList
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]catalog.Product(nil), f.products...), nil
}

func (f *fakeAPI) CreateProduct(ctx context.Context, sub remote.Submission) (*catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	p := catalog.Product{ID: "new"}
	sub.Fields.Apply(&p)
	f.products = append(f.products, p)
	return &p, nil
}

func (f *fakeAPI) UpdateProduct(ctx context.Context, id string, sub remote.Submission) (*catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	for i := range f.products {
		if f.products[i].ID == id {
			sub.Fields.Apply(&f.products[i])
			p := f.products[i]
			return &p, nil
		}
	}
	return nil, &remote.APIError{Status: http.StatusNotFound, Message: "product not found"}
}

func (f *fakeAPI) DeleteProduct(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for i := range f.products {
		if f.products[i].ID == id {
			f.products = append(f.products[:i], f.products[i+1:]...)
			return nil
		}
	}
	return &remote.APIError{Status: http.StatusNotFound}
}

func strPtr(s string) *string { return &s }

func newConsole(t *testing.T, api *fakeAPI) *Console {
	t.Helper()
	var ms int64 = 1000
	c := New(api, Options{
		Resolver: media.Resolver{FileRoot: "https://files.test"},
		Logger:   zaptest.NewLogger(t),
		Clock:    func() time.Time { ms++; return time.UnixMilli(ms) },
	})
	require.NoError(t, c.Load(context.Background()))
	return c
}

func seeded() *fakeAPI {
	return &fakeAPI{products: []catalog.Product{
		{ID: "p1", Title: "Desk", ThumbnailImage: "a.jpg", FeatureImages: json.RawMessage(`["a.jpg","b.jpg","c.jpg"]`)},
		{ID: "p2", Title: "Lamp", ThumbnailImage: "l.jpg", FeatureImages: json.RawMessage(`"storage/x.jpg, storage/y.jpg"`)},
		{ID: "p3", Title: "Bare"},
	}}
}

func TestProducts_GalleryAndFeatured(t *testing.T) {
	c := newConsole(t, seeded())
	views := c.Products()
	require.Len(t, views, 3)

	tok := string(c.Token())
	assert.Equal(t, []string{
		"https://files.test/storage/a.jpg?v=" + tok,
		"https://files.test/storage/b.jpg?v=" + tok,
		"https://files.test/storage/c.jpg?v=" + tok,
	}, views[0].Gallery)
	assert.Equal(t, 0, views[0].Featured)
	assert.Equal(t, views[0].Gallery[0], views[0].FeaturedURL)

	assert.Empty(t, views[2].Gallery)
	assert.Empty(t, views[2].FeaturedURL)
}

func TestCycle(t *testing.T) {
	c := newConsole(t, seeded())

	v, err := c.Cycle("p1", -1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Featured)
	assert.Equal(t, v.Gallery[2], v.FeaturedURL)

	v, err = c.Cycle("p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Featured)

	v, err = c.Cycle("p3", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Featured)

	_, err = c.Cycle("missing", 1)
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestLoadRotatesToken(t *testing.T) {
	c := newConsole(t, seeded())
	before := c.Products()[0].Gallery[0]
	c.MarkLoading(before)

	require.NoError(t, c.Load(context.Background()))
	after := c.Products()[0].Gallery[0]
	assert.NotEqual(t, before, after)
	_, known := c.ImageState(before)
	assert.False(t, known)
}

func TestOpenEdit_ReconcilesOriginalIndexes(t *testing.T) {
	c := newConsole(t, seeded())
	s, err := c.OpenEdit("p1")
	require.NoError(t, err)

	existing := s.Existing()
	require.Len(t, existing, 3)
	for i, e := range existing {
		assert.Equal(t, i, e.OriginalIndex)
	}
	assert.Contains(t, s.Thumbnail(), "storage/a.jpg")
	assert.Same(t, s, c.Session())

	_, err = c.OpenEdit("missing")
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestOpenReplacesSession(t *testing.T) {
	c := newConsole(t, seeded())
	first, err := c.OpenEdit("p1")
	require.NoError(t, err)
	second := c.OpenCreate()
	assert.NotSame(t, first, second)
	assert.Same(t, second, c.Session())
	c.CloseEdit()
	assert.Nil(t, c.Session())
}

func TestSubmit_EditSendsSortedOriginalIndexes(t *testing.T) {
	api := seeded()
	c := newConsole(t, api)
	s, err := c.OpenEdit("p1")
	require.NoError(t, err)

	s.RemoveExisting(1)
	s.RemoveExisting(1)
	require.NoError(t, s.StageNewImages(context.Background(), []staging.FileHandle{
		staging.BytesFile("d.png", "image/png", []byte("d")),
	}))

	p, err := c.Submit(context.Background(), catalog.ProductUpdate{Title: strPtr("Desk v2")})
	require.NoError(t, err)
	assert.Equal(t, "Desk v2", p.Title)

	require.Len(t, api.subs, 1)
	assert.Equal(t, []int{1, 2}, api.subs[0].RemovedFeatureImages)
	require.Len(t, api.subs[0].FeatureImages, 1)
	assert.True(t, api.subs[0].Multipart())
	assert.Nil(t, c.Session(), "session closes after a successful write")
}

func TestSubmit_OptimisticUpdateVisibleBeforeRefetch(t *testing.T) {
	api := seeded()
	c := newConsole(t, api)
	_, err := c.OpenEdit("p2")
	require.NoError(t, err)

	var seen string
	api.onList = func(n int) {
		v, err := c.Product("p2")
		if assert.NoError(t, err) {
			seen = v.Product.Title
		}
	}

	_, err = c.Submit(context.Background(), catalog.ProductUpdate{Title: strPtr("Brass Lamp")})
	require.NoError(t, err)
	assert.Equal(t, "Brass Lamp", seen)
	assert.Equal(t, 2, api.lists, "one mandatory refetch after the write")
}

func TestSubmit_RefetchFailureKeepsOptimisticState(t *testing.T) {
	api := seeded()
	c := newConsole(t, api)
	_, err := c.OpenEdit("p2")
	require.NoError(t, err)

	api.onList = func(int) {
		api.mu.Lock()
		api.listErr = errors.New("timeout")
		api.mu.Unlock()
	}
	p, err := c.Submit(context.Background(), catalog.ProductUpdate{Title: strPtr("Brass Lamp")})
	require.Error(t, err)
	require.NotNil(t, p)

	v, err := c.Product("p2")
	require.NoError(t, err)
	assert.Equal(t, "Brass Lamp", v.Product.Title)
	assert.Nil(t, c.Session())
}

func TestSubmit_LocalValidationSkipsRequest(t *testing.T) {
	api := seeded()
	c := newConsole(t, api)
	c.OpenCreate()

	_, err := c.Submit(context.Background(), catalog.ProductUpdate{Title: strPtr("x")})
	require.ErrorIs(t, err, staging.ErrThumbnailRequired)
	assert.Empty(t, api.subs)
	assert.NotNil(t, c.Session())
	assert.NotEmpty(t, c.Session().FieldErrors()[staging.FieldThumbnail])
}

func TestSubmit_ServerFieldErrorsMapped(t *testing.T) {
	api := seeded()
	api.writeErr = &remote.APIError{
		Status:  http.StatusUnprocessableEntity,
		Message: "validation failed",
		Fields:  catalog.FieldErrors{"title": {"The title field is required."}},
	}
	c := newConsole(t, api)
	s, err := c.OpenEdit("p1")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), catalog.ProductUpdate{Title: strPtr("")})
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "The title field is required.", s.FieldErrors()["title"])
	assert.Same(t, s, c.Session(), "session stays open on failure")
	assert.Equal(t, 1, api.lists, "no refetch after a failed write")
}

func TestSubmit_Create(t *testing.T) {
	api := seeded()
	c := newConsole(t, api)
	s := c.OpenCreate()
	require.NoError(t, s.StageThumbnail(context.Background(), staging.BytesFile("t.png", "image/png", []byte("t"))))

	p, err := c.Submit(context.Background(), catalog.ProductUpdate{Title: strPtr("Shelf")})
	require.NoError(t, err)
	assert.Equal(t, "new", p.ID)
	require.NotNil(t, api.subs[0].Thumbnail)
	_, err = c.Product("new")
	assert.NoError(t, err)
}

func TestSubmit_NoSession(t *testing.T) {
	c := newConsole(t, seeded())
	_, err := c.Submit(context.Background(), catalog.ProductUpdate{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDelete(t *testing.T) {
	api := seeded()
	c := newConsole(t, api)
	_, err := c.Cycle("p1", 1)
	require.NoError(t, err)
	_, err = c.OpenEdit("p1")
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), "p1"))
	_, err = c.Product("p1")
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.Nil(t, c.Session())
	assert.Len(t, c.Products(), 2)

	err = c.Delete(context.Background(), "p1")
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotFound())
}
