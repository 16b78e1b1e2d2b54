// Package store keeps the last-known-good product snapshot of the admin
// console and derives the filtered, sorted and paginated view from it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/banux/nxt-catalog/internal/catalog"
	"github.com/banux/nxt-catalog/internal/media"
)

// DefaultPageSize is used until SetPageSize is called.
const DefaultPageSize = 20

// ErrUnknownSortField is returned by SetSort for unsupported fields.
var ErrUnknownSortField = errors.New("store: unknown sort field")

// Source fetches the authoritative product collection.
type Source interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
}

// Status filters products by their active flag.
type Status int

const (
	StatusAll Status = iota
	StatusActive
	StatusInactive
)

// ParseStatus maps "all", "active" and "inactive" to a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return StatusAll, nil
	case "active":
		return StatusActive, nil
	case "inactive":
		return StatusInactive, nil
	}
	return StatusAll, fmt.Errorf("store: unknown status %q", s)
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// ParseDirection maps "asc" and "desc" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return Asc, fmt.Errorf("store: unknown sort direction %q", s)
}

// PageResult is one page of the filtered view.
type PageResult struct {
	Items   []catalog.Product
	Total   int
	Current int
	Size    int
	Pages   int
}

// Store is safe for concurrent use. Concurrent refetches are not fenced:
// the last response to land wins.
type Store struct {
	src   Source
	cache *media.LoadCache
	log   *zap.Logger

	mu       sync.RWMutex
	all      []catalog.Product
	filtered []catalog.Product

	search    string
	category  string
	status    Status
	sortField string
	sortDir   Direction
	page      int
	size      int
}

// New returns an empty Store reading from src. cache may be nil; a nil
// logger discards output.
func New(src Source, cache *media.LoadCache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		src:   src,
		cache: cache,
		log:   logger.Named("store"),
		page:  1,
		size:  DefaultPageSize,
	}
}

// Refetch replaces the snapshot with the source's collection. On success the
// image load cache is cleared and its token rotated once. On failure the
// snapshot is left untouched and the error returned.
func (s *Store) Refetch(ctx context.Context) error {
	products, err := s.src.ListProducts(ctx)
	if err != nil {
		s.log.Warn("refetch failed", zap.Error(err))
		return fmt.Errorf("refetch products: %w", err)
	}

	all := make([]catalog.Product, len(products))
	for i, p := range products {
		all[i] = p.Clone()
	}

	s.mu.Lock()
	s.all = all
	s.recomputeLocked(false)
	s.mu.Unlock()

	if s.cache != nil {
		tok := s.cache.Rotate()
		s.log.Debug("refetched products", zap.Int("count", len(all)), zap.String("token", string(tok)))
	} else {
		s.log.Debug("refetched products", zap.Int("count", len(all)))
	}
	return nil
}

// All returns a copy of the snapshot in source order.
func (s *Store) All() []catalog.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.all)
}

// Product returns the snapshot entry with id.
func (s *Store) Product(id string) (catalog.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.all {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return catalog.Product{}, false
}

// SetSearch filters by case-insensitive substring over title, subtitle,
// category and description.
func (s *Store) SetSearch(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = strings.TrimSpace(q)
	s.recomputeLocked(true)
}

// SetCategory filters by exact category. "" disables the filter.
func (s *Store) SetCategory(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.category = c
	s.recomputeLocked(true)
}

// SetStatus filters by active flag.
func (s *Store) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.recomputeLocked(true)
}

// SetSort orders the view by field. "" restores source order.
func (s *Store) SetSort(field string, dir Direction) error {
	if field != "" {
		if _, ok := comparators[field]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSortField, field)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortField = field
	s.sortDir = dir
	s.recomputeLocked(true)
	return nil
}

// SetPageSize changes the page size. Non-positive sizes are ignored.
func (s *Store) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = n
	s.recomputeLocked(true)
}

// SetPage moves to page n, clamped to [1, Pages].
func (s *Store) SetPage(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = clamp(n, 1, s.pagesLocked())
}

// Page returns the current page of the filtered view.
func (s *Store) Page() PageResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := (s.page - 1) * s.size
	end := start + s.size
	if start > len(s.filtered) {
		start = len(s.filtered)
	}
	if end > len(s.filtered) {
		end = len(s.filtered)
	}
	return PageResult{
		Items:   cloneAll(s.filtered[start:end]),
		Total:   len(s.filtered),
		Current: s.page,
		Size:    s.size,
		Pages:   s.pagesLocked(),
	}
}

// ApplyOptimisticUpdate upserts p by id so the change is visible before the
// next refetch lands.
func (s *Store) ApplyOptimisticUpdate(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = p.Clone()
	for i := range s.all {
		if s.all[i].ID == p.ID {
			s.all[i] = p
			s.recomputeLocked(false)
			return
		}
	}
	s.all = append(s.all, p)
	s.recomputeLocked(false)
}

// ApplyOptimisticDelete drops id from the snapshot.
func (s *Store) ApplyOptimisticDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.all {
		if s.all[i].ID == id {
			s.all = append(s.all[:i:i], s.all[i+1:]...)
			break
		}
	}
	s.recomputeLocked(false)
}

// Categories returns the distinct non-empty categories, sorted.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range s.all {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// recomputeLocked rebuilds filtered. Filter and sort changes reset the page;
// data changes only clamp it.
func (s *Store) recomputeLocked(resetPage bool) {
	q := strings.ToLower(s.search)
	filtered := make([]catalog.Product, 0, len(s.all))
	for _, p := range s.all {
		if q != "" && !matchesSearch(p, q) {
			continue
		}
		if s.category != "" && p.Category != s.category {
			continue
		}
		if s.status == StatusActive && !p.Active || s.status == StatusInactive && p.Active {
			continue
		}
		filtered = append(filtered, p)
	}

	if cmp, ok := comparators[s.sortField]; ok {
		desc := s.sortDir == Desc
		sort.SliceStable(filtered, func(i, j int) bool {
			if desc {
				return cmp(filtered[j], filtered[i]) < 0
			}
			return cmp(filtered[i], filtered[j]) < 0
		})
	}
	s.filtered = filtered

	if resetPage {
		s.page = 1
		return
	}
	s.page = clamp(s.page, 1, s.pagesLocked())
}

func (s *Store) pagesLocked() int {
	if len(s.filtered) == 0 {
		return 1
	}
	return (len(s.filtered) + s.size - 1) / s.size
}

func matchesSearch(p catalog.Product, q string) bool {
	for _, f := range []string{p.Title, p.Subtitle, p.Category, p.Description} {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

var comparators = map[string]func(a, b catalog.Product) int{
	"title":    func(a, b catalog.Product) int { return compareFold(a.Title, b.Title) },
	"subtitle": func(a, b catalog.Product) int { return compareFold(a.Subtitle, b.Subtitle) },
	"category": func(a, b catalog.Product) int { return compareFold(a.Category, b.Category) },
	"price": func(a, b catalog.Product) int {
		switch {
		case a.Price < b.Price:
			return -1
		case a.Price > b.Price:
			return 1
		}
		return 0
	},
	"active": func(a, b catalog.Product) int { return boolInt(a.Active) - boolInt(b.Active) },
	"created_at": func(a, b catalog.Product) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at": func(a, b catalog.Product) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func cloneAll(ps []catalog.Product) []catalog.Product {
	out := make([]catalog.Product, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
