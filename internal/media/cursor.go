package media

import "sync"

// CursorStore keeps the "currently featured" gallery index per product id.
// Entries are created lazily and live until Reset or Forget.
type CursorStore struct {
	mu      sync.Mutex
	indexes map[string]int
}

// NewCursorStore returns an empty CursorStore.
func NewCursorStore() *CursorStore {
	return &CursorStore{indexes: make(map[string]int)}
}

// Get returns the featured index for productID clamped to [0, length-1].
// It returns 0 when length is 0 or nothing was stored yet.
func (c *CursorStore) Get(productID string, length int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(productID, length)
}

func (c *CursorStore) get(productID string, length int) int {
	if length <= 0 {
		return 0
	}
	idx, ok := c.indexes[productID]
	if !ok || idx < 0 {
		return 0
	}
	if idx > length-1 {
		return length - 1
	}
	return idx
}

// Cycle moves the cursor of productID one step in direction (negative means
// back, positive forward) wrapping at both ends, stores and returns it.
// Galleries shorter than two images and a zero direction leave it unchanged.
func (c *CursorStore) Cycle(productID string, length, direction int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.get(productID, length)
	if length < 2 || direction == 0 {
		return current
	}
	step := 1
	if direction < 0 {
		step = -1
	}
	next := (current + step + length) % length
	c.indexes[productID] = next
	return next
}

// Forget drops the cursor of a single product.
func (c *CursorStore) Forget(productID string) {
	c.mu.Lock()
	delete(c.indexes, productID)
	c.mu.Unlock()
}

// Reset drops every cursor, e.g. when the product list is discarded.
func (c *CursorStore) Reset() {
	c.mu.Lock()
	c.indexes = make(map[string]int)
	c.mu.Unlock()
}
