package media

import (
	"strconv"
	"sync"
	"time"
)

// LoadCache tracks per-URL display loading state and owns the cache-busting
// token threaded through Resolver.Resolve.
//
// A URL maps to true once a display attempt starts and to false once it
// resolves, successfully or not. Absent URLs are unknown.
type LoadCache struct {
	mu      sync.RWMutex
	loading map[string]bool
	token   Token
	last    int64
	clock   func() time.Time
}

// NewLoadCache returns a cache with an initial token taken from clock.
// A nil clock uses time.Now.
func NewLoadCache(clock func() time.Time) *LoadCache {
	if clock == nil {
		clock = time.Now
	}
	c := &LoadCache{loading: make(map[string]bool), clock: clock}
	c.rotateLocked()
	return c
}

// Token returns the current cache-busting token.
func (c *LoadCache) Token() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Rotate clears all loading state and issues a new token strictly greater
// than the previous one, even when the clock has not advanced.
func (c *LoadCache) Rotate() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = make(map[string]bool)
	return c.rotateLocked()
}

func (c *LoadCache) rotateLocked() Token {
	next := c.clock().UnixMilli()
	if next <= c.last {
		next = c.last + 1
	}
	c.last = next
	c.token = Token(strconv.FormatInt(next, 10))
	return c.token
}

// Begin marks url as loading.
func (c *LoadCache) Begin(url string) {
	c.mu.Lock()
	c.loading[url] = true
	c.mu.Unlock()
}

// Finish marks url as resolved, whether it loaded or failed.
func (c *LoadCache) Finish(url string) {
	c.mu.Lock()
	c.loading[url] = false
	c.mu.Unlock()
}

// State reports whether url is loading and whether it has been requested at
// all since the last rotation.
func (c *LoadCache) State(url string) (loading, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loading, known = c.loading[url]
	return loading, known
}

// Len returns the number of tracked URLs.
func (c *LoadCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.loading)
}
