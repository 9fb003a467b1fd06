// ABOUTME: Thread-safe TTL cache of responses keyed by Idempotency-Key.
// ABOUTME: Lets a retried POST replay the first successful response instead of repeating side effects.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Response is a recorded HTTP response
// Fingerprint identifies the request that produced it, so a key reused for a
// different request can be told apart from a retry.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Fingerprint string
}

// State is the outcome of Begin
type State int

const (
	// Fresh means the caller now owns the key and must call Complete or Abandon
	Fresh State = iota
	// InFlight means another request with the same key has not finished
	InFlight
	// Replay means a completed response is available
	Replay
)

// cacheEntry stores the timestamp, list element and recorded response for a key.
// resp is nil while the first request is still running.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	resp      *Response
}

// Cache is a thread-safe, TTL-based, size-limited store of idempotent responses.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a response cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Begin atomically claims key. It returns the recorded response on Replay.
func (c *Cache) Begin(key string) (*Response, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.resp == nil {
			return nil, InFlight
		}
		resp := *entry.resp
		return &resp, Replay
	}

	c.putLocked(key, nil)
	return nil, Fresh
}

// Complete records the response for a key claimed with Begin
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp.Body = append([]byte(nil), resp.Body...)
	c.putLocked(key, &resp)
}

// Abandon releases a claimed key so a retry runs again
func (c *Cache) Abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && entry.resp == nil {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// Len returns the number of tracked keys, expired or not
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// putLocked inserts or refreshes key. Must be called with mu held.
func (c *Cache) putLocked(key string, resp *Response) {
	now := c.now()

	if entry, exists := c.entries[key]; exists {
		entry.timestamp = now
		entry.resp = resp
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
		resp:      resp,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
