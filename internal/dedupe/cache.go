// ABOUTME: Thread-safe TTL cache that remembers client message ids for a window.
// ABOUTME: The chat layer uses it to drop retransmitted client messages.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long a client message id is remembered.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds memory when clients send many distinct ids.
const DefaultMaxEntries = 10000

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for a TTL and evicts the oldest key once full.
// Keys are kept in a list ordered by last sighting so eviction is O(1).
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // oldest at front
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. Non-positive ttl or maxEntries fall back to the
// defaults. A background goroutine sweeps expired keys until Close.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Key scopes a client-supplied message id to its client.
func Key(clientID, messageID string) string {
	return clientID + "\x00" + messageID
}

// Seen reports whether key was recorded within the TTL, without recording it.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	return ok && c.fresh(el)
}

// Remember atomically checks and records key. It returns true when key was
// already recorded within the TTL, i.e. the caller holds a duplicate.
func (c *Cache) Remember(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		if c.fresh(el) {
			return true
		}
		c.touch(el)
		return false
	}

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, seenAt: c.now()})
	return false
}

// Forget drops key so a later Remember treats it as new. The chat layer calls
// this when processing of a remembered message fails.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of keys currently held, expired ones included until
// the next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fresh(el *list.Element) bool {
	return c.now().Sub(el.Value.(*entry).seenAt) < c.ttl
}

func (c *Cache) touch(el *list.Element) {
	el.Value.(*entry).seenAt = c.now()
	c.order.MoveToBack(el)
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.entries, front.Value.(*entry).key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired keys. The list is ordered by last sighting, so it
// stops at the first fresh key.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		if c.fresh(el) {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, el.Value.(*entry).key)
		el = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
