package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries is the default number of files kept in memory
	DefaultMaxEntries = 256
	// DefaultMaxBytes caps the total payload size held by the cache
	DefaultMaxBytes = 32 << 20
	// DefaultExpiry is how long a file is served before it is re-read
	DefaultExpiry = 10 * time.Minute
)

// Entry is one cached file.
type Entry struct {
	Data        []byte
	ContentType string
	ModTime     time.Time
}

type item struct {
	key       string
	entry     Entry
	expiresAt time.Time
}

// Cache is a size-bounded LRU with lazy expiry. It runs no background
// goroutine; expired items are dropped when they are next looked up or
// pushed out by newer ones.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	bytes      int
	maxEntries int
	maxBytes   int
	expiry     time.Duration
	now        func() time.Time

	hits   uint64
	misses uint64
}

// New creates a cache with default limits
func New() *Cache {
	return NewWithConfig(DefaultMaxEntries, DefaultMaxBytes, DefaultExpiry)
}

// NewWithConfig creates a cache with custom limits
func NewWithConfig(maxEntries, maxBytes int, expiry time.Duration) *Cache {
	return &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		expiry:     expiry,
		now:        time.Now,
	}
}

// Set stores entry under key. Entries larger than the byte budget are not
// cached at all.
func (c *Cache) Set(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entry.Data) > c.maxBytes {
		c.removeLocked(key)
		return
	}

	if el, ok := c.items[key]; ok {
		it := el.Value.(*item)
		c.bytes += len(entry.Data) - len(it.entry.Data)
		it.entry = entry
		it.expiresAt = c.now().Add(c.expiry)
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&item{key: key, entry: entry, expiresAt: c.now().Add(c.expiry)})
		c.items[key] = el
		c.bytes += len(entry.Data)
	}

	for len(c.items) > c.maxEntries || c.bytes > c.maxBytes {
		c.evictOldestLocked()
	}
}

// Get returns the entry for key if present and not expired
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	it := el.Value.(*item)
	if c.now().After(it.expiresAt) {
		c.removeLocked(key)
		c.misses++
		return Entry{}, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return it.entry, true
}

// Delete removes key from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear removes everything
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.bytes = 0
}

// Size returns the number of cached entries, expired ones included
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
type Stats struct {
	Entries    int
	Bytes      int
	MaxEntries int
	MaxBytes   int
	Hits       uint64
	Misses     uint64
}

// GetStats returns current cache statistics
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    len(c.items),
		Bytes:      c.bytes,
		MaxEntries: c.maxEntries,
		MaxBytes:   c.maxBytes,
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

func (c *Cache) removeLocked(key string) {
	el, ok := c.items[key]
	if !ok {
		return
	}
	it := el.Value.(*item)
	c.bytes -= len(it.entry.Data)
	c.order.Remove(el)
	delete(c.items, key)
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeLocked(el.Value.(*item).key)
}
