// Package build caches lowering artifacts keyed by input content and options.
package build

import (
	"container/list"
	"sync"
)

// CacheKey uniquely identifies a build artifact.
type CacheKey string

// Artifact represents cached lowering outputs.
// Files maps an artifact name (ArtifactMIR, ArtifactMetadata, ...) to bytes.
// Metadata holds optional small key/value annotations.
type Artifact struct {
	Files    map[string][]byte
	Metadata map[string]string
}

// CacheStats exposes basic metrics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Entries   int64
	Bytes     int64
	Evictions int64
}

// Artifact file names written by the driver.
const (
	ArtifactMIR       = "mir"
	ArtifactMetadata  = "metadata.ll"
	ArtifactDebug     = "debug.json"
	ArtifactSourceMap = "sourcemap.json"
	// DWARF sections are stored as ArtifactDWARF + section name.
	ArtifactDWARF = "dwarf."
)

// Cache abstracts a key->artifact store. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(key CacheKey) (Artifact, bool, error)
	Put(key CacheKey, a Artifact) error
	Exists(key CacheKey) bool
	Invalidate(key CacheKey) error
	Stats() CacheStats
}

// InMemoryLRUCache is a thread-safe LRU cache bounded by entry count and,
// optionally, by total artifact bytes.
type InMemoryLRUCache struct {
	mu       sync.Mutex
	capacity int
	maxBytes int64
	order    *list.List // front is most recently used
	table    map[CacheKey]*list.Element
	stats    CacheStats
}

type lruEntry struct {
	key  CacheKey
	val  Artifact
	size int64
}

// NewInMemoryLRUCache creates a cache holding at most capacity entries.
// If capacity<=0, defaults to 1024.
func NewInMemoryLRUCache(capacity int) *InMemoryLRUCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryLRUCache{capacity: capacity, order: list.New(), table: make(map[CacheKey]*list.Element)}
}

// WithMaxBytes bounds the total size of cached files. Zero means unbounded.
func (c *InMemoryLRUCache) WithMaxBytes(n int64) *InMemoryLRUCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = n
	c.evictIfNeeded()
	return c
}

func artifactSize(a Artifact) int64 {
	var s int64
	for _, b := range a.Files {
		s += int64(len(b))
	}
	return s
}

// evictIfNeeded drops least recently used entries, never the most recent one.
func (c *InMemoryLRUCache) evictIfNeeded() {
	for c.order.Len() > 1 && (c.order.Len() > c.capacity || (c.maxBytes > 0 && c.stats.Bytes > c.maxBytes)) {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
}

func (c *InMemoryLRUCache) remove(el *list.Element) {
	e := c.order.Remove(el).(*lruEntry)
	delete(c.table, e.key)
	c.stats.Entries = int64(len(c.table))
	c.stats.Bytes -= e.size
}

func (c *InMemoryLRUCache) Get(key CacheKey) (Artifact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.table[key]; ok {
		c.order.MoveToFront(el)
		c.stats.Hits++
		return el.Value.(*lruEntry).val, true, nil
	}
	c.stats.Misses++
	return Artifact{}, false, nil
}

func (c *InMemoryLRUCache) Put(key CacheKey, a Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := artifactSize(a)
	if el, ok := c.table[key]; ok {
		e := el.Value.(*lruEntry)
		c.stats.Bytes += size - e.size
		e.val, e.size = a, size
		c.order.MoveToFront(el)
	} else {
		c.table[key] = c.order.PushFront(&lruEntry{key: key, val: a, size: size})
		c.stats.Entries = int64(len(c.table))
		c.stats.Bytes += size
	}
	c.evictIfNeeded()
	return nil
}

func (c *InMemoryLRUCache) Exists(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.table[key]
	return ok
}

func (c *InMemoryLRUCache) Invalidate(key CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.table[key]; ok {
		c.remove(el)
	}
	return nil
}

func (c *InMemoryLRUCache) Stats() CacheStats { c.mu.Lock(); defer c.mu.Unlock(); return c.stats }
