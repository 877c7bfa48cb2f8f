package encoder

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/contextpilot/contextpilot/internal/logger"
)

const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

type cacheEntry struct {
	key      string
	vector   []float32
	storedAt time.Time
}

// Cache memoizes embedding vectors keyed by a content hash of the normalized
// text. Entries expire after a TTL (checked on read, a hit never returns an
// expired entry) and the least-recently-used entry is evicted once the size
// bound is exceeded. The cache is purely an optimization: its absence changes
// ranking latency, never ranking results.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	now func() time.Time // overridable in tests
}

// NewCache creates a cache with the given bounds. Non-positive arguments
// fall back to the defaults.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// hashText builds the cache key: sha256 over the lowercased, space-collapsed
// text, so exact duplicates share one entry regardless of surrounding
// whitespace.
func hashText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, or nil on miss or expiry.
func (c *Cache) Get(text string) []float32 {
	key := hashText(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil
	}

	c.order.MoveToFront(elem)
	out := make([]float32, len(entry.vector))
	copy(out, entry.vector)
	return out
}

// Put stores the vector for text, evicting the least-recently-used entry if
// the cache is full.
func (c *Cache) Put(text string, vector []float32) {
	key := hashText(text)
	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.vector = stored
		entry.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, evicted.key)
			logger.Debug("evicted embedding cache entry", "key", evicted.key[:8])
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, vector: stored, storedAt: c.now()})
	c.entries[key] = elem
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Cached wraps an encoder with the cache. A nil cache or nil encoder passes
// through unchanged.
func Cached(enc Encoder, cache *Cache) Encoder {
	if enc == nil || cache == nil {
		return enc
	}
	return &cachedEncoder{enc: enc, cache: cache}
}

type cachedEncoder struct {
	enc   Encoder
	cache *Cache
}

func (c *cachedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if vec := c.cache.Get(text); vec != nil {
		return vec, nil
	}
	vec, err := c.enc.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Put(text, vec)
	return vec, nil
}
