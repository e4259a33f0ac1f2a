package service

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// Cache defaults.
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 15 * time.Minute
)

// CacheEntry is a stored backend response.
type CacheEntry struct {
	Response string    `json:"response"`
	Model    string    `json:"model,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// CacheStats summarizes cache usage.
type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResponseCache is a bounded LRU of backend responses keyed by
// (expert, prompt, context). Entries expire after the configured TTL.
type ResponseCache struct {
	lru      *expirable.LRU[string, CacheEntry]
	capacity int
	clock    core.Clock
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewResponseCache creates a cache holding at most size entries for ttl.
func NewResponseCache(size int, ttl time.Duration) *ResponseCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResponseCache{
		lru:      expirable.NewLRU[string, CacheEntry](size, nil, ttl),
		capacity: size,
		clock:    core.SystemClock{},
	}
}

// CacheKey hashes the lookup triple. Fields are NUL separated so that
// ("ab", "c") and ("a", "bc") differ.
func CacheKey(expertID, prompt, context string) string {
	h := sha256.New()
	h.Write([]byte(expertID))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up a response.
func (c *ResponseCache) Get(expertID, prompt, context string) (CacheEntry, bool) {
	entry, ok := c.lru.Get(CacheKey(expertID, prompt, context))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

// Put stores resp unless it carries tool calls. It reports whether the
// response was stored.
func (c *ResponseCache) Put(expertID, prompt, context string, resp *core.ChatResponse) bool {
	if resp == nil || resp.HasToolCalls() {
		return false
	}
	c.lru.Add(CacheKey(expertID, prompt, context), CacheEntry{
		Response: resp.Text,
		Model:    resp.Model,
		StoredAt: c.clock.Now(),
	})
	return true
}

// Purge drops every entry.
func (c *ResponseCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// Stats returns hit/miss counters and occupancy.
func (c *ResponseCache) Stats() CacheStats {
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Size:     c.lru.Len(),
		Capacity: c.capacity,
	}
}
