package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

func TestResponseCache_PutGet(t *testing.T) {
	cache := NewResponseCache(8, time.Minute)

	stored := cache.Put("engineer", "prompt", "ctx", &core.ChatResponse{Text: "answer"})
	require.True(t, stored)

	entry, ok := cache.Get("engineer", "prompt", "ctx")
	require.True(t, ok)
	assert.Equal(t, "answer", entry.Response)

	_, ok = cache.Get("engineer", "prompt", "other ctx")
	assert.False(t, ok, "different context must miss")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)
}

func TestResponseCache_RefusesToolCalls(t *testing.T) {
	cache := NewResponseCache(8, time.Minute)

	resp := &core.ChatResponse{
		Text:      "calling a tool",
		ToolCalls: []core.ToolCall{{ID: "1", Name: "Read"}},
	}
	assert.False(t, cache.Put("engineer", "p", "", resp))
	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.Put("engineer", "p", "", nil))
}

func TestResponseCache_BoundedLRU(t *testing.T) {
	cache := NewResponseCache(2, time.Minute)

	cache.Put("e", "1", "", &core.ChatResponse{Text: "one"})
	cache.Put("e", "2", "", &core.ChatResponse{Text: "two"})
	_, _ = cache.Get("e", "1", "")
	cache.Put("e", "3", "", &core.ChatResponse{Text: "three"})

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("e", "2", "")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = cache.Get("e", "1", "")
	assert.True(t, ok)
}

func TestResponseCache_TTL(t *testing.T) {
	cache := NewResponseCache(4, 30*time.Millisecond)
	cache.Put("e", "p", "", &core.ChatResponse{Text: "x"})

	assert.Eventually(t, func() bool {
		_, ok := cache.Get("e", "p", "")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCacheKey_FieldSeparation(t *testing.T) {
	assert.NotEqual(t, CacheKey("ab", "c", ""), CacheKey("a", "bc", ""))
	assert.Equal(t, CacheKey("e", "p", "c"), CacheKey("e", "p", "c"))
}
