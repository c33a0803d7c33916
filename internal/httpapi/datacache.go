package httpapi

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// conversationCache absorbs repeated polling of GET conversation from
// clients that don't use the SSE stream. Mirrors the teacher's
// data_cache.go (a bounded, TTL-evicted cache keyed by a derived id) but
// built on golang-lru/v2's expirable cache instead of that file's
// hand-rolled container/list bookkeeping, since the pack already pulls in
// golang-lru/v2 for internal/stream and its expirable variant covers the
// same bounded+TTL requirement directly.
type conversationCache struct {
	cache *lru.LRU[string, []conversationMessage]
}

func newConversationCache(maxEntries int, ttl time.Duration) *conversationCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &conversationCache{cache: lru.NewLRU[string, []conversationMessage](maxEntries, nil, ttl)}
}

func (c *conversationCache) get(key string) ([]conversationMessage, bool) {
	return c.cache.Get(key)
}

func (c *conversationCache) set(key string, messages []conversationMessage) {
	c.cache.Add(key, messages)
}

func (c *conversationCache) invalidate(key string) {
	c.cache.Remove(key)
}
