package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// PageCache holds raw upstream response bodies (archive HTML, episode JSON)
// so repeated /search and /episodes calls inside a short window skip the
// session entirely. Unlike the resolution cache it is size-bounded: page
// bodies are large and keyed by free-form query strings.
type PageCache struct {
	cache *otter.Cache[string, []byte]
}

// NewPageCache builds a bounded page cache whose entries expire ttl after
// creation.
func NewPageCache(size int, ttl time.Duration) *PageCache {
	return &PageCache{
		cache: otter.Must(&otter.Options[string, []byte]{
			MaximumSize:      size,
			ExpiryCalculator: otter.ExpiryCreating[string, []byte](ttl),
		}),
	}
}

// Get returns the cached body for a key, if still present.
func (pc *PageCache) Get(key string) ([]byte, bool) {
	return pc.cache.GetIfPresent(key)
}

// Set stores a response body under the key.
func (pc *PageCache) Set(key string, body []byte) {
	pc.cache.Set(key, body)
}

// Flush drops every cached page.
func (pc *PageCache) Flush() {
	pc.cache.InvalidateAll()
}

// Len estimates the number of cached pages.
func (pc *PageCache) Len() int {
	return pc.cache.EstimatedSize()
}
