package cache

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"auproxy/work/metrics"
)

// Entry is one resolved episode: the media URL and when resolution finished.
type Entry struct {
	VideoURL   string
	ResolvedAt time.Time
}

// ResolutionCache maps episode ids to resolved video URLs with TTL-gated
// reads. Entries past the TTL are treated as absent but never proactively
// purged; a fresh resolution simply overwrites the stale row. Concurrent
// writers for the same id are tolerated, last writer wins.
type ResolutionCache struct {
	entries *xsync.MapOf[int, Entry]
	ttl     time.Duration
	now     func() time.Time
}

// NewResolutionCache builds a cache whose entries live for ttl.
func NewResolutionCache(ttl time.Duration) *ResolutionCache {
	return &ResolutionCache{
		entries: xsync.NewMapOf[int, Entry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached URL only while the entry is fresh.
func (c *ResolutionCache) Get(episodeID int) (string, bool) {
	entry, ok := c.entries.Load(episodeID)
	if !ok || c.now().Sub(entry.ResolvedAt) >= c.ttl {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.VideoURL, true
}

// Put records a resolution stamped with the current time, overwriting any
// prior entry unconditionally.
func (c *ResolutionCache) Put(episodeID int, videoURL string) {
	c.Seed(episodeID, videoURL, c.now())
}

// Seed inserts an entry with an explicit timestamp. Used when restoring
// persisted resolutions at startup; the TTL check on read still governs
// freshness.
func (c *ResolutionCache) Seed(episodeID int, videoURL string, resolvedAt time.Time) {
	c.entries.Store(episodeID, Entry{VideoURL: videoURL, ResolvedAt: resolvedAt})
}

// Len counts all stored entries, fresh or stale.
func (c *ResolutionCache) Len() int {
	return c.entries.Size()
}

// Flush drops every entry.
func (c *ResolutionCache) Flush() {
	c.entries.Clear()
}

// Range visits every entry, fresh or stale. Used by the persistence layer
// and the admin surface.
func (c *ResolutionCache) Range(fn func(episodeID int, entry Entry) bool) {
	c.entries.Range(fn)
}
