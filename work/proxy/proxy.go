package proxy

import (
	"time"

	"auproxy/work/cache"
	"auproxy/work/catalog"
	"auproxy/work/config"
	"auproxy/work/database"
	"auproxy/work/logger"
	"auproxy/work/relay"
	"auproxy/work/resolver"
	"auproxy/work/session"
)

// Proxy aggregates every component of the AnimeUnity proxy: the shared
// browser session, the catalog service, the stream resolver with its caches,
// the byte relay, and the optional persistence layer. It is built once at
// startup and injected into the HTTP handlers.
type Proxy struct {
	Config    *config.Config
	Sessions  *session.Manager
	Catalog   *catalog.Service
	Resolver  *resolver.Resolver
	Relay     *relay.Relay
	Cache     *cache.ResolutionCache
	Pages     *cache.PageCache
	DB        *database.DB // nil when persistence is disabled
	StartedAt time.Time
}

// New wires the components into a Proxy.
func New(cfg *config.Config, sessions *session.Manager, cat *catalog.Service, res *resolver.Resolver, rel *relay.Relay, resolutionCache *cache.ResolutionCache, pages *cache.PageCache, db *database.DB) *Proxy {
	return &Proxy{
		Config:    cfg,
		Sessions:  sessions,
		Catalog:   cat,
		Resolver:  res,
		Relay:     rel,
		Cache:     resolutionCache,
		Pages:     pages,
		DB:        db,
		StartedAt: time.Now(),
	}
}

// RestoreResolutions seeds the in-memory cache from persisted rows and
// prunes rows past the TTL. No-op without a database.
func (p *Proxy) RestoreResolutions() {
	if p.DB == nil {
		return
	}

	if pruned, err := p.DB.PruneExpired(p.Config.CacheTTL); err != nil {
		logger.Warn("Pruning expired resolutions failed: %v", err)
	} else if pruned > 0 {
		logger.Info("Pruned %d expired resolutions", pruned)
	}

	rows, err := p.DB.LoadResolutions()
	if err != nil {
		logger.Warn("Restoring resolutions failed: %v", err)
		return
	}
	for _, row := range rows {
		p.Cache.Seed(row.EpisodeID, row.VideoURL, row.ResolvedAt)
	}
	if len(rows) > 0 {
		logger.Info("Restored %d persisted resolutions", len(rows))
	}
}

// FlushCaches clears the resolution and page caches. Used by the admin
// surface after an upstream structure change.
func (p *Proxy) FlushCaches() {
	p.Cache.Flush()
	if p.Pages != nil {
		p.Pages.Flush()
	}
}
