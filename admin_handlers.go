package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"auproxy/work/logger"
	"auproxy/work/proxy"
	"auproxy/work/utils"
)

// StatsResponse represents system statistics exposed through the admin API,
// covering session state, cache occupancy, and process health for monitoring
// and debugging the proxy's relationship with the upstream site.
type StatsResponse struct {
	Uptime            string   `json:"uptime"`
	MemoryUsage       string   `json:"memoryUsage"`
	Goroutines        int      `json:"goroutines"`
	SessionGeneration uint64   `json:"sessionGeneration"`
	SessionReferer    string   `json:"sessionReferer"`
	SessionCookies    []string `json:"sessionCookies"`
	ResolutionsCached int      `json:"resolutionsCached"`
	PagesCached       int      `json:"pagesCached"`
	PersistenceActive bool     `json:"persistenceActive"`
	WorkerThreads     int      `json:"workerThreads"`
}

// ConfigResponse is the sanitized configuration view served by the admin API.
// Durations are rendered as strings and the user agent pool is reported as a
// count rather than dumped verbatim.
type ConfigResponse struct {
	BaseURL              string `json:"baseURL"`
	ListenPort           int    `json:"listenPort"`
	UserAgentCount       int    `json:"userAgentCount"`
	MaxRetries           int    `json:"maxRetries"`
	RetryDelay           string `json:"retryDelay"`
	FetchTimeout         string `json:"fetchTimeout"`
	CacheTTL             string `json:"cacheTTL"`
	PageCacheTTL         string `json:"pageCacheTTL"`
	PageCacheSize        int    `json:"pageCacheSize"`
	StreamChunkSize      string `json:"streamChunkSize"`
	ForwardContentLength bool   `json:"forwardContentLength"`
	MaxEpisodesPerPage   int    `json:"maxEpisodesPerPage"`
	WorkerThreads        int    `json:"workerThreads"`
	UpstreamRateLimit    int    `json:"upstreamRateLimit"`
	Debug                bool   `json:"debug"`
	ObfuscateUrls        bool   `json:"obfuscateUrls"`
	PersistenceActive    bool   `json:"persistenceActive"`
}

// setupAdminRoutes registers the administrative endpoints. These are meant for
// operators, not players: session control, cache control, and introspection.
func setupAdminRoutes(router *mux.Router, p *proxy.Proxy) {
	router.HandleFunc("/admin/stats", handleAdminStats(p)).Methods("GET")
	router.HandleFunc("/admin/config", handleAdminConfig(p)).Methods("GET")
	router.HandleFunc("/admin/session/regenerate", handleAdminRegenerate(p)).Methods("POST")
	router.HandleFunc("/admin/cache/flush", handleAdminCacheFlush(p)).Methods("POST")
}

// handleAdminStats reports runtime statistics as JSON.
func handleAdminStats(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		stats := StatsResponse{
			Uptime:            time.Since(p.StartedAt).Round(time.Second).String(),
			MemoryUsage:       utils.FormatBytes(int64(mem.Alloc)),
			Goroutines:        runtime.NumGoroutine(),
			SessionGeneration: p.Sessions.Generation(),
			SessionReferer:    utils.LogURL(p.Config, p.Sessions.Referer()),
			SessionCookies:    p.Sessions.CookieNames(),
			ResolutionsCached: p.Cache.Len(),
			PagesCached:       p.Pages.Len(),
			PersistenceActive: p.DB != nil,
			WorkerThreads:     p.Config.WorkerThreads,
		}

		writeAdminJSON(w, stats)
	}
}

// handleAdminConfig serves the sanitized running configuration.
func handleAdminConfig(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := p.Config
		writeAdminJSON(w, ConfigResponse{
			BaseURL:              cfg.BaseURL,
			ListenPort:           cfg.ListenPort,
			UserAgentCount:       len(cfg.UserAgents),
			MaxRetries:           cfg.MaxRetries,
			RetryDelay:           cfg.RetryDelay.String(),
			FetchTimeout:         cfg.FetchTimeout.String(),
			CacheTTL:             cfg.CacheTTL.String(),
			PageCacheTTL:         cfg.PageCacheTTL.String(),
			PageCacheSize:        cfg.PageCacheSize,
			StreamChunkSize:      utils.FormatBytes(cfg.StreamChunkSize),
			ForwardContentLength: cfg.ForwardContentLength,
			MaxEpisodesPerPage:   cfg.MaxEpisodesPerPage,
			WorkerThreads:        cfg.WorkerThreads,
			UpstreamRateLimit:    cfg.UpstreamRateLimit,
			Debug:                cfg.Debug,
			ObfuscateUrls:        cfg.ObfuscateUrls,
			PersistenceActive:    cfg.DatabasePath != "",
		})
	}
}

// handleAdminRegenerate forces a fresh session identity and warm-up,
// regardless of generation. Useful when the upstream starts rejecting the
// current fingerprint but the rejection is not a clean 403.
func handleAdminRegenerate(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := p.Sessions.Regenerate()
		p.Sessions.WarmUp(s)

		logger.Info("Admin-triggered session regeneration, now at generation %d", p.Sessions.Generation())
		writeAdminJSON(w, map[string]interface{}{
			"status":     "regenerated",
			"generation": p.Sessions.Generation(),
		})
	}
}

// handleAdminCacheFlush drops both in-memory caches. Persisted resolutions
// are untouched; they age out on their own TTL.
func handleAdminCacheFlush(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resolutions := p.Cache.Len()
		p.FlushCaches()

		logger.Info("Admin-triggered cache flush, dropped %d resolutions", resolutions)
		writeAdminJSON(w, map[string]interface{}{
			"status":             "flushed",
			"resolutionsDropped": resolutions,
		})
	}
}

// writeAdminJSON renders an admin payload with indentation for human readers.
func writeAdminJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		logger.Debug("Failed to encode admin response: %v", err)
	}
}
