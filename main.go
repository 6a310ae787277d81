package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auproxy/work/buffer"
	"auproxy/work/cache"
	"auproxy/work/catalog"
	"auproxy/work/config"
	"auproxy/work/database"
	"auproxy/work/fetch"
	"auproxy/work/handlers"
	"auproxy/work/logger"
	"auproxy/work/middleware"
	"auproxy/work/proxy"
	"auproxy/work/relay"
	"auproxy/work/resolver"
	"auproxy/work/session"
	"auproxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// worker pool isolating the blocking upstream fetches
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// session manager with an initial warm-up; a failed warm-up is logged
	// inside WarmUp and the first real request retries the handshake
	sessions := session.NewManager(cfg)
	sessions.WarmUp(sessions.Current())

	fetcher := fetch.New(cfg, sessions, workerPool)

	resolutionCache := cache.NewResolutionCache(cfg.CacheTTL)
	pageCache := cache.NewPageCache(cfg.PageCacheSize, cfg.PageCacheTTL)

	// persistence is optional; without it resolutions live only in memory
	var db *database.DB
	if cfg.DatabasePath != "" {
		db, err = database.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
	}

	var store resolver.Store
	if db != nil {
		store = db
	}

	chunkPool := buffer.NewChunkPool(cfg.StreamChunkSize)

	resolverInstance := resolver.New(cfg, fetcher, sessions, resolutionCache, store)
	relayInstance := relay.New(cfg, sessions, chunkPool)
	catalogInstance := catalog.New(cfg, fetcher, sessions, pageCache)

	proxyInstance := proxy.New(cfg, sessions, catalogInstance, resolverInstance, relayInstance, resolutionCache, pageCache, db)
	proxyInstance.RestoreResolutions()

	api := handlers.New(proxyInstance)

	// Setup HTTP routes
	router := mux.NewRouter()

	// Catalog routes
	router.HandleFunc("/search", middleware.Gzip(api.HandleSearch)).Methods("GET")
	router.HandleFunc("/episodes", middleware.Gzip(api.HandleEpisodes)).Methods("GET")

	// Resolution route (JSON only, no bytes relayed)
	router.HandleFunc("/stream", middleware.Gzip(api.HandleStream)).Methods("GET")

	// Byte relay routes; never compressed so range arithmetic stays valid
	router.HandleFunc("/stream_video", api.HandleStreamVideo).Methods("GET", "HEAD")
	router.HandleFunc("/hls", api.HandleHLS).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, proxyInstance)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting AnimeUnity Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Upstream: %s", utils.LogURL(cfg, cfg.BaseURL))
	logger.Info("  - Listen Port: %d", cfg.ListenPort)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Fetch Retries: %d every %s", cfg.MaxRetries, cfg.RetryDelay)
	logger.Info("  - Resolution Cache TTL: %s", cfg.CacheTTL)
	logger.Info("  - Page Cache: %d entries, TTL %s", cfg.PageCacheSize, cfg.PageCacheTTL)
	logger.Info("  - Relay Chunk Size: %s", utils.FormatBytes(cfg.StreamChunkSize))
	logger.Info("  - Persistence: %v", cfg.DatabasePath != "")
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
