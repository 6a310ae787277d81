package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the AnimeUnity proxy.
// It covers the upstream site coupling, the session/retry behavior, caching,
// and the byte-relay tuning knobs.
type Config struct {
	BaseURL              string        `json:"baseURL"`              // Upstream site root (scheme + host)
	ListenPort           int           `json:"listenPort"`           // Local HTTP listen port
	UserAgents           []string      `json:"userAgents"`           // Browser fingerprint pool for session regeneration
	MaxRetries           int           `json:"maxRetries"`           // Fetch attempts before giving up
	RetryDelay           time.Duration `json:"retryDelay"`           // Fixed delay between fetch attempts
	FetchTimeout         time.Duration `json:"fetchTimeout"`         // Per-attempt timeout for session-bound fetches
	CacheTTL             time.Duration `json:"cacheTTL"`             // Resolution cache entry lifetime
	PageCacheTTL         time.Duration `json:"pageCacheTTL"`         // Upstream page/JSON cache entry lifetime
	PageCacheSize        int           `json:"pageCacheSize"`        // Maximum entries held by the page cache
	StreamChunkSize      int64         `json:"streamChunkSize"`      // Relay copy chunk size in bytes
	ForwardContentLength bool          `json:"forwardContentLength"` // Forward upstream Content-Length on untouched 200 relays
	MaxEpisodesPerPage   int           `json:"maxEpisodesPerPage"`   // Upper bound on episodes fetched per listing
	WorkerThreads        int           `json:"workerThreads"`        // Size of the blocking-fetch worker pool
	UpstreamRateLimit    int           `json:"upstreamRateLimit"`    // Session-bound upstream requests per second
	Debug                bool          `json:"debug"`                // Enable debug logging
	ObfuscateUrls        bool          `json:"obfuscateUrls"`        // Obfuscate URLs in logs
	DatabasePath         string        `json:"databasePath"`         // SQLite file for persisted resolutions ("" disables)
}

// ConfigFile mirrors Config for JSON unmarshaling; duration fields are strings
// (e.g. "1s", "300s") and parsed into time.Duration during conversion.
type ConfigFile struct {
	BaseURL              string   `json:"baseURL"`
	ListenPort           int      `json:"listenPort"`
	UserAgents           []string `json:"userAgents"`
	MaxRetries           int      `json:"maxRetries"`
	RetryDelay           string   `json:"retryDelay"`
	FetchTimeout         string   `json:"fetchTimeout"`
	CacheTTL             string   `json:"cacheTTL"`
	PageCacheTTL         string   `json:"pageCacheTTL"`
	PageCacheSize        int      `json:"pageCacheSize"`
	StreamChunkSize      int64    `json:"streamChunkSize"`
	ForwardContentLength bool     `json:"forwardContentLength"`
	MaxEpisodesPerPage   int      `json:"maxEpisodesPerPage"`
	WorkerThreads        int      `json:"workerThreads"`
	UpstreamRateLimit    int      `json:"upstreamRateLimit"`
	Debug                bool     `json:"debug"`
	ObfuscateUrls        bool     `json:"obfuscateUrls"`
	DatabasePath         string   `json:"databasePath"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Guards configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
// It falls back to the default configuration when the file is missing or
// invalid, and always runs the validation pass before caching.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("AUPROXY_CONFIG")
	if configPath == "" {
		configPath = "/settings/config.json"
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Upstream: %s", obfuscateURL(config.BaseURL))
		log.Printf("  Retries: %d every %s", config.MaxRetries, config.RetryDelay)
		log.Printf("  Cache TTL: %s", config.CacheTTL)
		log.Printf("  Debug: %v", config.Debug)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// ClearConfigCache drops the cached configuration so the next LoadConfig
// re-reads the file. Used by the admin reload endpoint.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile into a Config, parsing all duration
// strings. Empty duration strings are left at zero and picked up later by
// validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:              cf.BaseURL,
		ListenPort:           cf.ListenPort,
		UserAgents:           cf.UserAgents,
		MaxRetries:           cf.MaxRetries,
		PageCacheSize:        cf.PageCacheSize,
		StreamChunkSize:      cf.StreamChunkSize,
		ForwardContentLength: cf.ForwardContentLength,
		MaxEpisodesPerPage:   cf.MaxEpisodesPerPage,
		WorkerThreads:        cf.WorkerThreads,
		UpstreamRateLimit:    cf.UpstreamRateLimit,
		Debug:                cf.Debug,
		ObfuscateUrls:        cf.ObfuscateUrls,
		DatabasePath:         cf.DatabasePath,
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cf.RetryDelay, &config.RetryDelay, "retryDelay"},
		{cf.FetchTimeout, &config.FetchTimeout, "fetchTimeout"},
		{cf.CacheTTL, &config.CacheTTL, "cacheTTL"},
		{cf.PageCacheTTL, &config.PageCacheTTL, "pageCacheTTL"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// getDefaultConfig returns the configuration the upstream site has
// historically been proxied with.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.animeunity.so",
		ListenPort:         8080,
		MaxRetries:         3,
		RetryDelay:         time.Second,
		FetchTimeout:       20 * time.Second,
		CacheTTL:           300 * time.Second,
		PageCacheTTL:       60 * time.Second,
		PageCacheSize:      256,
		StreamChunkSize:    1 << 20,
		MaxEpisodesPerPage: 120,
		WorkerThreads:      8,
		UpstreamRateLimit:  5,
	}
}

// validateAndSetDefaults ensures every field holds a usable value, replacing
// zero or out-of-range entries with safe defaults.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.animeunity.so"
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		log.Printf("Invalid baseURL %q, using default", config.BaseURL)
		config.BaseURL = "https://www.animeunity.so"
	}
	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = 8080
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = defaultUserAgents()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 20 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 300 * time.Second
	}
	if config.PageCacheTTL <= 0 {
		config.PageCacheTTL = 60 * time.Second
	}
	if config.PageCacheSize <= 0 {
		config.PageCacheSize = 256
	}
	if config.StreamChunkSize <= 0 {
		config.StreamChunkSize = 1 << 20
	}
	if config.MaxEpisodesPerPage <= 0 || config.MaxEpisodesPerPage > 120 {
		config.MaxEpisodesPerPage = 120
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.UpstreamRateLimit <= 0 {
		config.UpstreamRateLimit = 5
	}
}

// defaultUserAgents is the fingerprint pool used when none is configured.
// Mobile Chrome builds match what the upstream site expects to see.
func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 12; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Mobile Safari/537.36",
	}
}

// obfuscateURL is a local helper for config logging, keeping scheme and host
// while hiding path and query.
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	return result
}
