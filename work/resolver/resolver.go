package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auproxy/work/cache"
	"auproxy/work/config"
	"auproxy/work/extract"
	"auproxy/work/fetch"
	"auproxy/work/logger"
	"auproxy/work/metrics"
	"auproxy/work/session"
	"auproxy/work/types"
	"auproxy/work/utils"
)

// Fetcher is the slice of the resilient fetch client the resolver needs.
// Tests substitute a stub to drive the state machine without a network.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Result, error)
}

// Store persists committed resolutions. Optional; a nil store disables
// persistence.
type Store interface {
	SaveResolution(episodeID int, videoURL string, resolvedAt time.Time) error
}

// Resolver turns an episode id into a playable media URL: cache check, embed
// redirect, embed page fetch, media URL extraction, commit. Both upstream
// hops run inside the session manager's handshake section so concurrent
// resolutions never interleave with a session regeneration.
type Resolver struct {
	cfg      *config.Config
	fetcher  Fetcher
	sessions *session.Manager
	cache    *cache.ResolutionCache
	store    Store
}

// New builds a resolver. store may be nil.
func New(cfg *config.Config, fetcher Fetcher, sessions *session.Manager, resolutionCache *cache.ResolutionCache, store Store) *Resolver {
	return &Resolver{
		cfg:      cfg,
		fetcher:  fetcher,
		sessions: sessions,
		cache:    resolutionCache,
		store:    store,
	}
}

// Resolve runs the resolution state machine for one episode. A fresh cache
// entry short-circuits everything; otherwise the two upstream hops run and a
// successful extraction commits to the cache. Failures never leave partial
// state behind.
func (r *Resolver) Resolve(ctx context.Context, episodeID int) (*types.ResolveResult, error) {
	if videoURL, ok := r.cache.Get(episodeID); ok {
		return &types.ResolveResult{EpisodeID: episodeID, StreamURL: videoURL, Cached: true}, nil
	}

	r.sessions.LockHandshake()
	defer r.sessions.UnlockHandshake()

	videoURL, err := r.resolveUpstream(ctx, episodeID)
	if err != nil {
		r.countFailure(err)
		return nil, err
	}

	r.cache.Put(episodeID, videoURL)
	if r.store != nil {
		if err := r.store.SaveResolution(episodeID, videoURL, time.Now()); err != nil {
			logger.Warn("Persisting resolution for episode %d failed: %v", episodeID, err)
		}
	}

	if r.cfg.Debug {
		logger.Debug("Resolved episode %d -> %s", episodeID, utils.LogURL(r.cfg, videoURL))
	}
	return &types.ResolveResult{EpisodeID: episodeID, StreamURL: videoURL, Cached: false}, nil
}

// resolveUpstream drives the two hops: embed-url endpoint, then the embed
// page it points at.
func (r *Resolver) resolveUpstream(ctx context.Context, episodeID int) (string, error) {
	embedEndpoint := fmt.Sprintf("%s/embed-url/%d", r.cfg.BaseURL, episodeID)

	res, err := r.fetcher.Get(ctx, embedEndpoint, fetch.Options{
		Referer:    r.sessions.Referer(),
		NoRedirect: true,
	})
	if err != nil {
		return "", fmt.Errorf("embed resolution for episode %d: %w", episodeID, err)
	}

	switch res.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
	default:
		return "", &types.UpstreamError{StatusCode: res.StatusCode, URL: embedEndpoint}
	}

	// the target arrives either as a redirect Location or as the bare body
	embedTarget := res.Header.Get("Location")
	if embedTarget == "" {
		embedTarget = strings.TrimSpace(string(res.Body))
	}
	if !validEmbedTarget(embedTarget) {
		return "", &types.ParseError{What: "invalid embed target url from upstream"}
	}

	page, err := r.fetcher.Get(ctx, embedTarget, fetch.Options{Referer: embedEndpoint})
	if err != nil {
		return "", fmt.Errorf("embed page fetch for episode %d: %w", episodeID, err)
	}
	if page.StatusCode != http.StatusOK {
		return "", &types.UpstreamError{StatusCode: page.StatusCode, URL: embedTarget}
	}

	videoURL, ok := extract.VideoURL(string(page.Body))
	if !ok {
		return "", types.ErrVideoNotFound
	}
	return videoURL, nil
}

// validEmbedTarget accepts only well-formed absolute HTTP(S) URLs.
func validEmbedTarget(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// countFailure buckets a resolution failure for metrics.
func (r *Resolver) countFailure(err error) {
	switch {
	case isUpstreamError(err):
		metrics.ResolveFailures.WithLabelValues("upstream").Inc()
	case isParseError(err):
		metrics.ResolveFailures.WithLabelValues("parse").Inc()
	case isNotFound(err):
		metrics.ResolveFailures.WithLabelValues("not_found").Inc()
	default:
		metrics.ResolveFailures.WithLabelValues("transport").Inc()
	}
}
