package session

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"auproxy/work/config"
	"auproxy/work/logger"
	"auproxy/work/metrics"
	"auproxy/work/utils"
)

// Session represents one logical browser identity: a cookie jar, a fixed
// User-Agent fingerprint, and the HTTP clients bound to both. A session is
// never partially rebuilt; regeneration replaces it wholesale. Cookies
// accumulate inside the jar as requests complete.
type Session struct {
	Jar        *cookiejar.Jar
	UserAgent  string
	Generation uint64
	Client     *http.Client // follows redirects
	NoRedirect *http.Client // surfaces redirect responses as-is
}

// ApplyHeaders stamps the session's browser fingerprint onto an outbound
// request. The Referer is supplied per-request by the caller.
func (s *Session) ApplyHeaders(req *http.Request, referer string, acceptJSON bool) {
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Connection", "keep-alive")
	if acceptJSON {
		req.Header.Set("Accept", "application/json, text/plain, */*")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	} else {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

// Manager owns the single active Session plus the shared last-known-good
// referer. Exactly one session is active at a time; concurrent callers share
// it and must re-fetch Current after a regeneration rather than holding a
// stale reference. Handshake-sensitive operations serialize through the
// handshake mutex.
type Manager struct {
	cfg        *config.Config
	mu         sync.RWMutex // guards current
	current    *Session
	generation atomic.Uint64

	refererMu sync.RWMutex
	referer   string

	// one handshake-class operation at a time; held across both hops of a
	// resolution so a mid-flight retry never races a regeneration
	handshake sync.Mutex
}

// NewManager builds the manager and its initial session. The initial warm-up
// request runs immediately; failure is non-fatal.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		cfg:     cfg,
		referer: cfg.BaseURL,
	}
	m.current = m.build()
	return m
}

// Current returns the active session, creating one if none exists.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()
	if s != nil {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.current = m.build()
	}
	return m.current
}

// Regenerate discards the current session and builds a new one with a fresh
// cookie jar and a re-rolled fingerprint, then warms it up against the site
// root. Safe to call while other operations are in flight.
func (m *Manager) Regenerate() *Session {
	return m.RegenerateIfCurrent(0)
}

// RegenerateIfCurrent regenerates only when the active session's generation
// still matches the one the caller observed its failure on. A zero
// generation forces regeneration. This keeps two callers that both saw a
// rejection from rebuilding the session twice in a row.
func (m *Manager) RegenerateIfCurrent(generation uint64) *Session {
	m.mu.Lock()
	if generation != 0 && m.current != nil && m.current.Generation != generation {
		s := m.current
		m.mu.Unlock()
		return s
	}
	s := m.build()
	m.current = s
	m.mu.Unlock()

	metrics.SessionRegenerations.Inc()
	logger.Info("Session regenerated (generation %d)", s.Generation)

	m.WarmUp(s)
	return s
}

// Generation returns the generation counter of the active session.
func (m *Manager) Generation() uint64 {
	return m.Current().Generation
}

// WarmUp performs the baseline request to the site root so the new jar picks
// up whatever cookies the challenge layer hands out. Failure is non-fatal:
// the session stays usable and a later rejection simply triggers another
// regeneration.
func (m *Manager) WarmUp(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL, nil)
	if err != nil {
		logger.Warn("Session warm-up request build failed: %v", err)
		return
	}
	s.ApplyHeaders(req, "", false)

	resp, err := s.Client.Do(req)
	if err != nil {
		logger.Warn("Session warm-up fetch failed (non-fatal): %v", err)
		return
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.SetReferer(resp.Request.URL.String())
	}

	if m.cfg.Debug {
		logger.Debug("Warm-up fetch: %d -> %s, cookies: %s",
			resp.StatusCode, utils.LogURL(m.cfg, m.cfg.BaseURL), strings.Join(m.CookieNames(), ","))
	}
}

// Referer returns the shared last-known-good referer.
func (m *Manager) Referer() string {
	m.refererMu.RLock()
	defer m.refererMu.RUnlock()
	return m.referer
}

// SetReferer records the final resolved URL of a successful request as the
// referer for the next one. Concurrent writers may overwrite each other;
// a slightly stale referer is acceptable.
func (m *Manager) SetReferer(referer string) {
	if referer == "" {
		return
	}
	m.refererMu.Lock()
	m.referer = referer
	m.refererMu.Unlock()
}

// LockHandshake enters the critical section for handshake-sensitive fetches.
// Callers performing a multi-hop resolution hold it across every hop.
func (m *Manager) LockHandshake() {
	m.handshake.Lock()
}

// UnlockHandshake leaves the handshake critical section.
func (m *Manager) UnlockHandshake() {
	m.handshake.Unlock()
}

// CookieNames lists the names of cookies currently held for the upstream
// site. Values are deliberately not exposed; this is for diagnostics only.
func (m *Manager) CookieNames() []string {
	s := m.Current()
	base, err := http.NewRequest(http.MethodGet, m.cfg.BaseURL, nil)
	if err != nil {
		return nil
	}
	cookies := s.Jar.Cookies(base.URL)
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}

// SameSite reports whether the given host belongs to the upstream site's
// registrable domain, deciding whether session cookies travel with a media
// request.
func (m *Manager) SameSite(host string) bool {
	baseReq, err := http.NewRequest(http.MethodGet, m.cfg.BaseURL, nil)
	if err != nil {
		return false
	}
	baseDomain, err := publicsuffix.EffectiveTLDPlusOne(baseReq.URL.Hostname())
	if err != nil {
		return false
	}
	hostDomain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	return baseDomain == hostDomain
}

// build assembles a fresh session: new jar, re-rolled fingerprint, paired
// redirect-following and redirect-surfacing clients over a shared transport.
func (m *Manager) build() *Session {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New only fails on a nil options misuse; fall back to a
		// jarless session rather than dying
		logger.Error("Cookie jar creation failed: %v", err)
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	gen := m.generation.Add(1)
	ua := m.cfg.UserAgents[rand.Intn(len(m.cfg.UserAgents))]

	s := &Session{
		Jar:        jar,
		UserAgent:  ua,
		Generation: gen,
		Client: &http.Client{
			Jar:       jar,
			Timeout:   m.cfg.FetchTimeout,
			Transport: transport,
		},
		NoRedirect: &http.Client{
			Jar:     jar,
			Timeout: m.cfg.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: transport,
		},
	}

	if m.cfg.Debug {
		logger.Debug("Built session generation %d with fingerprint %q", gen, ua)
	}
	return s
}
