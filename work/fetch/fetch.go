package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"

	"auproxy/work/config"
	"auproxy/work/logger"
	"auproxy/work/metrics"
	"auproxy/work/session"
	"auproxy/work/utils"
)

// rejectionStatus is the canonical bot-challenge rejection code.
const rejectionStatus = http.StatusForbidden

// maxBodySize caps how much of an upstream page is read into memory. Media
// bytes never pass through this client; pages and JSON payloads are small.
const maxBodySize = 8 << 20

// Result carries the outcome of a session-bound GET.
type Result struct {
	StatusCode int
	Body       []byte
	FinalURL   string // post-redirect URL, used for referer propagation
	Header     http.Header
}

// Options tunes a single fetch.
type Options struct {
	Referer    string // overrides the shared last-known-good referer
	AcceptJSON bool   // ask for JSON instead of HTML
	NoRedirect bool   // surface 3xx responses instead of following them
}

// Client performs GETs through the shared browser session with bounded
// retries, fixed inter-attempt delay, and session regeneration on
// bot-challenge rejection. The blocking network call runs on a dedicated
// worker pool so request scheduling never stalls behind it.
type Client struct {
	cfg      *config.Config
	sessions *session.Manager
	pool     *ants.Pool
	limiter  ratelimit.Limiter
}

// New builds a fetch client over the given session manager and worker pool.
func New(cfg *config.Config, sessions *session.Manager, pool *ants.Pool) *Client {
	return &Client{
		cfg:      cfg,
		sessions: sessions,
		pool:     pool,
		limiter:  ratelimit.New(cfg.UpstreamRateLimit),
	}
}

// attemptState tracks one retry loop: how many attempts ran, the last
// non-2xx result observed, the last transport error, and the session
// generation the current attempt used.
type attemptState struct {
	attempt    int
	lastResult *Result
	lastErr    error
	generation uint64
}

// Get fetches the URL through the active session. On a 2xx response the
// shared referer advances to the final resolved URL. A rejection status
// regenerates the session before the next attempt. When the retry budget is
// exhausted the last observed response is returned as-is so callers can
// forward the upstream status verbatim; a pure transport failure surfaces as
// an error instead.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	referer := opts.Referer
	if referer == "" {
		referer = c.sessions.Referer()
	}

	state := attemptState{}
	for state.attempt < c.cfg.MaxRetries {
		state.attempt++

		s := c.sessions.Current()
		state.generation = s.Generation

		c.limiter.Take()
		res, err := c.dispatch(ctx, s, rawURL, referer, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.FetchAttempts.WithLabelValues("error").Inc()
			logger.Warn("Fetch attempt %d/%d failed for %s: %v",
				state.attempt, c.cfg.MaxRetries, utils.LogURL(c.cfg, rawURL), err)
			state.lastErr = err
			state.lastResult = nil
			if !c.waitRetry(ctx, state) {
				break
			}
			continue
		}

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			c.sessions.SetReferer(res.FinalURL)
			return res, nil

		case opts.NoRedirect && res.StatusCode >= 300 && res.StatusCode < 400:
			// the redirect itself is the payload
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			return res, nil

		case res.StatusCode == rejectionStatus:
			metrics.FetchAttempts.WithLabelValues("rejected").Inc()
			logger.Warn("Fetch attempt %d/%d rejected (%d) for %s, regenerating session",
				state.attempt, c.cfg.MaxRetries, res.StatusCode, utils.LogURL(c.cfg, rawURL))
			c.sessions.RegenerateIfCurrent(state.generation)

		default:
			metrics.FetchAttempts.WithLabelValues("upstream").Inc()
			logger.Warn("Fetch attempt %d/%d -> %s returned %d",
				state.attempt, c.cfg.MaxRetries, utils.LogURL(c.cfg, rawURL), res.StatusCode)
		}

		state.lastResult = res
		state.lastErr = nil
		if !c.waitRetry(ctx, state) {
			break
		}
	}

	if state.lastResult != nil {
		return state.lastResult, nil
	}
	if state.lastErr != nil {
		return nil, fmt.Errorf("fetch %s exhausted %d attempts: %w",
			rawURL, state.attempt, state.lastErr)
	}
	return nil, ctx.Err()
}

// waitRetry sleeps the fixed inter-attempt delay unless the budget is spent
// or the context ends first. Returns false when the loop should stop.
func (c *Client) waitRetry(ctx context.Context, state attemptState) bool {
	if state.attempt >= c.cfg.MaxRetries {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.RetryDelay):
		return true
	}
}

type dispatchOutcome struct {
	res *Result
	err error
}

// dispatch runs the blocking HTTP call on the worker pool and waits for
// either its completion or context cancellation. The result channel is
// buffered so an abandoned worker never blocks on send.
func (c *Client) dispatch(ctx context.Context, s *session.Session, rawURL, referer string, opts Options) (*Result, error) {
	done := make(chan dispatchOutcome, 1)
	task := func() {
		res, err := doGet(ctx, s, rawURL, referer, opts)
		done <- dispatchOutcome{res, err}
	}

	if err := c.pool.Submit(task); err != nil {
		// pool exhausted or released; run inline rather than failing the fetch
		task()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.res, out.err
	}
}

// doGet performs one synchronous GET with the session's fingerprint and
// cookie jar, reading the body fully.
func doGet(ctx context.Context, s *session.Session, rawURL, referer string, opts Options) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	s.ApplyHeaders(req, referer, opts.AcceptJSON)

	client := s.Client
	if opts.NoRedirect {
		client = s.NoRedirect
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		FinalURL:   finalURL,
		Header:     resp.Header,
	}, nil
}
