package relay

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grafana/regexp"

	"auproxy/work/buffer"
	"auproxy/work/config"
	"auproxy/work/logger"
	"auproxy/work/metrics"
	"auproxy/work/session"
	"auproxy/work/utils"
)

var (
	reClientRange  = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)
	reContentRange = regexp.MustCompile(`^bytes\s+(\d+)-(\d+)/(\d+|\*)$`)
)

// Relay streams a resolved media URL's bytes to the client, translating
// range semantics along the way. The upstream connection is per-request and
// independent of the scraping session: no shared cookie jar, no overall
// timeout (media transfers are long-lived), cancellation tied to the client
// request context.
type Relay struct {
	cfg      *config.Config
	sessions *session.Manager
	chunks   *buffer.ChunkPool
	client   *http.Client
}

// New builds a relay with its own streaming HTTP client.
func New(cfg *config.Config, sessions *session.Manager, chunks *buffer.ChunkPool) *Relay {
	return &Relay{
		cfg:      cfg,
		sessions: sessions,
		chunks:   chunks,
		client: &http.Client{
			Timeout: 0, // only header arrival is bounded, not the transfer
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// ServeVideo relays the media at videoURL, honoring the client's Range
// header. Playlist targets are dispatched to the HLS rewriter instead of the
// byte path.
func (rl *Relay) ServeVideo(w http.ResponseWriter, r *http.Request, videoURL string) {
	if IsPlaylist(videoURL) {
		rl.ServePlaylist(w, r, videoURL)
		return
	}

	metrics.ActiveRelays.Inc()
	defer metrics.ActiveRelays.Dec()

	rangeHeader := r.Header.Get("Range")

	resp, err := rl.open(r, videoURL, rangeHeader)
	if err != nil {
		logger.Error("Media fetch failed for %s: %v", utils.LogURL(rl.cfg, videoURL), err)
		http.Error(w, "Failed to reach media host", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		logger.Warn("Upstream streaming returned %d for %s", resp.StatusCode, utils.LogURL(rl.cfg, videoURL))
		http.Error(w, fmt.Sprintf("Upstream streaming returned %d", resp.StatusCode), resp.StatusCode)
		return
	}

	// A 206 without Content-Range cannot be trusted: some CDN front-ends
	// return partial bodies mislabeled as full ranges. Re-request without a
	// Range header and serve the complete 200 instead.
	if resp.StatusCode == http.StatusPartialContent && resp.Header.Get("Content-Range") == "" {
		logger.Warn("Upstream sent 206 without Content-Range for %s, refetching without range",
			utils.LogURL(rl.cfg, videoURL))
		resp.Body.Close()

		resp, err = rl.open(r, videoURL, "")
		if err != nil {
			http.Error(w, "Failed to reach media host", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			http.Error(w, fmt.Sprintf("Upstream streaming returned %d", resp.StatusCode), resp.StatusCode)
			return
		}

		// the follow-up response is served whole; the client renegotiates
		// ranges against it if it wants to
		rangeHeader = ""
	}

	w.Header().Set("Accept-Ranges", "bytes")
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)

	body := io.Reader(resp.Body)
	status := http.StatusOK

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// passthrough partial response; Content-Range is present here
		contentRange := resp.Header.Get("Content-Range")
		w.Header().Set("Content-Range", contentRange)
		if length, ok := lengthFromContentRange(contentRange); ok {
			w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		}
		status = http.StatusPartialContent

	case rangeHeader != "" && resp.ContentLength > 0:
		// upstream ignored the range but declared the total size, so the
		// relay slices the full body itself
		total := resp.ContentLength
		start, end, ok := parseClientRange(rangeHeader, total)
		if !ok {
			break
		}
		if start >= total {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
			http.Error(w, "Requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			logger.Warn("Upstream closed while skipping to range start for %s: %v",
				utils.LogURL(rl.cfg, videoURL), err)
			http.Error(w, "Upstream closed early", http.StatusBadGateway)
			return
		}
		body = io.LimitReader(resp.Body, end-start+1)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		status = http.StatusPartialContent

	default:
		if rl.cfg.ForwardContentLength && resp.ContentLength > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
		}
	}

	w.WriteHeader(status)
	rl.copyStream(w, body)
}

// open issues the streaming GET. The session's fingerprint travels with it,
// and session cookies are attached only when the media host shares the
// upstream site's registrable domain.
func (rl *Relay) open(r *http.Request, videoURL, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building media request: %w", err)
	}

	s := rl.sessions.Current()
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept", "*/*")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	if s.Jar != nil && rl.sessions.SameSite(req.URL.Hostname()) {
		for _, c := range s.Jar.Cookies(req.URL) {
			req.AddCookie(c)
		}
	}

	return rl.client.Do(req)
}

// copyStream moves bytes in pool-sized chunks, flushing after each write.
// A failed write means the client went away: stop reading from upstream. A
// read error after headers are sent ends the stream cleanly rather than
// corrupting the response framing.
func (rl *Relay) copyStream(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)

	buf := rl.chunks.Get()
	defer rl.chunks.Put(buf)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				logger.Debug("Client disconnected mid-stream: %v", writeErr)
				return
			}
			metrics.BytesRelayed.Add(float64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Debug("Upstream closed mid-transfer: %v", readErr)
			}
			return
		}
	}
}

// parseClientRange parses "bytes=start-end" (end optional) against a known
// total size. Unparseable ranges report ok=false and the relay falls back to
// a plain 200 passthrough.
func parseClientRange(rangeHeader string, total int64) (start, end int64, ok bool) {
	m := reClientRange.FindStringSubmatch(rangeHeader)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = total - 1
	if m[2] != "" {
		end, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		// an explicit end before the start is ignored, not satisfied
		if end < start {
			return 0, 0, false
		}
	}
	if end > total-1 {
		end = total - 1
	}
	return start, end, true
}

// lengthFromContentRange derives the body length from a "bytes start-end/total"
// header.
func lengthFromContentRange(contentRange string) (int64, bool) {
	m := reContentRange.FindStringSubmatch(contentRange)
	if m == nil {
		return 0, false
	}
	start, err1 := strconv.ParseInt(m[1], 10, 64)
	end, err2 := strconv.ParseInt(m[2], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return 0, false
	}
	return end - start + 1, true
}
