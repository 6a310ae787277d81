package relay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"auproxy/work/logger"
	"auproxy/work/utils"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// maxPlaylistSize bounds how much of a playlist body is read into memory.
const maxPlaylistSize = 4 << 20

// IsPlaylist reports whether a resolved media URL points at an HLS playlist
// rather than a progressive file.
func IsPlaylist(mediaURL string) bool {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// ServePlaylist fetches an HLS playlist and rewrites every variant, segment,
// and key URI to route back through the local /hls endpoint, so segment
// requests get the same fingerprint and range handling as the playlist
// itself. A playlist that fails to decode is passed through verbatim.
func (rl *Relay) ServePlaylist(w http.ResponseWriter, r *http.Request, playlistURL string) {
	resp, err := rl.open(r, playlistURL, "")
	if err != nil {
		logger.Error("Playlist fetch failed for %s: %v", utils.LogURL(rl.cfg, playlistURL), err)
		http.Error(w, "Failed to reach media host", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, fmt.Sprintf("Upstream playlist returned %d", resp.StatusCode), resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		logger.Warn("Playlist read failed for %s: %v", utils.LogURL(rl.cfg, playlistURL), err)
		http.Error(w, "Upstream closed early", http.StatusBadGateway)
		return
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		http.Error(w, "Invalid playlist URL", http.StatusBadGateway)
		return
	}

	rewritten, err := rewritePlaylist(body, base)
	if err != nil {
		// not decodable as HLS; hand the body over untouched
		logger.Debug("Playlist rewrite skipped for %s: %v", utils.LogURL(rl.cfg, playlistURL), err)
		rewritten = body
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

// rewritePlaylist routes every URI in the playlist through the local proxy,
// resolving relative references against the playlist's own URL.
func rewritePlaylist(body []byte, base *url.URL) ([]byte, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("decoding playlist: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, variant := range master.Variants {
			if variant == nil {
				continue
			}
			variant.URI = proxiedURI(base, variant.URI)
		}
		return master.Encode().Bytes(), nil

	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		for _, segment := range media.Segments {
			if segment == nil || segment.URI == "" {
				continue
			}
			segment.URI = proxiedURI(base, segment.URI)
		}
		if media.Key != nil && media.Key.URI != "" {
			media.Key.URI = proxiedURI(base, media.Key.URI)
		}
		return media.Encode().Bytes(), nil
	}

	return nil, fmt.Errorf("unrecognized playlist type")
}

// proxiedURI resolves uri against base and wraps it for the /hls endpoint.
// URIs that fail to resolve are left untouched.
func proxiedURI(base *url.URL, uri string) string {
	ref, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return uri
	}
	absolute := base.ResolveReference(ref).String()
	return "/hls?url=" + url.QueryEscape(absolute)
}
