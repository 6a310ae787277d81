package relay

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auproxy/work/buffer"
	"auproxy/work/config"
	"auproxy/work/session"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()

	cfg := &config.Config{
		BaseURL:         "https://www.animeunity.so",
		UserAgents:      []string{"test-agent"},
		FetchTimeout:    2 * time.Second,
		StreamChunkSize: 64 << 10,
	}
	return New(cfg, session.NewManager(cfg), buffer.NewChunkPool(cfg.StreamChunkSize))
}

func fullBody(n int) []byte {
	body := make([]byte, n)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	return body
}

func TestServeVideoPartialPassthrough(t *testing.T) {
	body := fullBody(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a well-behaved upstream honoring the range itself
		assert.Equal(t, "bytes=0-499", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-499/1000")
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[:500])
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	req.Header.Set("Range", "bytes=0-499")
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-499/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "500", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, body[:500], rec.Body.Bytes())
}

func TestServeVideoTranslatesRangeOverFullResponse(t *testing.T) {
	body := fullBody(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// upstream ignores the range and serves the whole file
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(body)
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, body[100:200], rec.Body.Bytes())
}

func TestServeVideoOpenEndedRange(t *testing.T) {
	body := fullBody(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(body)
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	req.Header.Set("Range", "bytes=900-")
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, body[900:], rec.Body.Bytes())
}

func TestServeVideoRangeBeyondEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(fullBody(1000))
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	req.Header.Set("Range", "bytes=2000-")
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
}

func TestServeVideoBrokenPartialRefetchedOnce(t *testing.T) {
	body := fullBody(1000)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// mislabeled partial: 206 with no Content-Range
			assert.NotEmpty(t, r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(body[:100])
			return
		}
		// the follow-up must not carry a Range header
		assert.Empty(t, r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(body)
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	// exactly one follow-up request, and the clean 200 is served whole
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.Equal(t, body, rec.Body.Bytes())
}

func TestServeVideoDefaultContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// suppress Go's content sniffing so the upstream truly sends no type
		w.Header()["Content-Type"] = nil
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
}

func TestServeVideoUpstreamErrorForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/stream_video?episode_id=1", nil)
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/ep.mp4")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServePlaylistRewritesMediaURIs(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:10",
		"#EXT-X-MEDIA-SEQUENCE:0",
		"#EXTINF:10.000,",
		"seg-0001.ts",
		"#EXTINF:10.000,",
		"https://cdn.example.com/other/seg-0002.ts",
		"#EXT-X-ENDLIST",
	}, "\n") + "\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, playlist)
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/hls?url=x", nil)
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/hls/master.m3u8")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, playlistContentType, rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	// relative segments resolve against the playlist URL, absolute ones keep
	// their host, and both route back through /hls
	assert.Contains(t, out, "/hls?url="+url.QueryEscape(srv.URL+"/hls/seg-0001.ts"))
	assert.Contains(t, out, "/hls?url="+url.QueryEscape("https://cdn.example.com/other/seg-0002.ts"))
	assert.NotContains(t, out, "\nseg-0001.ts\n")
}

func TestServePlaylistPassthroughWhenUndecodable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a playlist")
	}))
	defer srv.Close()

	rl := newTestRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/hls?url=x", nil)
	rec := httptest.NewRecorder()

	rl.ServeVideo(rec, req, srv.URL+"/broken.m3u8")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "this is not a playlist", rec.Body.String())
}

func TestParseClientRange(t *testing.T) {
	cases := []struct {
		header     string
		total      int64
		start, end int64
		ok         bool
	}{
		{"bytes=0-499", 1000, 0, 499, true},
		{"bytes=100-", 1000, 100, 999, true},
		{"bytes=0-5000", 1000, 0, 999, true},
		{"bytes=2000-", 1000, 2000, 999, true}, // caller turns this into 416
		{"bytes=500-100", 1000, 0, 0, false},
		{"bytes=abc-", 1000, 0, 0, false},
		{"bits=0-499", 1000, 0, 0, false},
	}

	for _, tc := range cases {
		start, end, ok := parseClientRange(tc.header, tc.total)
		assert.Equal(t, tc.ok, ok, tc.header)
		if tc.ok {
			assert.Equal(t, tc.start, start, tc.header)
			assert.Equal(t, tc.end, end, tc.header)
		}
	}
}

func TestLengthFromContentRange(t *testing.T) {
	length, ok := lengthFromContentRange("bytes 0-499/1000")
	require.True(t, ok)
	assert.Equal(t, int64(500), length)

	length, ok = lengthFromContentRange("bytes 100-199/*")
	require.True(t, ok)
	assert.Equal(t, int64(100), length)

	_, ok = lengthFromContentRange("garbage")
	assert.False(t, ok)
}
