package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipCompressesForAcceptingClients(t *testing.T) {
	handler := Gzip(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hello":"` + strings.Repeat("x", 512) + `"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	compressedLen := rec.Body.Len()

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	decoded, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), `"hello"`)
	assert.Less(t, compressedLen, len(decoded))
}

func TestGzipPassthroughWithoutAcceptEncoding(t *testing.T) {
	handler := Gzip(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain"))
	})

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "plain", rec.Body.String())
}
