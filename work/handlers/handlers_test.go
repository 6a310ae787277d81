package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auproxy/work/types"
)

func TestWriteErrorMapping(t *testing.T) {
	h := &Handler{}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"upstream status forwarded", &types.UpstreamError{StatusCode: http.StatusForbidden, URL: "https://x"}, http.StatusForbidden},
		{"upstream 503 forwarded", &types.UpstreamError{StatusCode: http.StatusServiceUnavailable, URL: "https://x"}, http.StatusServiceUnavailable},
		{"parse error is 502", &types.ParseError{What: "archive tag missing"}, http.StatusBadGateway},
		{"missing video is 404", types.ErrVideoNotFound, http.StatusNotFound},
		{"transport error is 502", errors.New("dial tcp: connection refused"), http.StatusBadGateway},
		{"wrapped upstream unwraps", &wrapped{&types.UpstreamError{StatusCode: http.StatusTooManyRequests}}, http.StatusTooManyRequests},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeError(rec, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

type wrapped struct{ inner error }

func (w *wrapped) Error() string { return "context: " + w.inner.Error() }
func (w *wrapped) Unwrap() error { return w.inner }

func TestIntParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/episodes?anime_id=42", nil)
	rec := httptest.NewRecorder()
	v, ok := intParam(rec, req, "anime_id")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	for _, query := range []string{"", "anime_id=abc", "anime_id=-3", "anime_id=0"} {
		req := httptest.NewRequest(http.MethodGet, "/episodes?"+query, nil)
		rec := httptest.NewRecorder()
		_, ok := intParam(rec, req, "anime_id")
		assert.False(t, ok, query)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}
