package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"auproxy/work/logger"
	"auproxy/work/proxy"
	"auproxy/work/types"
	"auproxy/work/utils"
)

// Handler serves the public API endpoints over the assembled proxy.
type Handler struct {
	proxy *proxy.Proxy
}

// New creates the API handler set.
func New(p *proxy.Proxy) *Handler {
	return &Handler{proxy: p}
}

// errorResponse is the JSON body for every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// HandleSearch handles GET /search?title=...
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		writeJSONError(w, http.StatusBadRequest, "missing required query parameter: title")
		return
	}

	records, err := h.proxy.Catalog.Search(r.Context(), title)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleEpisodes handles GET /episodes?anime_id=...
func (h *Handler) HandleEpisodes(w http.ResponseWriter, r *http.Request) {
	animeID, ok := intParam(w, r, "anime_id")
	if !ok {
		return
	}

	list, err := h.proxy.Catalog.Episodes(r.Context(), animeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleStream handles GET /stream?episode_id=... and returns the resolved
// media URL without relaying any bytes.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := intParam(w, r, "episode_id")
	if !ok {
		return
	}

	result, err := h.proxy.Resolver.Resolve(r.Context(), episodeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleStreamVideo handles GET /stream_video?episode_id=...: resolve, then
// relay the media bytes with range support.
func (h *Handler) HandleStreamVideo(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := intParam(w, r, "episode_id")
	if !ok {
		return
	}

	result, err := h.proxy.Resolver.Resolve(r.Context(), episodeID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.proxy.Config.Debug {
		logger.Debug("Relaying episode %d from %s (cached=%t)",
			episodeID, utils.LogURL(h.proxy.Config, result.StreamURL), result.Cached)
	}
	h.proxy.Relay.ServeVideo(w, r, result.StreamURL)
}

// HandleHLS handles GET /hls?url=...: relays a playlist or segment URL that a
// previously rewritten playlist pointed back at us.
func (h *Handler) HandleHLS(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSONError(w, http.StatusBadRequest, "missing required query parameter: url")
		return
	}
	h.proxy.Relay.ServeVideo(w, r, target)
}

// writeError maps the resolver/catalog error taxonomy onto HTTP statuses.
// Upstream statuses forward verbatim, structural failures are 502, a missing
// video is 404, and transport failures collapse to 502.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var upstream *types.UpstreamError
	var parse *types.ParseError

	switch {
	case errors.As(err, &upstream):
		writeJSONError(w, upstream.StatusCode, upstream.Error())
	case errors.As(err, &parse):
		writeJSONError(w, http.StatusBadGateway, parse.Error())
	case errors.Is(err, types.ErrVideoNotFound):
		writeJSONError(w, http.StatusNotFound, types.ErrVideoNotFound.Error())
	default:
		logger.Error("Request failed: %v", err)
		writeJSONError(w, http.StatusBadGateway, "upstream request failed")
	}
}

// intParam reads a required integer query parameter, replying 400 itself when
// the parameter is missing or malformed.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, "missing required query parameter: "+name)
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid "+name+": must be a positive integer")
		return 0, false
	}
	return value, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("Failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
