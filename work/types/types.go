package types

import (
	"errors"
	"fmt"
)

// AnimeRecord is the normalized catalog record served by /search, reshaped
// from the upstream archive payload.
type AnimeRecord struct {
	ID            int      `json:"id"`
	TitleEn       string   `json:"title_en"`
	TitleIt       string   `json:"title_it"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Date          string   `json:"date"`
	EpisodesCount int      `json:"episodes_count"`
	Score         string   `json:"score"`
	Studio        string   `json:"studio"`
	Slug          string   `json:"slug"`
	Plot          string   `json:"plot"`
	Genres        []string `json:"genres"`
	Thumbnail     string   `json:"thumbnail"`
}

// Episode is one entry of an episode listing.
type Episode struct {
	EpisodeID int    `json:"episode_id"`
	Number    string `json:"number"`
	CreatedAt string `json:"created_at"`
	Visits    int64  `json:"visits"`
	ScwsID    int    `json:"scws_id"`
}

// EpisodeList is the /episodes response shape.
type EpisodeList struct {
	AnimeID  int       `json:"anime_id"`
	Episodes []Episode `json:"episodes"`
}

// ResolveResult is the outcome of a stream resolution.
type ResolveResult struct {
	EpisodeID int    `json:"episode_id"`
	StreamURL string `json:"stream_url"`
	Cached    bool   `json:"cached"`
}

// UpstreamError reports a non-success status observed from the upstream site.
// The status code is forwarded verbatim to the client.
type UpstreamError struct {
	StatusCode int
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

// ParseError reports an upstream response that succeeded at the HTTP level
// but did not contain the expected structure. Distinct from UpstreamError:
// the likely cause is a site-structure change, not an outage.
type ParseError struct {
	What string
}

func (e *ParseError) Error() string {
	return "failed to parse upstream response: " + e.What
}

// ErrVideoNotFound is returned when an embed page carries no recognizable
// video URL. Surfaced to clients as 404.
var ErrVideoNotFound = errors.New("no video url found in embed page")
