package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"auproxy/work/cache"
	"auproxy/work/config"
	"auproxy/work/extract"
	"auproxy/work/fetch"
	"auproxy/work/logger"
	"auproxy/work/session"
	"auproxy/work/types"
)

// Fetcher is the slice of the resilient fetch client the catalog needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Result, error)
}

// Service answers the catalog operations: title search and episode listing.
// Both are fetch-and-reshape calls over the shared session; the page cache
// absorbs repeat queries inside a short window.
type Service struct {
	cfg      *config.Config
	fetcher  Fetcher
	sessions *session.Manager
	pages    *cache.PageCache
}

// New builds the catalog service. pages may be nil to disable page caching.
func New(cfg *config.Config, fetcher Fetcher, sessions *session.Manager, pages *cache.PageCache) *Service {
	return &Service{
		cfg:      cfg,
		fetcher:  fetcher,
		sessions: sessions,
		pages:    pages,
	}
}

// Search queries the upstream archive page and returns normalized records.
// An HTML page without parsable records is a ParseError (the site changed),
// never an empty success.
func (s *Service) Search(ctx context.Context, title string) ([]types.AnimeRecord, error) {
	searchURL := fmt.Sprintf("%s/archivio?title=%s", s.cfg.BaseURL, url.QueryEscape(title))

	body, err := s.fetchPage(ctx, "search:"+title, searchURL, false)
	if err != nil {
		return nil, err
	}

	records, err := extract.ArchiveRecords(string(body))
	if err != nil {
		return nil, err
	}
	if s.cfg.Debug {
		logger.Debug("Search %q matched %d records", title, len(records))
	}
	return records, nil
}

// infoResponse is the relevant slice of the upstream info_api payload.
type infoResponse struct {
	EpisodesCount int              `json:"episodes_count"`
	Episodes      []episodePayload `json:"episodes"`
}

type episodePayload struct {
	ID        int             `json:"id"`
	Number    json.RawMessage `json:"number"`
	CreatedAt string          `json:"created_at"`
	Visits    int64           `json:"visite"`
	ScwsID    int             `json:"scws_id"`
}

// Episodes lists the episodes of a title, bounded to the configured page
// size. Two upstream calls: one for the count, one for the bounded listing.
// A title with zero episodes short-circuits the second call.
func (s *Service) Episodes(ctx context.Context, animeID int) (*types.EpisodeList, error) {
	infoURL := fmt.Sprintf("%s/info_api/%d/0", s.cfg.BaseURL, animeID)

	body, err := s.fetchPage(ctx, fmt.Sprintf("info:%d", animeID), infoURL, true)
	if err != nil {
		return nil, err
	}

	var info infoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &types.ParseError{What: "info payload is not valid JSON"}
	}

	list := &types.EpisodeList{AnimeID: animeID, Episodes: []types.Episode{}}
	if info.EpisodesCount == 0 {
		return list, nil
	}

	bound := info.EpisodesCount
	if bound > s.cfg.MaxEpisodesPerPage {
		bound = s.cfg.MaxEpisodesPerPage
	}
	listURL := fmt.Sprintf("%s?start_range=0&end_range=%d", infoURL, bound)

	body, err = s.fetchPage(ctx, fmt.Sprintf("episodes:%d:%d", animeID, bound), listURL, true)
	if err != nil {
		return nil, err
	}

	var page infoResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &types.ParseError{What: "episode listing is not valid JSON"}
	}

	for _, e := range page.Episodes {
		list.Episodes = append(list.Episodes, types.Episode{
			EpisodeID: e.ID,
			Number:    extract.FlexString(e.Number),
			CreatedAt: e.CreatedAt,
			Visits:    e.Visits,
			ScwsID:    e.ScwsID,
		})
	}
	return list, nil
}

// fetchPage returns the body for a URL, from the page cache when fresh,
// otherwise through one handshake-locked session fetch. Only 200 responses
// are cached; any other status forwards as an UpstreamError.
func (s *Service) fetchPage(ctx context.Context, cacheKey, rawURL string, acceptJSON bool) ([]byte, error) {
	if s.pages != nil {
		if body, ok := s.pages.Get(cacheKey); ok {
			return body, nil
		}
	}

	s.sessions.LockHandshake()
	res, err := s.fetcher.Get(ctx, rawURL, fetch.Options{
		Referer:    s.sessions.Referer(),
		AcceptJSON: acceptJSON,
	})
	s.sessions.UnlockHandshake()

	if err != nil {
		return nil, fmt.Errorf("catalog fetch: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &types.UpstreamError{StatusCode: res.StatusCode, URL: rawURL}
	}

	if s.pages != nil {
		s.pages.Set(cacheKey, res.Body)
	}
	return res.Body, nil
}
