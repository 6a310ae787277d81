// Package extract holds the pure parsing functions for the two upstream
// payload shapes this proxy depends on: the catalog page's custom tag
// carrying an escaped JSON array of records, and the embed page's
// script-assigned video URL. Raw text in, structured data out; no I/O.
package extract

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/grafana/regexp"

	"auproxy/work/types"
)

var (
	// <archivio records="..."> holds the search results as an escaped JSON
	// attribute
	reArchivio = regexp.MustCompile(`<archivio[^>]*records="([^"]+)"`)

	// window.downloadUrl = 'https://...'; inside the embed page script
	reDownloadURL = regexp.MustCompile(`window\.downloadUrl\s*=\s*'([^']+)'`)

	// fallback: any absolute URL ending in a known media extension,
	// optionally followed by query parameters
	reMediaURL = regexp.MustCompile(`https?://[^\s'"<>]+\.(?:mp4|m3u8)(?:\?[^\s'"<>]*)?`)
)

// ArchiveRecords parses the catalog search page, returning the normalized
// record list. A page without the archive tag, or with an attribute that no
// longer decodes, yields a ParseError: the fetch succeeded but the site
// structure changed.
func ArchiveRecords(html string) ([]types.AnimeRecord, error) {
	m := reArchivio.FindStringSubmatch(html)
	if m == nil {
		return nil, &types.ParseError{What: "archive tag missing from catalog page"}
	}

	cleaned := unescapeRecords(m[1])

	var raw []archiveRecord
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &types.ParseError{What: "archive records attribute is not valid JSON"}
	}

	records := make([]types.AnimeRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, r.normalize())
	}
	return records, nil
}

// VideoURL scans an embed page for the script-assigned download URL, falling
// back to the generic media-extension pattern.
func VideoURL(html string) (string, bool) {
	if m := reDownloadURL.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	if m := reMediaURL.FindString(html); m != "" {
		return m, true
	}
	return "", false
}

// unescapeRecords undoes the attribute escaping the site applies to the
// records JSON before embedding it in HTML. Quotes and other specials arrive
// as HTML entities since the value sits inside a double-quoted attribute.
func unescapeRecords(s string) string {
	return html.UnescapeString(s)
}

// archiveRecord mirrors the upstream record shape. Fields the site sometimes
// serializes as numbers and sometimes as strings are held loose and
// stringified during normalization.
type archiveRecord struct {
	ID            int             `json:"id"`
	Title         string          `json:"title"`
	TitleEng      string          `json:"title_eng"`
	TitleIt       string          `json:"title_it"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Date          string          `json:"date"`
	EpisodesCount int             `json:"episodes_count"`
	Score         json.RawMessage `json:"score"`
	Studio        string          `json:"studio"`
	Slug          string          `json:"slug"`
	Plot          string          `json:"plot"`
	Genres        []archiveGenre  `json:"genres"`
	ImageURL      string          `json:"imageurl"`
}

type archiveGenre struct {
	Name string `json:"name"`
}

func (r archiveRecord) normalize() types.AnimeRecord {
	titleEn := r.TitleEng
	if titleEn == "" {
		titleEn = r.Title
	}
	titleIt := r.TitleIt
	if titleIt == "" {
		titleIt = r.Title
	}

	genres := make([]string, 0, len(r.Genres))
	for _, g := range r.Genres {
		genres = append(genres, g.Name)
	}

	return types.AnimeRecord{
		ID:            r.ID,
		TitleEn:       titleEn,
		TitleIt:       titleIt,
		Type:          r.Type,
		Status:        r.Status,
		Date:          r.Date,
		EpisodesCount: r.EpisodesCount,
		Score:         FlexString(r.Score),
		Studio:        r.Studio,
		Slug:          r.Slug,
		Plot:          strings.TrimSpace(r.Plot),
		Genres:        genres,
		Thumbnail:     r.ImageURL,
	}
}

// FlexString renders a raw JSON scalar as a plain string, whether the site
// sent it quoted, numeric, or null.
func FlexString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
