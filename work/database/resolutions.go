package database

import (
	"fmt"
	"time"
)

// ResolutionRow is one persisted resolution.
type ResolutionRow struct {
	EpisodeID  int
	VideoURL   string
	ResolvedAt time.Time
}

// SaveResolution upserts a resolution. A fresh resolution for the same
// episode overwrites the prior row, mirroring the in-memory cache.
func (db *DB) SaveResolution(episodeID int, videoURL string, resolvedAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO resolutions (episode_id, video_url, resolved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET
			video_url = excluded.video_url,
			resolved_at = excluded.resolved_at
	`, episodeID, videoURL, resolvedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	return nil
}

// LoadResolutions returns every persisted resolution, stale or not; the
// in-memory cache's TTL check decides what is still usable.
func (db *DB) LoadResolutions() ([]ResolutionRow, error) {
	rows, err := db.Query(`SELECT episode_id, video_url, resolved_at FROM resolutions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load resolutions: %w", err)
	}
	defer rows.Close()

	var out []ResolutionRow
	for rows.Next() {
		var row ResolutionRow
		var ts int64
		if err := rows.Scan(&row.EpisodeID, &row.VideoURL, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		row.ResolvedAt = time.Unix(ts, 0)
		out = append(out, row)
	}
	return out, rows.Err()
}

// PruneExpired deletes rows older than the TTL so the file does not grow
// without bound across restarts.
func (db *DB) PruneExpired(ttl time.Duration) (int64, error) {
	res, err := db.Exec(`DELETE FROM resolutions WHERE resolved_at < ?`,
		time.Now().Add(-ttl).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune resolutions: %w", err)
	}
	return res.RowsAffected()
}
