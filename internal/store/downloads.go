package store

import (
	"fmt"
	"time"
)

// InsertDownload appends a completed download to the history.
func (s *Store) InsertDownload(rec *DownloadRecord) error {
	query := `
		INSERT INTO downloads (file_name, package_id, file_id, size_bytes, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := s.db.Exec(query,
		rec.FileName,
		rec.PackageID,
		rec.FileID,
		rec.SizeBytes,
		rec.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return wrap(err, "failed to insert download %s", rec.FileName)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get download id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListDownloads returns the most recent downloads first. A limit of zero or
// less returns everything.
func (s *Store) ListDownloads(limit int) ([]*DownloadRecord, error) {
	query := `
		SELECT id, file_name, package_id, file_id, size_bytes, completed_at
		FROM downloads
		ORDER BY completed_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrap(err, "failed to list downloads")
	}
	defer rows.Close()

	var out []*DownloadRecord
	for rows.Next() {
		var (
			rec         DownloadRecord
			completedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.FileName, &rec.PackageID, &rec.FileID, &rec.SizeBytes, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan download row: %w", err)
		}
		rec.CompletedAt, err = time.Parse(time.RFC3339, completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at for %s: %w", rec.FileName, err)
		}
		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating downloads: %w", err)
	}
	return out, nil
}
