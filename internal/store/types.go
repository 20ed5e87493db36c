package store

import "time"

// Setting keys.
const (
	SettingAPIKey      = "api_key"
	SettingDownloadDir = "download_dir"
	SettingGameDir     = "game_dir"
	SettingLastToken   = "last_token"
)

// DownloadRecord is one completed download in the history table.
type DownloadRecord struct {
	ID          int64
	FileName    string
	PackageID   uint64
	FileID      uint64
	SizeBytes   int64
	CompletedAt time.Time
}
