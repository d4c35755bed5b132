package models

import "time"

// Video is a discovered remote video. The URL is its identity and carries
// a unique constraint; everything else is descriptive and may be repaired
// later by the reconciliation sweeps.
type Video struct {
	ID              int64      `db:"id"`
	URL             string     `db:"url"`
	Domain          string     `db:"domain"`
	Title           *string    `db:"title"`
	Thumbnail       *string    `db:"thumbnail"`
	DurationSeconds *int       `db:"duration_seconds"`
	PublishedAt     *time.Time `db:"published_at"`
	FileUUID        string     `db:"file_uuid"`
	FilePath        *string    `db:"file_path"`
	IsDownloaded    bool       `db:"is_downloaded"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Creator is an uploader/actor reported by a platform extractor.
type Creator struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Domain    string    `db:"domain"`
	CreatedAt time.Time `db:"created_at"`
}
