package models

import "time"

// Subscription is a creator channel or feed being tracked. The four flags
// drive the reconciliation sweep's fan-out policy: IsExtractAll widens how
// far back a re-scan looks, IsAutoDownload turns extraction into download
// for the newest videos, IsDownloadAll removes the newest-N bound.
type Subscription struct {
	ID             int64     `db:"id"`
	URL            string    `db:"url"`
	Domain         string    `db:"domain"`
	Name           string    `db:"name"`
	Avatar         *string   `db:"avatar"`
	TotalVideos    *int      `db:"total_videos"`
	IsEnabled      bool      `db:"is_enabled"`
	IsAutoDownload bool      `db:"is_auto_download"`
	IsDownloadAll  bool      `db:"is_download_all"`
	IsExtractAll   bool      `db:"is_extract_all"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// SubscriptionVideo links a video to the subscription it was discovered
// through. A video reached by a one-off manual download has no link row.
type SubscriptionVideo struct {
	SubscriptionID int64 `db:"subscription_id"`
	VideoID        int64 `db:"video_id"`
}
