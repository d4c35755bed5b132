package queue

import "fmt"

// Queue names are partitioned two ways: per platform, so one slow or
// broken site cannot head-of-line-block the others, and manual vs
// scheduled, so a backlog of background re-scans never starves a user
// click.
const (
	QueueSubscribe     = "video_subscribe"
	QueueVideoProgress = "video_progress"

	queueDownload          = "video_download"
	queueDownloadScheduled = "video_download_scheduled"
)

// ExtractQueue names the extraction queue for a platform domain.
func ExtractQueue(domain string, scheduled bool) string {
	if scheduled {
		return fmt.Sprintf("video_extract_%s_scheduled", domain)
	}
	return fmt.Sprintf("video_extract_%s", domain)
}

// DownloadQueue names the download queue for a request class.
func DownloadQueue(scheduled bool) string {
	if scheduled {
		return queueDownloadScheduled
	}
	return queueDownload
}
