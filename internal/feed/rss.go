package feed

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/eduncan911/podcast"

	"mediasub/internal/db"
	"mediasub/internal/models"
)

func baseURL(configured string, r *http.Request) string {
	if configured != "" {
		return configured
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// GenerateRSS renders a subscription's completed downloads as a podcast
// feed, one enclosure per finished file. Enclosure URLs are served from
// the /files/ tree, which maps onto downloadDir.
func GenerateRSS(configuredBase, downloadDir string, sub models.Subscription, episodes []db.CompletedEpisode, r *http.Request) (string, error) {
	base := baseURL(configuredBase, r)

	p := podcast.New(
		sub.Name,
		fmt.Sprintf("%s/feed/%d", base, sub.ID),
		fmt.Sprintf("Downloads from %s", sub.Name),
		&time.Time{}, &time.Time{},
	)
	if sub.Avatar != nil {
		p.AddImage(*sub.Avatar)
	}

	for _, ep := range episodes {
		title := ep.FileUUID
		if ep.Title != nil {
			title = *ep.Title
		}
		item := podcast.Item{
			Title:       title,
			Description: title,
			PubDate:     ep.PublishedAt,
		}
		item.AddEnclosure(fmt.Sprintf("%s/files/%s", base, servedPath(downloadDir, ep)), podcast.MP4, ep.SizeBytes)
		if _, err := p.AddItem(item); err != nil {
			return "", err
		}
	}

	return p.String(), nil
}

// servedPath maps an episode's stored file path to its location under the
// /files/ tree. Episodes whose path predates the layout fall back to the
// bare file uuid.
func servedPath(downloadDir string, ep db.CompletedEpisode) string {
	if ep.FilePath == nil {
		return ep.FileUUID
	}
	rel, err := filepath.Rel(downloadDir, *ep.FilePath)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ep.FileUUID
	}
	return filepath.ToSlash(rel)
}
