package feed

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediasub/internal/db"
	"mediasub/internal/models"
)

func TestGenerateRSS(t *testing.T) {
	avatar := "https://example.com/cover.jpg"
	sub := models.Subscription{ID: 4, Name: "Some Channel", Avatar: &avatar}

	title := "Episode 1"
	path := "downloads/youtube/uuid-1.mp4"
	published := time.Date(2023, 9, 15, 12, 0, 0, 0, time.UTC)
	episodes := []db.CompletedEpisode{
		{Title: &title, FilePath: &path, FileUUID: "uuid-1", PublishedAt: &published, SizeBytes: 2048},
		{FileUUID: "uuid-2", SizeBytes: 1024}, // no title, no path
	}

	r := httptest.NewRequest("GET", "/feed/4", nil)
	rss, err := GenerateRSS("https://media.example.com", "downloads", sub, episodes, r)
	assert.NoError(t, err)

	assert.Contains(t, rss, "<title>Some Channel</title>")
	assert.Contains(t, rss, "https://media.example.com/feed/4")
	assert.Contains(t, rss, "Episode 1")
	// Enclosure paths are relative to the download dir.
	assert.Contains(t, rss, "https://media.example.com/files/youtube/uuid-1.mp4")
	// Missing path falls back to the file uuid, missing title to the uuid.
	assert.Contains(t, rss, "https://media.example.com/files/uuid-2")
	assert.Contains(t, rss, "<title>uuid-2</title>")
	assert.Contains(t, rss, avatar)
}

func TestServedPathEscapesFallBackToUUID(t *testing.T) {
	mk := func(p string) db.CompletedEpisode {
		return db.CompletedEpisode{FilePath: &p, FileUUID: "uuid-1"}
	}

	assert.Equal(t, "youtube/uuid-1.mp4", servedPath("downloads", mk("downloads/youtube/uuid-1.mp4")))
	// Anything at or above the download dir is never served.
	assert.Equal(t, "uuid-1", servedPath("downloads", mk("downloads")))
	assert.Equal(t, "uuid-1", servedPath("/srv/downloads", mk("/srv")))
	assert.Equal(t, "uuid-1", servedPath("downloads", mk("../etc/passwd")))
	assert.Equal(t, "uuid-1", servedPath("downloads", mk("")))
}

func TestGenerateRSSBaseFromRequest(t *testing.T) {
	sub := models.Subscription{ID: 4, Name: "Some Channel"}

	r := httptest.NewRequest("GET", "http://host.example.com/feed/4", nil)
	rss, err := GenerateRSS("", "downloads", sub, nil, r)
	assert.NoError(t, err)
	assert.Contains(t, rss, "http://host.example.com/feed/4")

	r.Header.Set("X-Forwarded-Proto", "https")
	rss, err = GenerateRSS("", "downloads", sub, nil, r)
	assert.NoError(t, err)
	assert.Contains(t, rss, "https://host.example.com/feed/4")
}
