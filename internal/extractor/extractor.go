// Package extractor routes metadata and download work to per-platform
// engines through a static registry populated at startup.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Supported platform domains.
const (
	DomainYouTube  = "youtube"
	DomainBilibili = "bilibili"
	DomainPornhub  = "pornhub"
	DomainJavdb    = "javdb"
	DomainPodcast  = "podcast"
)

// ErrUnsupported marks a permanently un-downloadable resource (playlist or
// unsupported container). Not retried.
var ErrUnsupported = errors.New("unsupported resource")

// ErrUnknownDomain means no registered platform claims the URL.
var ErrUnknownDomain = errors.New("unknown platform domain")

// VideoInfo is what a platform reports about one video.
type VideoInfo struct {
	ID              string
	Title           string
	Thumbnail       string
	DurationSeconds int
	PublishedAt     *time.Time
	Creators        []string
}

// ChannelInfo describes a channel or feed.
type ChannelInfo struct {
	Name        string
	Avatar      string
	TotalVideos int
}

// Progress is one tick of download progress. String fields carry the fetch
// engine's own formatting.
type Progress struct {
	DownloadedBytes int64
	TotalBytes      int64
	Speed           string
	Eta             string
	Percent         string
}

// ProgressFunc is called on every progress tick. Returning a non-nil error
// aborts the download and surfaces that error; this is the cooperative
// cancellation hook.
type ProgressFunc func(p Progress) error

// Platform is one site's extraction/download capability.
type Platform interface {
	GetMetadata(ctx context.Context, url string) (*VideoInfo, error)
	GetChannelInfo(ctx context.Context, url string) (*ChannelInfo, error)
	// ListVideos returns video URLs, newest first, at most limit.
	ListVideos(ctx context.Context, channelURL string, limit int) ([]string, error)
	// Download fetches into a path derived from outputBase and returns the
	// final file path.
	Download(ctx context.Context, url, outputBase string, progress ProgressFunc) (string, error)
}

// Registry maps domains to platforms. Populated once during startup
// wiring; no runtime discovery.
type Registry struct {
	byDomain map[string]Platform
}

func NewRegistry() *Registry {
	return &Registry{byDomain: make(map[string]Platform)}
}

func (r *Registry) Register(domain string, p Platform) {
	r.byDomain[domain] = p
}

func (r *Registry) ForDomain(domain string) (Platform, error) {
	p, ok := r.byDomain[domain]
	if !ok {
		return nil, fmt.Errorf("%q: %w", domain, ErrUnknownDomain)
	}
	return p, nil
}

// ForURL resolves the platform and domain key for a video or channel URL.
func (r *Registry) ForURL(rawURL string) (Platform, string, error) {
	domain, err := DomainOf(rawURL)
	if err != nil {
		return nil, "", err
	}
	p, err := r.ForDomain(domain)
	if err != nil {
		return nil, "", err
	}
	return p, domain, nil
}

func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.byDomain))
	for d := range r.byDomain {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DomainOf classifies a URL by host. Podcast feeds live on arbitrary
// hosts, so anything that looks like an RSS document falls through to the
// podcast domain.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%q: %w", rawURL, ErrUnknownDomain)
	}
	host := strings.ToLower(u.Host)
	switch {
	case strings.Contains(host, "youtube.") || strings.Contains(host, "youtu.be"):
		return DomainYouTube, nil
	case strings.Contains(host, "bilibili."):
		return DomainBilibili, nil
	case strings.Contains(host, "pornhub."):
		return DomainPornhub, nil
	case strings.Contains(host, "javdb."):
		return DomainJavdb, nil
	}
	path := strings.ToLower(u.Path)
	for _, suffix := range []string{".xml", ".rss", ".mp3", ".m4a", ".aac", ".ogg", ".opus"} {
		if strings.HasSuffix(path, suffix) {
			return DomainPodcast, nil
		}
	}
	if strings.Contains(path, "/feed") {
		return DomainPodcast, nil
	}
	return "", fmt.Errorf("%q: %w", rawURL, ErrUnknownDomain)
}
