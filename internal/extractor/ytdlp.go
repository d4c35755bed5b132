package extractor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var execCommandContext = exec.CommandContext

// YtDlp drives the yt-dlp binary. One instance serves every site the
// binary understands; the registry decides which domains point at it.
type YtDlp struct {
	binary string
	log    zerolog.Logger
}

func NewYtDlp(log zerolog.Logger) *YtDlp {
	return &YtDlp{binary: "yt-dlp", log: log}
}

type ytDlpInfo struct {
	Type       string   `json:"_type"`
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Thumbnail  string   `json:"thumbnail"`
	Duration   float64  `json:"duration"`
	UploadDate string   `json:"upload_date"`
	Uploader   string   `json:"uploader"`
	Cast       []string `json:"cast"`
	URL        string   `json:"url"`
	WebpageURL string   `json:"webpage_url"`
}

func (y *YtDlp) GetMetadata(ctx context.Context, url string) (*VideoInfo, error) {
	cmd := execCommandContext(ctx, y.binary, "-j", "--no-playlist", "--no-warnings", url)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata for %s: %w: %s", url, err, truncate(output))
	}

	info, err := parseYtDlpJSON(output)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata for %s: %w", url, err)
	}
	if info.Type == "playlist" || info.Type == "multi_video" {
		return nil, fmt.Errorf("%s is a playlist: %w", url, ErrUnsupported)
	}

	v := &VideoInfo{
		ID:              info.ID,
		Title:           info.Title,
		Thumbnail:       info.Thumbnail,
		DurationSeconds: int(info.Duration),
	}
	if t, err := time.Parse("20060102", info.UploadDate); err == nil {
		v.PublishedAt = &t
	}
	if len(info.Cast) > 0 {
		v.Creators = info.Cast
	} else if info.Uploader != "" {
		v.Creators = []string{info.Uploader}
	}
	return v, nil
}

type ytDlpPlaylist struct {
	Title         string `json:"title"`
	PlaylistCount int    `json:"playlist_count"`
	Thumbnails    []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Entries []ytDlpInfo `json:"entries"`
}

func (y *YtDlp) GetChannelInfo(ctx context.Context, url string) (*ChannelInfo, error) {
	cmd := execCommandContext(ctx, y.binary, "--flat-playlist", "-J", "--no-warnings", url)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp channel info for %s: %w: %s", url, err, truncate(output))
	}

	start := strings.Index(string(output), "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON in yt-dlp output for %s", url)
	}
	var pl ytDlpPlaylist
	if err := json.Unmarshal(output[start:], &pl); err != nil {
		return nil, fmt.Errorf("yt-dlp channel info for %s: %w", url, err)
	}

	info := &ChannelInfo{Name: pl.Title, TotalVideos: pl.PlaylistCount}
	if info.TotalVideos == 0 {
		info.TotalVideos = len(pl.Entries)
	}
	if len(pl.Thumbnails) > 0 {
		info.Avatar = pl.Thumbnails[0].URL
	}
	return info, nil
}

func (y *YtDlp) ListVideos(ctx context.Context, channelURL string, limit int) ([]string, error) {
	args := []string{"--flat-playlist", "-j", "--no-warnings"}
	if limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(limit))
	}
	args = append(args, channelURL)

	cmd := execCommandContext(ctx, y.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp list for %s: %w: %s", channelURL, err, truncate(output))
	}

	// One JSON object per line, newest first.
	var urls []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var e ytDlpInfo
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			y.log.Warn().Err(err).Str("channel", channelURL).Msg("skipping malformed playlist entry")
			continue
		}
		u := e.URL
		if u == "" {
			u = e.WebpageURL
		}
		if u == "" {
			continue
		}
		urls = append(urls, u)
		if limit > 0 && len(urls) >= limit {
			break
		}
	}
	return urls, nil
}

// progressRe matches yt-dlp --newline progress lines, e.g.
// "[download]  45.5% of ~120.00MiB at 2.50MiB/s ETA 00:32".
var progressRe = regexp.MustCompile(`\[download\]\s+([\d.]+)% of ~?\s*([\d.]+)(KiB|MiB|GiB|TiB|B) at\s+(\S+) ETA\s+(\S+)`)

// Download runs yt-dlp with line-buffered progress. Every parsed progress
// line becomes one callback tick; a non-nil return from the callback kills
// the process and that error is what Download returns.
func (y *YtDlp) Download(ctx context.Context, url, outputBase string, progress ProgressFunc) (string, error) {
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := execCommandContext(dlCtx, y.binary,
		"--newline",
		"--no-playlist",
		"-o", outputBase+".%(ext)s",
		url,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	var cbErr error
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		m := progressRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		total := parseSize(m[2], m[3])
		percent, _ := strconv.ParseFloat(m[1], 64)
		tick := Progress{
			DownloadedBytes: int64(float64(total) * percent / 100),
			TotalBytes:      total,
			Speed:           m[4],
			Eta:             m[5],
			Percent:         m[1] + "%",
		}
		if err := progress(tick); err != nil {
			cbErr = err
			cancel()
			break
		}
	}

	waitErr := cmd.Wait()
	if cbErr != nil {
		return "", cbErr
	}
	if waitErr != nil {
		return "", fmt.Errorf("yt-dlp download of %s: %w", url, waitErr)
	}

	matches, _ := filepath.Glob(outputBase + ".*")
	if len(matches) == 0 {
		return "", fmt.Errorf("yt-dlp reported success but no file at %s.*", outputBase)
	}
	return matches[0], nil
}

func parseSize(val, unit string) int64 {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case "KiB":
		f *= 1 << 10
	case "MiB":
		f *= 1 << 20
	case "GiB":
		f *= 1 << 30
	case "TiB":
		f *= 1 << 40
	}
	return int64(f)
}

func parseYtDlpJSON(output []byte) (*ytDlpInfo, error) {
	// yt-dlp sometimes prints noise before the JSON.
	start := strings.Index(string(output), "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON in yt-dlp output")
	}
	var info ytDlpInfo
	if err := json.Unmarshal(output[start:], &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
