package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/db"
	"mediasub/internal/extractor"
	"mediasub/internal/queue"
	"mediasub/internal/test"
)

// fakePlatform is a scripted extractor.Platform.
type fakePlatform struct {
	meta       *extractor.VideoInfo
	metaErr    error
	channel    *extractor.ChannelInfo
	channelErr error
	videos     []string
	downloadFn func(ctx context.Context, url, outputBase string, progress extractor.ProgressFunc) (string, error)
}

func (f *fakePlatform) GetMetadata(context.Context, string) (*extractor.VideoInfo, error) {
	return f.meta, f.metaErr
}

func (f *fakePlatform) GetChannelInfo(context.Context, string) (*extractor.ChannelInfo, error) {
	return f.channel, f.channelErr
}

func (f *fakePlatform) ListVideos(_ context.Context, _ string, limit int) ([]string, error) {
	if limit > 0 && limit < len(f.videos) {
		return f.videos[:limit], nil
	}
	return f.videos, nil
}

func (f *fakePlatform) Download(ctx context.Context, url, outputBase string, progress extractor.ProgressFunc) (string, error) {
	return f.downloadFn(ctx, url, outputBase, progress)
}

type fixture struct {
	handler  *Handler
	store    *db.Store
	mock     sqlmock.Sqlmock
	cache    *cache.Cache
	enq      *test.MockEnqueuer
	platform *fakePlatform
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, mock := test.NewMockStore(t)
	_, client := test.NewRedis(t)
	c := cache.New(client, 10*time.Minute)
	enq := &test.MockEnqueuer{}
	platform := &fakePlatform{}

	reg := extractor.NewRegistry()
	reg.Register(extractor.DomainYouTube, platform)
	reg.Register(extractor.DomainPodcast, platform)

	cfg := &config.Config{
		RetryThreshold: 5,
		DownloadDir:    t.TempDir(),
	}
	return &fixture{
		handler:  NewHandler(store, c, enq, reg, cfg, zerolog.Nop()),
		store:    store,
		mock:     mock,
		cache:    c,
		enq:      enq,
		platform: platform,
		cfg:      cfg,
	}
}

func taskColumns() []string {
	return []string{"id", "video_id", "status", "downloaded_size", "total_size", "speed", "eta", "percent", "retry", "error_message", "created_at", "updated_at"}
}

func taskRows(id, videoID int64, status string, retry int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(taskColumns()).
		AddRow(id, videoID, status, 0, 0, "", "", "", retry, nil, now, now)
}

func videoColumns() []string {
	return []string{"id", "url", "domain", "title", "thumbnail", "duration_seconds", "published_at", "file_uuid", "file_path", "is_downloaded", "created_at", "updated_at"}
}

func videoRows(id int64, url, domain, fileUUID string, downloaded bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(videoColumns()).
		AddRow(id, url, domain, nil, nil, nil, nil, fileUUID, nil, downloaded, now, now)
}

func extractMessage(t *testing.T, p queue.ExtractPayload) *queue.Message {
	t.Helper()
	m, err := queue.NewExtractMessage(p)
	assert.NoError(t, err)
	return m
}

func downloadMessage(t *testing.T, p queue.DownloadPayload) *queue.Message {
	t.Helper()
	m, err := queue.NewDownloadMessage(p)
	assert.NoError(t, err)
	return m
}
