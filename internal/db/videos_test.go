package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"mediasub/internal/models"
)

func videoColumns() []string {
	return []string{"id", "url", "domain", "title", "thumbnail", "duration_seconds", "published_at", "file_uuid", "file_path", "is_downloaded", "created_at", "updated_at"}
}

func videoRow(id int64, url string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(videoColumns()).
		AddRow(id, url, "youtube", nil, nil, nil, nil, "uuid-1", nil, false, now, now)
}

func TestCreateVideoWithLinksAndCreators(t *testing.T) {
	store, mock := newMockStore(t)

	title := "A Video"
	v := models.Video{URL: "https://www.youtube.com/watch?v=abc", Domain: "youtube", Title: &title, FileUUID: "uuid-1"}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO videos \(url, domain, title, thumbnail, duration_seconds, published_at, file_uuid\)`).
		WithArgs(v.URL, v.Domain, v.Title, nil, nil, nil, v.FileUUID).
		WillReturnRows(videoRow(10, v.URL))
	mock.ExpectExec(`INSERT INTO subscription_videos \(subscription_id, video_id\)`).
		WithArgs(int64(3), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO creators \(name, domain\)`).
		WithArgs("Some Uploader", "youtube").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO video_creators \(video_id, creator_id\)`).
		WithArgs(int64(10), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := store.CreateVideo(context.Background(), v, 3, []string{"Some Uploader"})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), created.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVideoWithoutSubscription(t *testing.T) {
	store, mock := newMockStore(t)

	v := models.Video{URL: "https://www.youtube.com/watch?v=abc", Domain: "youtube", FileUUID: "uuid-1"}

	// subscriptionID == 0 skips the link row entirely.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO videos`).
		WithArgs(v.URL, v.Domain, nil, nil, nil, nil, v.FileUUID).
		WillReturnRows(videoRow(10, v.URL))
	mock.ExpectCommit()

	created, err := store.CreateVideo(context.Background(), v, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), created.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVideoRollsBackOnLinkFailure(t *testing.T) {
	store, mock := newMockStore(t)

	v := models.Video{URL: "https://www.youtube.com/watch?v=abc", Domain: "youtube", FileUUID: "uuid-1"}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO videos`).
		WithArgs(v.URL, v.Domain, nil, nil, nil, nil, v.FileUUID).
		WillReturnRows(videoRow(10, v.URL))
	mock.ExpectExec(`INSERT INTO subscription_videos`).
		WithArgs(int64(3), int64(10)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := store.CreateVideo(context.Background(), v, 3, nil)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVideoDownloaded(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE videos SET is_downloaded = TRUE, file_path = \$1`).
		WithArgs("/data/uuid-1.mp4", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.MarkVideoDownloaded(context.Background(), 10, "/data/uuid-1.mp4"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
