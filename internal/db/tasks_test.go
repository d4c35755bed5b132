package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"mediasub/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { mockDb.Close() })
	return NewStore(sqlx.NewDb(mockDb, "sqlmock")), mock
}

func taskColumns() []string {
	return []string{"id", "video_id", "status", "downloaded_size", "total_size", "speed", "eta", "percent", "retry", "error_message", "created_at", "updated_at"}
}

func taskRow(id, videoID int64, status models.TaskStatus, retry int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(taskColumns()).
		AddRow(id, videoID, status, 0, 0, "", "", "", retry, nil, now, now)
}

func TestCreateTaskUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	// The conflict arm must not touch updated_at: that column is the
	// staleness clock, and refreshing it on every upsert would keep
	// deferring the stuck-task sweep forever.
	mock.ExpectQuery(`INSERT INTO tasks \(video_id, status\)\s+VALUES \(\$1, \$2\)\s+ON CONFLICT \(video_id\) DO UPDATE SET video_id = EXCLUDED\.video_id`).
		WithArgs(int64(5), models.TaskPending).
		WillReturnRows(taskRow(1, 5, models.TaskPending, 0))

	task, err := store.CreateTask(context.Background(), 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), task.ID)
	assert.Equal(t, models.TaskPending, task.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionTask(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE tasks SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = \$3`).
		WithArgs(models.TaskDownloading, int64(1), models.TaskPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := models.Task{ID: 1, Status: models.TaskPending}
	err := store.TransitionTask(context.Background(), &task, models.TaskDownloading)
	assert.NoError(t, err)
	assert.Equal(t, models.TaskDownloading, task.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionTaskIllegal(t *testing.T) {
	store, _ := newMockStore(t)

	// COMPLETED -> DOWNLOADING is not in the transition table; no query runs.
	task := models.Task{ID: 1, Status: models.TaskCompleted}
	err := store.TransitionTask(context.Background(), &task, models.TaskDownloading)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.TaskCompleted, task.Status)
}

func TestTransitionTaskLostRace(t *testing.T) {
	store, mock := newMockStore(t)

	// The guarded UPDATE matches nothing because another worker moved the
	// row first.
	mock.ExpectExec(`UPDATE tasks SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = \$3`).
		WithArgs(models.TaskDownloading, int64(1), models.TaskPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	task := models.Task{ID: 1, Status: models.TaskPending}
	err := store.TransitionTask(context.Background(), &task, models.TaskDownloading)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.TaskPending, task.Status, "in-memory copy stays untouched")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailTask(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE tasks SET status = \$1, error_message = \$2, updated_at = NOW\(\)`).
		WithArgs(models.TaskFailed, "connection reset", int64(3), models.TaskDownloading).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := models.Task{ID: 3, Status: models.TaskDownloading}
	err := store.FailTask(context.Background(), &task, "connection reset")
	assert.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	if assert.NotNil(t, task.ErrorMessage) {
		assert.Equal(t, "connection reset", *task.ErrorMessage)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedriveTask(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE tasks\s+SET status = \$1, retry = retry \+ 1, error_message = NULL`).
		WithArgs(models.TaskPending, int64(3), models.TaskFailed).
		WillReturnRows(sqlmock.NewRows([]string{"retry"}).AddRow(2))

	retry, err := store.RedriveTask(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, 2, retry)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedriveTaskNotFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE tasks\s+SET status = \$1, retry = retry \+ 1, error_message = NULL`).
		WithArgs(models.TaskPending, int64(3), models.TaskFailed).
		WillReturnRows(sqlmock.NewRows([]string{"retry"}))

	_, err := store.RedriveTask(context.Background(), 3)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTaskRequiresDownloading(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE tasks\s+SET status = \$1, downloaded_size = \$2, total_size = \$2, percent = '100%'`).
		WithArgs(models.TaskCompleted, int64(2048), int64(9), models.TaskDownloading).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CompleteTask(context.Background(), 9, 2048)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStuck(t *testing.T) {
	store, mock := newMockStore(t)

	pendingBefore := time.Now().Add(-5 * time.Minute)
	downloadingBefore := time.Now().Add(-10 * time.Minute)
	rows := taskRow(1, 5, models.TaskPending, 0).
		AddRow(2, 6, models.TaskDownloading, 0, 0, "", "", "", 1, nil, time.Now(), time.Now())
	mock.ExpectQuery(`SELECT \* FROM tasks\s+WHERE \(status IN \(\$1, \$2\) AND updated_at < \$3\)`).
		WithArgs(models.TaskPending, models.TaskWaiting, pendingBefore, models.TaskDownloading, downloadingBefore).
		WillReturnRows(rows)

	stuck, err := store.ListStuck(context.Background(), pendingBefore, downloadingBefore)
	assert.NoError(t, err)
	assert.Len(t, stuck, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasActiveDownload(t *testing.T) {
	store, mock := newMockStore(t)

	since := time.Now().Add(-10 * time.Minute)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM tasks WHERE status = \$1 AND updated_at >= \$2\)`).
		WithArgs(models.TaskDownloading, since).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := store.HasActiveDownload(context.Background(), since)
	assert.NoError(t, err)
	assert.True(t, active)

	assert.NoError(t, mock.ExpectationsWereMet())
}
