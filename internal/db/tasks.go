package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediasub/internal/metrics"
	"mediasub/internal/models"
)

// CreateTask creates the download task for a video, or returns the existing
// row: one task per video, retries reuse the row. The conflict arm is a
// no-op touch so a concurrent creator and loser both observe the same task;
// updated_at stays put, it is the staleness clock the sweeps read.
func (s *Store) CreateTask(ctx context.Context, videoID int64) (models.Task, error) {
	var t models.Task
	err := s.db.GetContext(ctx, &t, `
		INSERT INTO tasks (video_id, status)
		VALUES ($1, $2)
		ON CONFLICT (video_id) DO UPDATE SET video_id = EXCLUDED.video_id
		RETURNING *`,
		videoID, models.TaskPending)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	var t models.Task
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tasks WHERE id = $1", id)
	return t, err
}

func (s *Store) GetTaskByVideoID(ctx context.Context, videoID int64) (models.Task, error) {
	var t models.Task
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tasks WHERE video_id = $1", videoID)
	return t, err
}

// TransitionTask moves a task to a new status after checking the transition
// table. The UPDATE is guarded on the expected current status so a stale
// in-memory copy can never overwrite a concurrent change; in that case the
// row is left untouched and ErrIllegalTransition is returned.
func (s *Store) TransitionTask(ctx context.Context, t *models.Task, to models.TaskStatus) error {
	if !models.CanTransition(t.Status, to) {
		return fmt.Errorf("task %d: %s -> %s: %w", t.ID, t.Status, to, models.ErrIllegalTransition)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, t.ID, t.Status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d: status is no longer %s: %w", t.ID, t.Status, models.ErrIllegalTransition)
	}
	metrics.TaskTransitions.WithLabelValues(string(t.Status), string(to)).Inc()
	t.Status = to
	return nil
}

// FailTask marks a task FAILED with the error text from the attempt.
func (s *Store) FailTask(ctx context.Context, t *models.Task, errMsg string) error {
	from := t.Status
	if !models.CanTransition(from, models.TaskFailed) {
		return fmt.Errorf("task %d: %s -> %s: %w", t.ID, from, models.TaskFailed, models.ErrIllegalTransition)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.TaskFailed, errMsg, t.ID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d: status is no longer %s: %w", t.ID, from, models.ErrIllegalTransition)
	}
	metrics.TaskTransitions.WithLabelValues(string(from), string(models.TaskFailed)).Inc()
	t.Status = models.TaskFailed
	t.ErrorMessage = &errMsg
	return nil
}

// RedriveTask is the only FAILED -> PENDING path and the only place the
// retry counter moves. Returns the new retry count.
func (s *Store) RedriveTask(ctx context.Context, id int64) (int, error) {
	var retry int
	err := s.db.GetContext(ctx, &retry, `
		UPDATE tasks
		SET status = $1, retry = retry + 1, error_message = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING retry`,
		models.TaskPending, id, models.TaskFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("task %d: not FAILED: %w", id, models.ErrIllegalTransition)
	}
	if err != nil {
		return 0, err
	}
	metrics.TaskTransitions.WithLabelValues(string(models.TaskFailed), string(models.TaskPending)).Inc()
	return retry, nil
}

// TouchTaskProgress persists the live counters. Guarded on DOWNLOADING so a
// late tick from a paused worker cannot resurrect the row; the updated_at
// bump is also the liveness heartbeat the staleness sweep reads.
func (s *Store) TouchTaskProgress(ctx context.Context, id, downloaded, total int64, speed, eta, percent string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET downloaded_size = GREATEST(downloaded_size, $1),
		    total_size = GREATEST(total_size, $2),
		    speed = $3, eta = $4, percent = $5, updated_at = NOW()
		WHERE id = $6 AND status = $7`,
		downloaded, total, speed, eta, percent, id, models.TaskDownloading)
	return err
}

// CompleteTask finishes a download: final sizes, cleared error.
func (s *Store) CompleteTask(ctx context.Context, id, totalSize int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1, downloaded_size = $2, total_size = $2, percent = '100%',
		    error_message = NULL, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.TaskCompleted, totalSize, id, models.TaskDownloading)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d: not DOWNLOADING: %w", id, models.ErrIllegalTransition)
	}
	metrics.TaskTransitions.WithLabelValues(string(models.TaskDownloading), string(models.TaskCompleted)).Inc()
	return nil
}

// ListRetryableFailed returns FAILED tasks still inside the retry budget,
// oldest failure first.
func (s *Store) ListRetryableFailed(ctx context.Context, threshold int) ([]models.Task, error) {
	var out []models.Task
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM tasks WHERE status = $1 AND retry < $2 ORDER BY updated_at ASC`,
		models.TaskFailed, threshold)
	return out, err
}

// ListStuck returns tasks whose row has not moved past the staleness
// windows: a pre-download task nobody picked up, or a DOWNLOADING task
// whose worker stopped heartbeating.
func (s *Store) ListStuck(ctx context.Context, pendingBefore, downloadingBefore time.Time) ([]models.Task, error) {
	var out []models.Task
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM tasks
		WHERE (status IN ($1, $2) AND updated_at < $3)
		   OR (status = $4 AND updated_at < $5)
		ORDER BY updated_at ASC`,
		models.TaskPending, models.TaskWaiting, pendingBefore,
		models.TaskDownloading, downloadingBefore)
	return out, err
}

// HasActiveDownload reports whether any task is DOWNLOADING with a fresh
// heartbeat. The stuck-task re-drive is admission-controlled on this.
func (s *Store) HasActiveDownload(ctx context.Context, since time.Time) (bool, error) {
	var active bool
	err := s.db.GetContext(ctx, &active, `
		SELECT EXISTS(SELECT 1 FROM tasks WHERE status = $1 AND updated_at >= $2)`,
		models.TaskDownloading, since)
	return active, err
}

// ListExhaustedPending returns PENDING tasks past the retry threshold,
// candidates for the dead-letter sweep.
func (s *Store) ListExhaustedPending(ctx context.Context, threshold int) ([]models.Task, error) {
	var out []models.Task
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM tasks WHERE status = $1 AND retry >= $2`,
		models.TaskPending, threshold)
	return out, err
}

// ListCompletedMissingTotals returns COMPLETED tasks whose denormalized
// size fields were lost, for the repair sweep.
func (s *Store) ListCompletedMissingTotals(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM tasks WHERE status = $1 AND (total_size = 0 OR percent <> '100%')`,
		models.TaskCompleted)
	return out, err
}

// RepairTaskTotals backfills the size fields of a completed task.
func (s *Store) RepairTaskTotals(ctx context.Context, id, total int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET downloaded_size = $1, total_size = $1, percent = '100%', updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		total, id, models.TaskCompleted)
	return err
}
