package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"mediasub/internal/cache"
	"mediasub/internal/extractor"
	"mediasub/internal/metrics"
	"mediasub/internal/models"
	"mediasub/internal/queue"
)

// progressPersistInterval throttles relational writes of live progress.
// The cache gets every tick; the row gets a periodic touch, which doubles
// as the liveness heartbeat the staleness sweep reads.
const progressPersistInterval = 5 * time.Second

// HandleDownload executes one download task: re-reads the row, moves it to
// DOWNLOADING, drives the platform fetch with a progress callback, and
// lands the task in COMPLETED, FAILED or PAUSED.
func (h *Handler) HandleDownload(ctx context.Context, m *queue.Message) error {
	var p queue.DownloadPayload
	if err := json.Unmarshal(m.Body, &p); err != nil {
		return fmt.Errorf("failed to unmarshal download payload: %w", err)
	}

	// The payload is only routing context; the row is the authority.
	t, err := h.store.GetTask(ctx, p.TaskID)
	if errors.Is(err, sql.ErrNoRows) {
		h.log.Warn().Int64("task_id", p.TaskID).Msg("download message for missing task, dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if t.Status == models.TaskCompleted || t.Status.IsTerminal() {
		return nil
	}

	video, err := h.store.GetVideo(ctx, t.VideoID)
	if err != nil {
		return fmt.Errorf("failed to load video %d: %w", t.VideoID, err)
	}
	platform, err := h.platforms.ForDomain(video.Domain)
	if err != nil {
		return err
	}

	if err := h.store.TransitionTask(ctx, &t, models.TaskDownloading); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			// Another worker holds it, or it just finished. Duplicate
			// delivery, not an error.
			h.log.Debug().Int64("task_id", t.ID).Str("status", string(t.Status)).Msg("task not startable, dropped")
			return nil
		}
		return err
	}

	// A stop flag left over from a previous pause must not kill the fresh
	// attempt on its first tick.
	if err := h.cache.ClearStop(ctx, t.ID); err != nil {
		h.log.Warn().Err(err).Int64("task_id", t.ID).Msg("failed to clear stop flag")
	}

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	outputBase := filepath.Join(h.cfg.DownloadDir, video.Domain, video.FileUUID)
	if err := os.MkdirAll(filepath.Dir(outputBase), 0o755); err != nil {
		failErr := h.store.FailTask(ctx, &t, err.Error())
		if failErr != nil {
			h.log.Error().Err(failErr).Int64("task_id", t.ID).Msg("failed to mark task FAILED")
		}
		return err
	}

	finalPath, err := platform.Download(ctx, video.URL, outputBase, h.progressCallback(ctx, t.ID))

	switch {
	case errors.Is(err, ErrStopped):
		// User-requested pause: no retry accounting, no error text.
		if terr := h.store.TransitionTask(ctx, &t, models.TaskPaused); terr != nil {
			h.log.Error().Err(terr).Int64("task_id", t.ID).Msg("failed to mark task PAUSED")
		}
		if cerr := h.cache.ClearStop(ctx, t.ID); cerr != nil {
			h.log.Warn().Err(cerr).Int64("task_id", t.ID).Msg("failed to clear stop flag")
		}
		h.log.Info().Int64("task_id", t.ID).Msg("download paused")
		return nil

	case err != nil:
		if ferr := h.store.FailTask(ctx, &t, err.Error()); ferr != nil {
			h.log.Error().Err(ferr).Int64("task_id", t.ID).Msg("failed to mark task FAILED")
		}
		return fmt.Errorf("download of task %d: %w", t.ID, err)
	}

	var size int64
	if fi, statErr := os.Stat(finalPath); statErr == nil {
		size = fi.Size()
	}
	if err := h.store.CompleteTask(ctx, t.ID, size); err != nil {
		return err
	}
	if err := h.store.MarkVideoDownloaded(ctx, video.ID, finalPath); err != nil {
		return err
	}
	if err := h.cache.SetMarker(ctx, video.Domain, cache.KeyForURL(video.URL), cache.FieldDownload); err != nil {
		h.log.Warn().Err(err).Int64("task_id", t.ID).Msg("failed to set download marker")
	}
	if err := h.cache.SetProgress(ctx, t.ID, cache.Progress{
		CurrentType:    "completed",
		DownloadedSize: size,
		TotalSize:      size,
		Percent:        "100%",
	}); err != nil {
		h.log.Warn().Err(err).Int64("task_id", t.ID).Msg("failed to finalize progress")
	}

	h.log.Info().Int64("task_id", t.ID).Str("file", finalPath).Int64("bytes", size).Msg("download completed")
	return nil
}

// progressCallback builds the per-tick hook: stop-flag check first, then
// the cache mirror, then the throttled row heartbeat.
func (h *Handler) progressCallback(ctx context.Context, taskID int64) extractor.ProgressFunc {
	var lastPersist time.Time
	return func(pr extractor.Progress) error {
		if stop, err := h.cache.StopRequested(ctx, taskID); err == nil && stop {
			return ErrStopped
		}

		if err := h.cache.SetProgress(ctx, taskID, cache.Progress{
			CurrentType:    "download",
			DownloadedSize: pr.DownloadedBytes,
			TotalSize:      pr.TotalBytes,
			Speed:          pr.Speed,
			Eta:            pr.Eta,
			Percent:        pr.Percent,
		}); err != nil {
			h.log.Warn().Err(err).Int64("task_id", taskID).Msg("failed to mirror progress")
		}

		if time.Since(lastPersist) >= progressPersistInterval {
			lastPersist = time.Now()
			if err := h.store.TouchTaskProgress(ctx, taskID, pr.DownloadedBytes, pr.TotalBytes, pr.Speed, pr.Eta, pr.Percent); err != nil {
				h.log.Warn().Err(err).Int64("task_id", taskID).Msg("failed to persist progress")
			}
		}
		return nil
	}
}
