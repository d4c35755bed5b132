package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mediasub/internal/cache"
	"mediasub/internal/extractor"
	"mediasub/internal/models"
	"mediasub/internal/queue"
)

// HandleExtract runs one extraction request end to end: dedup, metadata,
// row creation, and the conditional hand-off to the download stage.
func (h *Handler) HandleExtract(ctx context.Context, m *queue.Message) error {
	var p queue.ExtractPayload
	if err := json.Unmarshal(m.Body, &p); err != nil {
		return fmt.Errorf("failed to unmarshal extract payload: %w", err)
	}

	platform, domain, err := h.platforms.ForURL(p.URL)
	if err != nil && p.SubscriptionID > 0 {
		// Podcast enclosures live on arbitrary CDN hosts; fall back to
		// the subscription's domain.
		if sub, serr := h.store.GetSubscription(ctx, p.SubscriptionID); serr == nil {
			domain = sub.Domain
			platform, err = h.platforms.ForDomain(domain)
		}
	}
	if err != nil {
		return err
	}
	videoKey := cache.KeyForURL(p.URL)
	log := h.log.With().Str("url", p.URL).Str("domain", domain).Bool("manual", p.Manual).Logger()

	// Scheduled extract-only re-scans are the high-volume path; an
	// unexpired marker short-circuits them before any relational work.
	// Never taken for manual requests.
	if !p.Manual && p.OnlyExtract {
		if fresh, err := h.cache.MarkerFresh(ctx, domain, videoKey, cache.FieldExtract); err == nil && fresh {
			log.Debug().Msg("extract suppressed by dedup marker")
			return nil
		}
	}

	video, err := h.store.GetVideoByURL(ctx, p.URL)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if exists && p.OnlyExtract {
		// Already known: refresh the marker so the next re-scan takes the
		// fast path, and stop.
		if err := h.cache.SetMarker(ctx, domain, videoKey, cache.FieldExtract); err != nil {
			log.Warn().Err(err).Msg("failed to refresh extract marker")
		}
		return nil
	}

	if !exists {
		info, err := platform.GetMetadata(ctx, p.URL)
		if errors.Is(err, extractor.ErrUnsupported) {
			return h.recordUnsupported(ctx, domain, p, log)
		}
		if err != nil {
			// Transient: abort without touching any task state; the next
			// scheduled re-scan or sweep re-attempts.
			return fmt.Errorf("extraction failed for %s: %w", p.URL, err)
		}

		subID := int64(0)
		if p.Subscribed {
			subID = p.SubscriptionID
		}
		video, err = h.store.CreateVideo(ctx, videoRow(p.URL, domain, info), subID, info.Creators)
		if err != nil {
			return fmt.Errorf("failed to create video for %s: %w", p.URL, err)
		}
		log.Info().Int64("video_id", video.ID).Msg("video discovered")
	}

	if err := h.cache.SetMarker(ctx, domain, videoKey, cache.FieldExtract); err != nil {
		log.Warn().Err(err).Msg("failed to set extract marker")
	}

	if p.OnlyExtract {
		return nil
	}
	return h.maybeDispatchDownload(ctx, domain, videoKey, p, video)
}

// recordUnsupported pins a playlist/unsupported URL so it is never
// retried: a bare video row plus a task parked in UNSUPPORTED.
func (h *Handler) recordUnsupported(ctx context.Context, domain string, p queue.ExtractPayload, log zerolog.Logger) error {
	log.Warn().Msg("unsupported resource, will not retry")
	if p.OnlyExtract {
		return nil
	}
	video, err := h.store.CreateVideo(ctx, models.Video{URL: p.URL, Domain: domain, FileUUID: newFileUUID()}, 0, nil)
	if err != nil {
		return err
	}
	t, err := h.store.CreateTask(ctx, video.ID)
	if err != nil {
		return err
	}
	if err := h.store.TransitionTask(ctx, &t, models.TaskUnsupported); err != nil && !errors.Is(err, models.ErrIllegalTransition) {
		return err
	}
	return nil
}

// maybeDispatchDownload applies the hand-off suppressions and enqueues the
// download message. Manual requests skip every suppression except "already
// completed".
func (h *Handler) maybeDispatchDownload(ctx context.Context, domain, videoKey string, p queue.ExtractPayload, video models.Video) error {
	t, err := h.store.GetTaskByVideoID(ctx, video.ID)
	hasTask := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if hasTask {
		switch {
		case t.Status == models.TaskCompleted,
			t.Status == models.TaskDeleted,
			t.Status == models.TaskUnsupported:
			return nil
		case !p.Manual && t.Status == models.TaskPaused:
			// Paused by the user; only a manual retry resumes it.
			return nil
		case !p.Manual && t.Status == models.TaskFailed:
			// Re-drive of failed tasks belongs to the sweep and the
			// manual retry path, not the re-scan.
			return nil
		case !p.Manual && t.Retry >= h.cfg.RetryThreshold:
			// Exhausted; only the manual retry path may re-drive it.
			return nil
		}
	}

	if !p.Manual {
		if video.IsDownloaded {
			return nil
		}
		if fresh, err := h.cache.MarkerFresh(ctx, domain, videoKey, cache.FieldDownload); err == nil && fresh {
			return nil
		}
	}

	if !hasTask {
		t, err = h.store.CreateTask(ctx, video.ID)
		if err != nil {
			return fmt.Errorf("failed to create task for video %d: %w", video.ID, err)
		}
	} else if t.Status == models.TaskFailed && p.Manual {
		retry, err := h.store.RedriveTask(ctx, t.ID)
		if err != nil {
			return err
		}
		t.Status = models.TaskPending
		t.Retry = retry
	}

	msg, err := queue.NewDownloadMessage(queue.DownloadPayload{
		TaskID:         t.ID,
		VideoID:        video.ID,
		SubscriptionID: p.SubscriptionID,
		URL:            video.URL,
		Domain:         domain,
		Status:         string(t.Status),
		Retry:          t.Retry,
	})
	if err != nil {
		return err
	}
	return h.enq.Dispatch(ctx, queue.DownloadQueue(!p.Manual), msg)
}

func videoRow(url, domain string, info *extractor.VideoInfo) models.Video {
	v := models.Video{URL: url, Domain: domain, FileUUID: newFileUUID()}
	if info.Title != "" {
		title := info.Title
		v.Title = &title
	}
	if info.Thumbnail != "" {
		thumb := info.Thumbnail
		v.Thumbnail = &thumb
	}
	if info.DurationSeconds > 0 {
		d := info.DurationSeconds
		v.DurationSeconds = &d
	}
	v.PublishedAt = info.PublishedAt
	return v
}
