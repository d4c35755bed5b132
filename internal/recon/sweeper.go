// Package recon holds the scheduler-driven reconciliation sweeps. They
// re-derive work from task rows, independent of queue contents, which is
// what closes the loop on messages lost after dequeue.
package recon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/db"
	"mediasub/internal/extractor"
	"mediasub/internal/models"
	"mediasub/internal/queue"
)

type Sweeper struct {
	store     *db.Store
	cache     *cache.Cache
	enq       queue.Enqueuer
	platforms *extractor.Registry
	cfg       *config.Config
	log       zerolog.Logger
	now       func() time.Time
}

func NewSweeper(store *db.Store, c *cache.Cache, enq queue.Enqueuer, platforms *extractor.Registry, cfg *config.Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		cache:     c,
		enq:       enq,
		platforms: platforms,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RetryFailed re-drives FAILED tasks inside the retry budget, then picks
// up stuck tasks. Stuck re-drive is admission-controlled: while any task
// is DOWNLOADING with a fresh heartbeat, only the plain FAILED ones move,
// so a single slow download never triggers a re-drive storm.
func (s *Sweeper) RetryFailed(ctx context.Context) error {
	failed, err := s.store.ListRetryableFailed(ctx, s.cfg.RetryThreshold)
	if err != nil {
		return err
	}
	for _, t := range failed {
		if err := s.redrive(ctx, t); err != nil {
			s.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to re-drive task")
		}
	}

	activeSince := s.now().Add(-s.cfg.DownloadingStaleness)
	active, err := s.store.HasActiveDownload(ctx, activeSince)
	if err != nil {
		return err
	}
	if active {
		s.log.Debug().Msg("active download present, deferring stuck-task re-drive")
		return nil
	}

	stuck, err := s.store.ListStuck(ctx,
		s.now().Add(-s.cfg.PendingStaleness),
		s.now().Add(-s.cfg.DownloadingStaleness))
	if err != nil {
		return err
	}
	for _, t := range stuck {
		switch t.Status {
		case models.TaskDownloading:
			// Worker died mid-download: fail it, then the normal retry
			// path applies.
			if err := s.store.FailTask(ctx, &t, "download stalled, worker presumed dead"); err != nil {
				s.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to fail stalled task")
				continue
			}
			if t.Retry < s.cfg.RetryThreshold {
				if err := s.redrive(ctx, t); err != nil {
					s.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to re-drive stalled task")
				}
			}
		case models.TaskPending, models.TaskWaiting:
			// The row is fine, the queue entry is gone. Re-dispatch
			// without touching retry accounting.
			if t.Retry >= s.cfg.RetryThreshold {
				continue
			}
			if err := s.dispatchDownload(ctx, t); err != nil {
				s.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to re-dispatch stuck task")
			}
		}
	}
	return nil
}

// redrive is the FAILED -> PENDING path: retry++ in the store, then a
// fresh download message on the scheduled queue.
func (s *Sweeper) redrive(ctx context.Context, t models.Task) error {
	retry, err := s.store.RedriveTask(ctx, t.ID)
	if err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			return nil // moved concurrently, nothing to do
		}
		return err
	}
	t.Status = models.TaskPending
	t.Retry = retry
	s.log.Info().Int64("task_id", t.ID).Int("retry", retry).Msg("task re-driven")
	return s.dispatchDownload(ctx, t)
}

func (s *Sweeper) dispatchDownload(ctx context.Context, t models.Task) error {
	video, err := s.store.GetVideo(ctx, t.VideoID)
	if err != nil {
		return fmt.Errorf("failed to load video %d: %w", t.VideoID, err)
	}
	msg, err := queue.NewDownloadMessage(queue.DownloadPayload{
		TaskID:  t.ID,
		VideoID: video.ID,
		URL:     video.URL,
		Domain:  video.Domain,
		Status:  string(t.Status),
		Retry:   t.Retry,
	})
	if err != nil {
		return err
	}
	return s.enq.Dispatch(ctx, queue.DownloadQueue(true), msg)
}

// FailExhausted is the dead-letter sweep: PENDING tasks past the retry
// threshold are force-failed so nothing keeps picking them up.
func (s *Sweeper) FailExhausted(ctx context.Context) error {
	tasks, err := s.store.ListExhaustedPending(ctx, s.cfg.RetryThreshold)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := s.store.FailTask(ctx, &t, "retry threshold exceeded"); err != nil {
			s.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to dead-letter task")
			continue
		}
		s.log.Info().Int64("task_id", t.ID).Int("retry", t.Retry).Msg("task dead-lettered")
	}
	return nil
}

// AutoUpdateSubscriptions re-scans every enabled subscription with a
// bounded fan-out: the subscription flags decide how far back the scan
// reaches and how many of the newest videos get a download instead of an
// extract-only pass.
func (s *Sweeper) AutoUpdateSubscriptions(ctx context.Context) error {
	subs, err := s.store.ListEnabledSubscriptions(ctx)
	if err != nil {
		return err
	}
	parked, err := s.cache.Unsubscribed(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read unsubscribed set")
	}
	skip := make(map[int64]bool, len(parked))
	for _, id := range parked {
		skip[id] = true
	}

	for _, sub := range subs {
		if skip[sub.ID] {
			continue // pending deletion, do not race the purge
		}
		if err := s.scanSubscription(ctx, sub); err != nil {
			s.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("subscription scan failed")
		}
	}
	return nil
}

func (s *Sweeper) scanSubscription(ctx context.Context, sub models.Subscription) error {
	platform, err := s.platforms.ForDomain(sub.Domain)
	if err != nil {
		return err
	}

	limit := s.cfg.SweepFanout
	if sub.IsExtractAll {
		limit = s.cfg.SweepFanoutAll
	}
	urls, err := platform.ListVideos(ctx, sub.URL, limit)
	if err != nil {
		return err
	}

	for i, u := range urls {
		onlyExtract := true
		if sub.IsAutoDownload && (sub.IsDownloadAll || i < s.cfg.AutoDownloadLatest) {
			onlyExtract = false
		}
		msg, err := queue.NewExtractMessage(queue.ExtractPayload{
			URL:            u,
			Subscribed:     true,
			OnlyExtract:    onlyExtract,
			SubscriptionID: sub.ID,
		})
		if err != nil {
			return err
		}
		if err := s.enq.Dispatch(ctx, queue.ExtractQueue(sub.Domain, true), msg); err != nil {
			return err
		}
	}
	s.log.Debug().Int64("subscription_id", sub.ID).Int("dispatched", len(urls)).Msg("subscription scanned")
	return nil
}

// RepairSubscriptionTotals backfills total_videos from the relational
// join.
func (s *Sweeper) RepairSubscriptionTotals(ctx context.Context) error {
	subs, err := s.store.ListSubscriptionsMissingTotals(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		n, err := s.store.CountVideosForSubscription(ctx, sub.ID)
		if err != nil {
			s.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to count videos")
			continue
		}
		if err := s.store.SetSubscriptionTotals(ctx, sub.ID, n); err != nil {
			s.log.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to set totals")
		}
	}
	return nil
}

// RepairVideoDurations re-extracts metadata for videos missing a duration.
func (s *Sweeper) RepairVideoDurations(ctx context.Context) error {
	videos, err := s.store.ListVideosMissingDuration(ctx, 50)
	if err != nil {
		return err
	}
	for _, v := range videos {
		platform, err := s.platforms.ForDomain(v.Domain)
		if err != nil {
			continue
		}
		info, err := platform.GetMetadata(ctx, v.URL)
		if err != nil {
			s.log.Warn().Err(err).Int64("video_id", v.ID).Msg("duration repair extract failed")
			continue
		}
		if info.DurationSeconds == 0 {
			continue
		}
		if err := s.store.UpdateVideoMetadata(ctx, v.ID, info.Title, info.Thumbnail, info.DurationSeconds); err != nil {
			s.log.Error().Err(err).Int64("video_id", v.ID).Msg("failed to update video metadata")
		}
	}
	return nil
}

// RepairTaskInfo backfills size fields of completed tasks, preferring the
// file on disk over the counters.
func (s *Sweeper) RepairTaskInfo(ctx context.Context) error {
	tasks, err := s.store.ListCompletedMissingTotals(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		total := t.DownloadedSize
		if video, err := s.store.GetVideo(ctx, t.VideoID); err == nil && video.FilePath != nil {
			if fi, err := os.Stat(*video.FilePath); err == nil {
				total = fi.Size()
			}
		}
		if total == 0 {
			continue
		}
		if err := s.store.RepairTaskTotals(ctx, t.ID, total); err != nil {
			s.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to repair task totals")
		}
	}
	return nil
}

// CleanUnsubscribed drains the deferred-deletion set and hard-deletes the
// parked subscriptions. The cache lock keeps two scheduler processes from
// purging concurrently; losing the lock just means another node is on it.
func (s *Sweeper) CleanUnsubscribed(ctx context.Context) error {
	lock, err := s.cache.AcquireLock(ctx, "clean_unsubscribed", 5*time.Minute, time.Second)
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to release purge lock")
		}
	}()

	ids, err := s.cache.Unsubscribed(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.store.PurgeSubscription(ctx, id); err != nil {
			s.log.Error().Err(err).Int64("subscription_id", id).Msg("failed to purge subscription")
			continue
		}
		if err := s.cache.RemoveUnsubscribed(ctx, id); err != nil {
			s.log.Warn().Err(err).Int64("subscription_id", id).Msg("failed to unpark subscription")
		}
		s.log.Info().Int64("subscription_id", id).Msg("subscription purged")
	}
	return nil
}
