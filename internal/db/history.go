package db

import "context"

// UpsertWatchHistory records playback position reported through the
// video_progress queue. One row per video.
func (s *Store) UpsertWatchHistory(ctx context.Context, videoID, subscriptionID int64, watchDuration, lastPosition, totalDuration float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_history (video_id, subscription_id, watch_duration, last_position, total_duration)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (video_id) DO UPDATE SET
			watch_duration = EXCLUDED.watch_duration,
			last_position = EXCLUDED.last_position,
			total_duration = EXCLUDED.total_duration,
			updated_at = NOW()`,
		videoID, subscriptionID, watchDuration, lastPosition, totalDuration)
	return err
}
