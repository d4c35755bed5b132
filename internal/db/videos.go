package db

import (
	"context"

	"mediasub/internal/models"
)

func (s *Store) GetVideo(ctx context.Context, id int64) (models.Video, error) {
	var v models.Video
	err := s.db.GetContext(ctx, &v, "SELECT * FROM videos WHERE id = $1", id)
	return v, err
}

func (s *Store) GetVideoByURL(ctx context.Context, url string) (models.Video, error) {
	var v models.Video
	err := s.db.GetContext(ctx, &v, "SELECT * FROM videos WHERE url = $1", url)
	return v, err
}

// CreateVideo inserts a video together with its subscription link and
// creator rows in one transaction: the video's initial creation either
// commits whole or not at all. The unique URL constraint makes the racing
// loser converge on the winner's row instead of failing.
func (s *Store) CreateVideo(ctx context.Context, v models.Video, subscriptionID int64, creators []string) (models.Video, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Video{}, err
	}
	defer tx.Rollback()

	var created models.Video
	err = tx.GetContext(ctx, &created, `
		INSERT INTO videos (url, domain, title, thumbnail, duration_seconds, published_at, file_uuid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url) DO UPDATE SET updated_at = NOW()
		RETURNING *`,
		v.URL, v.Domain, v.Title, v.Thumbnail, v.DurationSeconds, v.PublishedAt, v.FileUUID)
	if err != nil {
		return models.Video{}, err
	}

	if subscriptionID > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscription_videos (subscription_id, video_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			subscriptionID, created.ID)
		if err != nil {
			return models.Video{}, err
		}
	}

	for _, name := range creators {
		var creatorID int64
		err = tx.GetContext(ctx, &creatorID, `
			INSERT INTO creators (name, domain)
			VALUES ($1, $2)
			ON CONFLICT (name, domain) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			name, v.Domain)
		if err != nil {
			return models.Video{}, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO video_creators (video_id, creator_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			created.ID, creatorID)
		if err != nil {
			return models.Video{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Video{}, err
	}
	return created, nil
}

func (s *Store) MarkVideoDownloaded(ctx context.Context, id int64, filePath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE videos SET is_downloaded = TRUE, file_path = $1, updated_at = NOW() WHERE id = $2`,
		filePath, id)
	return err
}

// UpdateVideoMetadata backfills descriptive fields; identity (URL) never
// changes.
func (s *Store) UpdateVideoMetadata(ctx context.Context, id int64, title, thumbnail string, durationSeconds int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE videos
		SET title = COALESCE(NULLIF($1, ''), title),
		    thumbnail = COALESCE(NULLIF($2, ''), thumbnail),
		    duration_seconds = $3,
		    updated_at = NOW()
		WHERE id = $4`,
		title, thumbnail, durationSeconds, id)
	return err
}

// ListVideosMissingDuration feeds the duration repair sweep.
func (s *Store) ListVideosMissingDuration(ctx context.Context, limit int) ([]models.Video, error) {
	var out []models.Video
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM videos
		WHERE duration_seconds IS NULL OR duration_seconds = 0
		ORDER BY created_at ASC LIMIT $1`,
		limit)
	return out, err
}

func (s *Store) CountVideosForSubscription(ctx context.Context, subscriptionID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM subscription_videos WHERE subscription_id = $1`,
		subscriptionID)
	return n, err
}
