package db

import (
	"context"
	"time"

	"mediasub/internal/models"
)

func (s *Store) GetSubscription(ctx context.Context, id int64) (models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, "SELECT * FROM subscriptions WHERE id = $1", id)
	return sub, err
}

func (s *Store) GetSubscriptionByURL(ctx context.Context, url string) (models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, "SELECT * FROM subscriptions WHERE url = $1", url)
	return sub, err
}

// CreateSubscription inserts a subscription, re-enabling an existing row
// for the same URL instead of duplicating it.
func (s *Store) CreateSubscription(ctx context.Context, url, domain, name string, avatar *string) (models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, `
		INSERT INTO subscriptions (url, domain, name, avatar)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET is_enabled = TRUE, updated_at = NOW()
		RETURNING *`,
		url, domain, name, avatar)
	return sub, err
}

func (s *Store) ListEnabledSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM subscriptions WHERE is_enabled = TRUE ORDER BY id ASC`)
	return out, err
}

func (s *Store) DisableSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET is_enabled = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *Store) SetSubscriptionTotals(ctx context.Context, id int64, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET total_videos = $1, updated_at = NOW() WHERE id = $2`,
		total, id)
	return err
}

func (s *Store) ListSubscriptionsMissingTotals(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM subscriptions WHERE total_videos IS NULL`)
	return out, err
}

// PurgeSubscription hard-deletes a subscription and everything discovered
// through it, in one transaction. Runs from the clean-unsubscribed sweep
// after the 24h grace window, never from the request path.
func (s *Store) PurgeSubscription(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM tasks WHERE video_id IN (SELECT video_id FROM subscription_videos WHERE subscription_id = $1)`,
		`DELETE FROM video_creators WHERE video_id IN (SELECT video_id FROM subscription_videos WHERE subscription_id = $1)`,
		`DELETE FROM videos WHERE id IN (SELECT video_id FROM subscription_videos WHERE subscription_id = $1)`,
		`DELETE FROM subscription_videos WHERE subscription_id = $1`,
		`DELETE FROM subscriptions WHERE id = $1`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CompletedEpisode is one finished download of a subscription, shaped for
// the RSS feed.
type CompletedEpisode struct {
	Title       *string    `db:"title"`
	FilePath    *string    `db:"file_path"`
	FileUUID    string     `db:"file_uuid"`
	PublishedAt *time.Time `db:"published_at"`
	SizeBytes   int64      `db:"size_bytes"`
}

func (s *Store) ListCompletedEpisodes(ctx context.Context, subscriptionID int64) ([]CompletedEpisode, error) {
	var out []CompletedEpisode
	err := s.db.SelectContext(ctx, &out, `
		SELECT v.title, v.file_path, v.file_uuid, v.published_at, t.total_size AS size_bytes
		FROM videos v
		JOIN subscription_videos sv ON sv.video_id = v.id
		JOIN tasks t ON t.video_id = v.id
		WHERE sv.subscription_id = $1 AND t.status = $2
		ORDER BY v.published_at DESC NULLS LAST`,
		subscriptionID, models.TaskCompleted)
	return out, err
}
