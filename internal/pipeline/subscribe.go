package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"mediasub/internal/queue"
)

// HandleSubscribe resolves a channel/feed URL into a subscription row.
// Re-subscribing to a known URL re-enables the existing row.
func (h *Handler) HandleSubscribe(ctx context.Context, m *queue.Message) error {
	var p queue.SubscribePayload
	if err := json.Unmarshal(m.Body, &p); err != nil {
		return fmt.Errorf("failed to unmarshal subscribe payload: %w", err)
	}

	platform, domain, err := h.platforms.ForURL(p.URL)
	if err != nil {
		return err
	}

	if existing, err := h.store.GetSubscriptionByURL(ctx, p.URL); err == nil {
		h.log.Info().Int64("subscription_id", existing.ID).Str("url", p.URL).Msg("already subscribed")
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	info, err := platform.GetChannelInfo(ctx, p.URL)
	if err != nil {
		return fmt.Errorf("failed to resolve channel %s: %w", p.URL, err)
	}

	var avatar *string
	if info.Avatar != "" {
		avatar = &info.Avatar
	}
	sub, err := h.store.CreateSubscription(ctx, p.URL, domain, info.Name, avatar)
	if err != nil {
		return fmt.Errorf("failed to create subscription for %s: %w", p.URL, err)
	}
	if info.TotalVideos > 0 {
		if err := h.store.SetSubscriptionTotals(ctx, sub.ID, info.TotalVideos); err != nil {
			h.log.Warn().Err(err).Int64("subscription_id", sub.ID).Msg("failed to set totals")
		}
	}

	h.log.Info().
		Int64("subscription_id", sub.ID).
		Str("name", info.Name).
		Str("domain", domain).
		Msg("subscription created")
	return nil
}

// HandleProgress stores a playback position report.
func (h *Handler) HandleProgress(ctx context.Context, m *queue.Message) error {
	var p queue.ProgressPayload
	if err := json.Unmarshal(m.Body, &p); err != nil {
		return fmt.Errorf("failed to unmarshal progress payload: %w", err)
	}
	return h.store.UpsertWatchHistory(ctx, p.VideoID, p.ChannelID, p.WatchDuration, p.LastPosition, p.TotalDuration)
}
