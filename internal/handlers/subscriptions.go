package handlers

import (
	"net/http"

	"github.com/goccy/go-json"

	"mediasub/internal/feed"
	"mediasub/internal/queue"
)

type subscribeRequest struct {
	URL    string `json:"url"`
	UserID int64  `json:"user_id"`
}

// PostSubscription enqueues a subscribe message; resolution of the channel
// happens on the worker, the request returns as soon as the message is on
// the queue.
func (a *API) PostSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		fail(w, http.StatusBadRequest)
		return
	}

	msg, err := queue.NewSubscribeMessage(queue.SubscribePayload{URL: req.URL, UserID: req.UserID})
	if err != nil {
		fail(w, http.StatusInternalServerError)
		return
	}
	if err := a.enq.Dispatch(r.Context(), queue.QueueSubscribe, msg); err != nil {
		a.log.Error().Err(err).Str("url", req.URL).Msg("failed to dispatch subscribe")
		fail(w, http.StatusInternalServerError)
		return
	}
	ok(w, http.StatusAccepted, map[string]string{"message_id": msg.ID})
}

// DeleteSubscription disables the subscription and parks it in the
// deferred-deletion set; the clean-unsubscribed sweep hard-deletes after
// the grace window.
func (a *API) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, okID := pathID(r)
	if !okID {
		fail(w, http.StatusBadRequest)
		return
	}
	if err := a.store.DisableSubscription(r.Context(), id); err != nil {
		a.log.Error().Err(err).Int64("subscription_id", id).Msg("failed to disable subscription")
		fail(w, http.StatusInternalServerError)
		return
	}
	if err := a.cache.AddUnsubscribed(r.Context(), id); err != nil {
		a.log.Error().Err(err).Int64("subscription_id", id).Msg("failed to park subscription")
		fail(w, http.StatusInternalServerError)
		return
	}
	ok(w, http.StatusOK, nil)
}

// SubscriptionFeed serves the completed downloads of a subscription as a
// podcast RSS feed.
func (a *API) SubscriptionFeed(w http.ResponseWriter, r *http.Request) {
	id, okID := pathID(r)
	if !okID {
		fail(w, http.StatusBadRequest)
		return
	}
	sub, err := a.store.GetSubscription(r.Context(), id)
	if err != nil {
		fail(w, http.StatusNotFound)
		return
	}
	episodes, err := a.store.ListCompletedEpisodes(r.Context(), id)
	if err != nil {
		a.log.Error().Err(err).Int64("subscription_id", id).Msg("failed to list episodes")
		fail(w, http.StatusInternalServerError)
		return
	}
	rss, err := feed.GenerateRSS(a.cfg.BaseURL, a.cfg.DownloadDir, sub, episodes, r)
	if err != nil {
		a.log.Error().Err(err).Int64("subscription_id", id).Msg("failed to generate feed")
		fail(w, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(rss))
}

// ServeFile serves downloaded media from the download directory.
func (a *API) ServeFile(w http.ResponseWriter, r *http.Request) {
	http.StripPrefix("/files/", http.FileServer(http.Dir(a.cfg.DownloadDir))).ServeHTTP(w, r)
}
