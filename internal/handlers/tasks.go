package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"mediasub/internal/extractor"
	"mediasub/internal/models"
	"mediasub/internal/queue"
)

type videoRequest struct {
	URL         string `json:"url"`
	OnlyExtract bool   `json:"only_extract"`
}

// PostVideo is the manual path: a user asking for one URL. Manual messages
// ride the interactive queues and bypass every dedup suppression.
func (a *API) PostVideo(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		fail(w, http.StatusBadRequest)
		return
	}
	domain, err := extractor.DomainOf(req.URL)
	if err != nil {
		fail(w, http.StatusBadRequest)
		return
	}

	msg, err := queue.NewExtractMessage(queue.ExtractPayload{
		URL:         req.URL,
		OnlyExtract: req.OnlyExtract,
		Manual:      true,
	})
	if err != nil {
		fail(w, http.StatusInternalServerError)
		return
	}
	if err := a.enq.Dispatch(r.Context(), queue.ExtractQueue(domain, false), msg); err != nil {
		a.log.Error().Err(err).Str("url", req.URL).Msg("failed to dispatch extract")
		fail(w, http.StatusInternalServerError)
		return
	}
	ok(w, http.StatusAccepted, map[string]string{"message_id": msg.ID})
}

// RetryTask is the manual re-drive. Unlike the sweep it ignores the retry
// threshold: an explicit human request always gets an attempt.
func (a *API) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, okID := pathID(r)
	if !okID {
		fail(w, http.StatusBadRequest)
		return
	}

	t, err := a.store.GetTask(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		fail(w, http.StatusNotFound)
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError)
		return
	}

	switch t.Status {
	case models.TaskFailed:
		retry, err := a.store.RedriveTask(r.Context(), t.ID)
		if err != nil {
			a.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to re-drive task")
			fail(w, http.StatusConflict)
			return
		}
		t.Status = models.TaskPending
		t.Retry = retry
	case models.TaskPaused, models.TaskPending, models.TaskWaiting:
		// resumable as-is
	default:
		fail(w, http.StatusConflict)
		return
	}

	video, err := a.store.GetVideo(r.Context(), t.VideoID)
	if err != nil {
		fail(w, http.StatusInternalServerError)
		return
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
		fail(w, http.StatusInternalServerError)
		return
	}
	if err := a.enq.Dispatch(r.Context(), queue.DownloadQueue(false), msg); err != nil {
		a.log.Error().Err(err).Int64("task_id", t.ID).Msg("failed to dispatch retry")
		fail(w, http.StatusInternalServerError)
		return
	}
	ok(w, http.StatusAccepted, map[string]interface{}{"task_id": t.ID, "retry": t.Retry})
}

// PauseTask raises the cooperative stop flag; the downloader observes it
// on its next progress tick.
func (a *API) PauseTask(w http.ResponseWriter, r *http.Request) {
	id, okID := pathID(r)
	if !okID {
		fail(w, http.StatusBadRequest)
		return
	}
	if err := a.cache.RequestStop(r.Context(), id); err != nil {
		a.log.Error().Err(err).Int64("task_id", id).Msg("failed to request stop")
		fail(w, http.StatusInternalServerError)
		return
	}
	ok(w, http.StatusAccepted, nil)
}

// TaskProgress reads the live counters from the cache only; the relational
// store is never touched on this path.
func (a *API) TaskProgress(w http.ResponseWriter, r *http.Request) {
	id, okID := pathID(r)
	if !okID {
		fail(w, http.StatusBadRequest)
		return
	}
	p, err := a.cache.GetProgress(r.Context(), id)
	if err != nil {
		a.log.Error().Err(err).Int64("task_id", id).Msg("failed to read progress")
		fail(w, http.StatusInternalServerError)
		return
	}
	if p == nil {
		fail(w, http.StatusNotFound)
		return
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"current_type":    p.CurrentType,
		"downloaded_size": p.DownloadedSize,
		"total_size":      p.TotalSize,
		"speed":           p.Speed,
		"eta":             p.Eta,
		"percent":         p.Percent,
	})
}

// GetTask returns the task row for the browsing UI.
func (a *API) GetTask(w http.ResponseWriter, r *http.Request) {
	id, okID := pathID(r)
	if !okID {
		fail(w, http.StatusBadRequest)
		return
	}
	t, err := a.store.GetTask(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		fail(w, http.StatusNotFound)
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError)
		return
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"id":              t.ID,
		"video_id":        t.VideoID,
		"status":          t.Status,
		"downloaded_size": t.DownloadedSize,
		"total_size":      t.TotalSize,
		"speed":           t.Speed,
		"eta":             t.Eta,
		"percent":         t.Percent,
		"retry":           t.Retry,
		"error_message":   t.ErrorMessage,
		"created_at":      t.CreatedAt,
		"updated_at":      t.UpdatedAt,
	})
}
