// Package handlers is the HTTP surface: thin translations between
// requests and pipeline messages. Failures surface as a generic envelope;
// detailed error text stays in the task rows.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/db"
	"mediasub/internal/metrics"
	"mediasub/internal/queue"
)

type API struct {
	store *db.Store
	cache *cache.Cache
	enq   queue.Enqueuer
	cfg   *config.Config
	log   zerolog.Logger
}

func New(store *db.Store, c *cache.Cache, enq queue.Enqueuer, cfg *config.Config, log zerolog.Logger) *API {
	return &API{store: store, cache: c, enq: enq, cfg: cfg, log: log}
}

func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/api/subscriptions", a.PostSubscription).Methods(http.MethodPost)
	r.HandleFunc("/api/subscriptions/{id:[0-9]+}", a.DeleteSubscription).Methods(http.MethodDelete)
	r.HandleFunc("/api/videos", a.PostVideo).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id:[0-9]+}/retry", a.RetryTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id:[0-9]+}/pause", a.PauseTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id:[0-9]+}/progress", a.TaskProgress).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id:[0-9]+}", a.GetTask).Methods(http.MethodGet)
	r.HandleFunc("/feed/{id:[0-9]+}", a.SubscriptionFeed).Methods(http.MethodGet)
	r.PathPrefix("/files/").HandlerFunc(a.ServeFile).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, code int, data interface{}) {
	writeJSON(w, code, map[string]interface{}{"status": "ok", "data": data})
}

func fail(w http.ResponseWriter, code int) {
	writeJSON(w, code, map[string]string{"status": "error"})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}
