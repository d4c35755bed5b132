// Package pipeline holds the consumer-side flows: extraction, download,
// subscribe and watch-progress. Every handler re-verifies relational state
// before acting, so a replayed or duplicated message degrades to a no-op.
package pipeline

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediasub/internal/cache"
	"mediasub/internal/config"
	"mediasub/internal/db"
	"mediasub/internal/extractor"
	"mediasub/internal/queue"
)

// ErrStopped distinguishes a user-requested stop from a failure: the task
// ends PAUSED and the retry budget is untouched.
var ErrStopped = errors.New("download stopped by request")

type Handler struct {
	store     *db.Store
	cache     *cache.Cache
	enq       queue.Enqueuer
	platforms *extractor.Registry
	cfg       *config.Config
	log       zerolog.Logger
}

// newFileUUID names the on-disk artifact of a video independent of its
// title, which may be absent or unsafe as a file name.
func newFileUUID() string {
	return uuid.NewString()
}

func NewHandler(store *db.Store, c *cache.Cache, enq queue.Enqueuer, platforms *extractor.Registry, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		store:     store,
		cache:     c,
		enq:       enq,
		platforms: platforms,
		cfg:       cfg,
		log:       log,
	}
}
