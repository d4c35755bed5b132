// Package consumer runs the queue consumer pools. Registration is
// explicit: each queue gets a handler and a concurrency at startup wiring
// time, nothing is discovered.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediasub/internal/metrics"
	"mediasub/internal/models"
	"mediasub/internal/queue"
)

// HandlerFunc processes one dequeued message. A returned error means the
// message is logged and dropped; the queue never redelivers, recovery is
// the reconciliation sweeps' job.
type HandlerFunc func(ctx context.Context, m *queue.Message) error

type entry struct {
	queueName   string
	handler     HandlerFunc
	concurrency int
}

type Registry struct {
	q          *queue.Queue
	store      queue.MessageStore
	log        zerolog.Logger
	popTimeout time.Duration
	entries    []entry
}

func NewRegistry(q *queue.Queue, store queue.MessageStore, log zerolog.Logger, popTimeout time.Duration) *Registry {
	return &Registry{q: q, store: store, log: log, popTimeout: popTimeout}
}

// Register binds a queue to a handler with a fixed pool size.
func (r *Registry) Register(queueName string, h HandlerFunc, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	r.entries = append(r.entries, entry{queueName: queueName, handler: h, concurrency: concurrency})
}

// Run blocks until ctx is cancelled and every worker goroutine has
// drained. Each worker processes exactly one message at a time.
func (r *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range r.entries {
		for i := 0; i < e.concurrency; i++ {
			wg.Add(1)
			go func(e entry, n int) {
				defer wg.Done()
				r.work(ctx, e, fmt.Sprintf("%s#%d", e.queueName, n))
			}(e, i)
		}
	}
	wg.Wait()
}

func (r *Registry) work(ctx context.Context, e entry, worker string) {
	log := r.log.With().Str("worker", worker).Str("queue", e.queueName).Logger()
	log.Info().Msg("consumer started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("consumer stopping")
			return
		}

		m, err := r.q.WaitAndDequeue(ctx, e.queueName, r.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("consumer stopping")
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			metrics.MessagesProcessed.WithLabelValues(e.queueName, "dropped").Inc()
			// Back off a little so a broken broker connection does not
			// spin the loop.
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if m == nil {
			continue // timeout, poll for shutdown
		}

		r.handle(ctx, e, log, m)
	}
}

// handle runs one message through the handler with a panic guard, so one
// poisoned message can never take the consumer goroutine down. The durable
// message row is settled here, after processing: SUCCESS on a clean return,
// FAILURE when the handler errors or panics. A crash between dequeue and
// this point leaves the row in SENDING, which is how lost messages are
// told apart from processed ones.
func (r *Registry) handle(ctx context.Context, e entry, log zerolog.Logger, m *queue.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("message_id", m.ID).
				Str("type", m.Type).
				Interface("panic", rec).
				Msg("handler panicked, message dropped")
			metrics.MessagesProcessed.WithLabelValues(e.queueName, "dropped").Inc()
			r.settleFailure(ctx, log, m)
		}
	}()

	start := time.Now()
	if err := e.handler(ctx, m); err != nil {
		log.Error().
			Err(err).
			Str("message_id", m.ID).
			Str("type", m.Type).
			Dur("took", time.Since(start)).
			Msg("message failed")
		metrics.MessagesProcessed.WithLabelValues(e.queueName, "error").Inc()
		r.settleFailure(ctx, log, m)
		return
	}
	log.Debug().
		Str("message_id", m.ID).
		Str("type", m.Type).
		Dur("took", time.Since(start)).
		Msg("message processed")
	metrics.MessagesProcessed.WithLabelValues(e.queueName, "ok").Inc()
	if err := r.store.MarkMessageStatus(ctx, m.ID, models.SendSuccess); err != nil {
		log.Error().Err(err).Str("message_id", m.ID).Msg("failed to settle message row")
	}
}

func (r *Registry) settleFailure(ctx context.Context, log zerolog.Logger, m *queue.Message) {
	if err := r.store.MarkMessageFailure(ctx, m.ID, time.Now().Add(time.Minute)); err != nil {
		log.Error().Err(err).Str("message_id", m.ID).Msg("failed to settle message row")
	}
}
