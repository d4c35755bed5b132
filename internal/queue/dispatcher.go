package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mediasub/internal/metrics"
	"mediasub/internal/models"
)

// Enqueuer is what producers depend on. Implemented by Dispatcher and
// mocked in tests.
type Enqueuer interface {
	Dispatch(ctx context.Context, queueName string, m *Message) error
}

// MessageStore is the slice of the relational store the dispatcher needs
// for its audit rows.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	MarkMessageStatus(ctx context.Context, id string, status models.SendStatus) error
	MarkMessageFailure(ctx context.Context, id string, nextRetry time.Time) error
}

// Dispatcher couples the durable message row with the queue push: the row
// is created PENDING and moves to SENDING once pushed. SENDING means
// on-queue or in-flight; the consumer marks SUCCESS after processing, so a
// row stuck in SENDING is a message lost after dequeue. The row outlives
// the queue entry and is what audit and retry tooling read.
type Dispatcher struct {
	queue *Queue
	store MessageStore
	log   zerolog.Logger
}

func NewDispatcher(q *Queue, store MessageStore, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{queue: q, store: store, log: log}
}

func (d *Dispatcher) Dispatch(ctx context.Context, queueName string, m *Message) error {
	row := &models.Message{ID: m.ID, Type: m.Type, Body: string(m.Body)}
	if err := d.store.CreateMessage(ctx, row); err != nil {
		return err
	}

	length, err := d.queue.Enqueue(ctx, queueName, m)
	if err != nil {
		metrics.MessagesDispatched.WithLabelValues(queueName, "failure").Inc()
		if dbErr := d.store.MarkMessageFailure(ctx, m.ID, time.Now().Add(time.Minute)); dbErr != nil {
			d.log.Error().Err(dbErr).Str("message_id", m.ID).Msg("failed to record dispatch failure")
		}
		return err
	}

	metrics.MessagesDispatched.WithLabelValues(queueName, "success").Inc()
	metrics.QueueDepth.WithLabelValues(queueName).Set(float64(length))
	d.log.Debug().
		Str("queue", queueName).
		Str("message_id", m.ID).
		Str("type", m.Type).
		Int64("depth", length).
		Msg("message dispatched")
	return d.store.MarkMessageStatus(ctx, m.ID, models.SendSending)
}
