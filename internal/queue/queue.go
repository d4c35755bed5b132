// Package queue implements the named work queues the pipeline runs on:
// Redis lists with blocking pop, one list per platform and stage. Delivery
// is at-least-once; a message lost between dequeue and commit is recovered
// by the reconciliation sweeps from the task rows, not by queue replay.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is the envelope every queue entry travels in. Body is an opaque
// JSON payload owned by the message type.
type Message struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewMessage wraps a payload in a fresh envelope.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Message{ID: uuid.NewString(), Type: msgType, Body: body}, nil
}

type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a message and returns the new queue length.
func (q *Queue) Enqueue(ctx context.Context, name string, m *Message) (int64, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message %s: %w", m.ID, err)
	}
	n, err := q.rdb.LPush(ctx, name, raw).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to push onto %s: %w", name, err)
	}
	return n, nil
}

// WaitAndDequeue blocks up to timeout for the next message and returns
// (nil, nil) when the queue stayed empty, so consumer loops wake up
// periodically to check for shutdown. The pop removes the entry
// atomically; there is no redelivery.
func (q *Queue) WaitAndDequeue(ctx context.Context, name string, timeout time.Duration) (*Message, error) {
	res, err := q.rdb.BRPop(ctx, timeout, name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", name, err)
	}
	// BRPop returns [key, value].
	var m Message
	if err := json.Unmarshal([]byte(res[1]), &m); err != nil {
		return nil, fmt.Errorf("malformed message on %s: %w", name, err)
	}
	return &m, nil
}

func (q *Queue) Length(ctx context.Context, name string) (int64, error) {
	return q.rdb.LLen(ctx, name).Result()
}

func (q *Queue) Clear(ctx context.Context, name string) error {
	return q.rdb.Del(ctx, name).Err()
}
