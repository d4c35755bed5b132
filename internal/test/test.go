// Package test holds shared fixtures for the package tests.
package test

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"mediasub/internal/db"
	"mediasub/internal/queue"
)

// Dispatched records one Dispatch call of the MockEnqueuer.
type Dispatched struct {
	Queue   string
	Message *queue.Message
}

// MockEnqueuer is an in-memory queue.Enqueuer for tests.
type MockEnqueuer struct {
	mu         sync.Mutex
	Dispatches []Dispatched
	Err        error
}

func (m *MockEnqueuer) Dispatch(_ context.Context, queueName string, msg *queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Dispatches = append(m.Dispatches, Dispatched{Queue: queueName, Message: msg})
	return nil
}

// NewMockStore returns a Store backed by sqlmock.
func NewMockStore(t *testing.T) (*db.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { mockDb.Close() })
	return db.NewStore(sqlx.NewDb(mockDb, "sqlmock")), mock
}

// NewRedis returns a miniredis instance and a connected client.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}
