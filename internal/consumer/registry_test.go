package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"mediasub/internal/models"
	"mediasub/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.New(client)
}

// settleStore records how each message row was settled after processing.
type settleStore struct {
	mu       sync.Mutex
	statuses map[string]models.SendStatus
	failed   map[string]bool
}

func newSettleStore() *settleStore {
	return &settleStore{statuses: make(map[string]models.SendStatus), failed: make(map[string]bool)}
}

func (s *settleStore) CreateMessage(context.Context, *models.Message) error { return nil }

func (s *settleStore) MarkMessageStatus(_ context.Context, id string, status models.SendStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *settleStore) MarkMessageFailure(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = true
	return nil
}

func (s *settleStore) statusOf(id string) (models.SendStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

func (s *settleStore) hasFailed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[id]
}

// recorder collects handled message ids and signals when the expected
// count is in.
type recorder struct {
	mu   sync.Mutex
	ids  []string
	want int
	done chan struct{}
	once sync.Once
	err  error
}

func newRecorder(want int) *recorder {
	return &recorder{want: want, done: make(chan struct{})}
}

func (r *recorder) handle(_ context.Context, m *queue.Message) error {
	r.mu.Lock()
	r.ids = append(r.ids, m.ID)
	n := len(r.ids)
	r.mu.Unlock()
	if n >= r.want {
		r.once.Do(func() { close(r.done) })
	}
	return r.err
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages to be handled")
	}
}

func TestRegistryProcessesMessages(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newRecorder(2)
	store := newSettleStore()
	reg := NewRegistry(q, store, zerolog.Nop(), 100*time.Millisecond)
	reg.Register("q1", rec.handle, 1)

	m1, _ := queue.NewMessage("test", nil)
	m2, _ := queue.NewMessage("test", nil)
	_, err := q.Enqueue(ctx, "q1", m1)
	assert.NoError(t, err)
	_, err = q.Enqueue(ctx, "q1", m2)
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	rec.wait(t)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("registry did not stop after cancel")
	}

	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, rec.ids)

	// Processing, not pushing, is what settles the durable rows.
	for _, id := range []string{m1.ID, m2.ID} {
		st, ok := store.statusOf(id)
		assert.True(t, ok)
		assert.Equal(t, models.SendSuccess, st)
	}
}

func TestRegistryRoutesPerQueue(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recA := newRecorder(1)
	recB := newRecorder(1)
	reg := NewRegistry(q, newSettleStore(), zerolog.Nop(), 100*time.Millisecond)
	reg.Register("qa", recA.handle, 1)
	reg.Register("qb", recB.handle, 2)

	ma, _ := queue.NewMessage("test", nil)
	mb, _ := queue.NewMessage("test", nil)
	_, err := q.Enqueue(ctx, "qa", ma)
	assert.NoError(t, err)
	_, err = q.Enqueue(ctx, "qb", mb)
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	recA.wait(t)
	recB.wait(t)
	cancel()
	<-done

	assert.Equal(t, []string{ma.ID}, recA.ids)
	assert.Equal(t, []string{mb.ID}, recB.ids)
}

func TestRegistrySurvivesHandlerErrorAndPanic(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []string
	done := make(chan struct{})
	var once sync.Once
	h := func(_ context.Context, m *queue.Message) error {
		mu.Lock()
		handled = append(handled, m.Type)
		n := len(handled)
		mu.Unlock()
		if n >= 3 {
			once.Do(func() { close(done) })
		}
		switch m.Type {
		case "boom":
			panic("poisoned message")
		case "fail":
			return errors.New("handler failed")
		}
		return nil
	}

	store := newSettleStore()
	reg := NewRegistry(q, store, zerolog.Nop(), 100*time.Millisecond)
	reg.Register("q1", h, 1)

	ids := make(map[string]string)
	for _, typ := range []string{"boom", "fail", "ok"} {
		m, _ := queue.NewMessage(typ, nil)
		ids[typ] = m.ID
		_, err := q.Enqueue(ctx, "q1", m)
		assert.NoError(t, err)
	}

	stopped := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not survive the poisoned message")
	}
	cancel()
	<-stopped

	assert.Equal(t, []string{"boom", "fail", "ok"}, handled)

	// Panics and handler errors settle the row as a failure; only the
	// clean return is marked SUCCESS.
	assert.True(t, store.hasFailed(ids["boom"]))
	assert.True(t, store.hasFailed(ids["fail"]))
	st, ok := store.statusOf(ids["ok"])
	assert.True(t, ok)
	assert.Equal(t, models.SendSuccess, st)
}
