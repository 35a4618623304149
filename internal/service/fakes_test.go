package service

import (
	"context"
	"sync"
	"time"

	"github.com/dereadi/thermal-memory/internal/adapter/memstore"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/messagequeue"
)

// fakeQueue records publishes and lets tests deliver messages to the
// registered subscription.
type fakeQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	handler    messagequeue.Handler
	publishErr error
}

type publishedMsg struct {
	subject string
	data    []byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{subject, data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
	return func() {}, nil
}

func (q *fakeQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	return h(ctx, subject, data)
}

func (q *fakeQueue) messages() []publishedMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]publishedMsg(nil), q.published...)
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func newStoreForFederation() *memstore.Store {
	return memstore.New()
}

// fakeHub records broadcast events.
type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
}

type hubEvent struct {
	typ     string
	payload any
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{eventType, payload})
}

func (h *fakeHub) snapshot() []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hubEvent(nil), h.events...)
}

// fakeCache is a map-backed cache.Cache.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes++
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}


// gatedStore pauses GetMemory after the read until release is closed, so a
// test can interleave a mutation with an in-flight cache fill.
type gatedStore struct {
	*memstore.Store
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(s *memstore.Store) *gatedStore {
	return &gatedStore{Store: s, read: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) GetMemory(ctx context.Context, id string) (*memory.Record, error) {
	rec, err := g.Store.GetMemory(ctx, id)
	g.once.Do(func() {
		close(g.read)
		<-g.release
	})
	return rec, err
}
