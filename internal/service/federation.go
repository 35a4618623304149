package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/dereadi/thermal-memory/internal/adapter/otel"
	"github.com/dereadi/thermal-memory/internal/config"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/broadcast"
	"github.com/dereadi/thermal-memory/internal/port/messagequeue"
	"github.com/dereadi/thermal-memory/internal/resilience"
)

// publishTimeout bounds a single federation publish.
const publishTimeout = 5 * time.Second

// Drop reasons reported on the federation.dropped metric.
const (
	dropBufferFull = "buffer_full"
	dropStopped    = "stopped"
	dropCircuit    = "circuit_open"
	dropPublish    = "publish_error"
)

type federationItem struct {
	ctx context.Context
	ev  memory.FederationEvent
}

// Federator delivers federation events to peer triads and local
// dashboards. Delivery is best-effort: events are queued in a bounded
// buffer and published by a fixed set of workers; a full buffer, an open
// circuit or a failed publish drops the event and never reaches the
// writer.
type Federator struct {
	queue   messagequeue.Queue    // nil: local dashboards only
	hub     broadcast.Broadcaster // nil: no dashboards
	breaker *resilience.Breaker
	metrics *cfotel.Metrics
	triad   string
	workers int

	mu      sync.RWMutex
	stopped bool
	events  chan federationItem
	wg      sync.WaitGroup
}

// NewFederator creates a Federator. queue, hub, breaker and metrics may be
// nil.
func NewFederator(queue messagequeue.Queue, hub broadcast.Broadcaster, breaker *resilience.Breaker, cfg config.Federation, metrics *cfotel.Metrics) *Federator {
	return &Federator{
		queue:   queue,
		hub:     hub,
		breaker: breaker,
		metrics: metrics,
		triad:   cfg.Triad,
		workers: max(cfg.Workers, 1),
		events:  make(chan federationItem, max(cfg.BufferSize, 1)),
	}
}

// Start launches the publish workers.
func (f *Federator) Start() {
	for range f.workers {
		f.wg.Add(1)
		go f.run()
	}
}

// Stop stops accepting events, publishes what is buffered and waits for the
// workers.
func (f *Federator) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	close(f.events)
	f.mu.Unlock()
	f.wg.Wait()
}

// Publish queues ev without blocking. The request-scoped values of ctx
// travel with the event; its cancellation does not.
func (f *Federator) Publish(ctx context.Context, ev memory.FederationEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		f.drop(ctx, ev, dropStopped, nil)
		return
	}
	select {
	case f.events <- federationItem{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		f.drop(ctx, ev, dropBufferFull, nil)
	}
}

func (f *Federator) run() {
	defer f.wg.Done()
	for item := range f.events {
		f.deliver(item.ctx, item.ev)
	}
}

func (f *Federator) deliver(ctx context.Context, ev memory.FederationEvent) {
	if f.hub != nil {
		f.hub.BroadcastEvent(ctx, broadcast.EventFederation, ev)
	}
	if f.queue == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		f.drop(ctx, ev, dropPublish, err)
		return
	}

	ctx, span := cfotel.StartFederationSpan(ctx, ev.ID, ev.SourceTriad)
	publish := func() error {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return f.queue.Publish(pctx, messagequeue.FederationSubject(ev.SourceTriad), data)
	}
	if f.breaker != nil {
		err = f.breaker.Execute(publish)
	} else {
		err = publish()
	}
	cfotel.EndSpan(span, err)

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		f.drop(ctx, ev, dropCircuit, err)
	case err != nil:
		f.drop(ctx, ev, dropPublish, err)
	default:
		if f.metrics != nil {
			f.metrics.FederationPublished.Add(ctx, 1)
		}
		slog.DebugContext(ctx, "federation event published", "id", ev.ID, "temperature", ev.Temperature)
	}
}

func (f *Federator) drop(ctx context.Context, ev memory.FederationEvent, reason string, err error) {
	if f.metrics != nil {
		f.metrics.FederationDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	slog.WarnContext(ctx, "federation event dropped", "id", ev.ID, "reason", reason, "error", err)
}

// Subscribe consumes peer federation events. Events from this node's own
// triad are ignored; every other event is passed to onPeer and relayed to
// local dashboards. The returned function cancels the subscription.
func (f *Federator) Subscribe(ctx context.Context, onPeer func(context.Context, memory.FederationEvent)) (func(), error) {
	if f.queue == nil {
		return func() {}, nil
	}
	cancel, err := f.queue.Subscribe(ctx, messagequeue.SubjectFederationAll, func(ctx context.Context, subject string, data []byte) error {
		triad, ok := messagequeue.TriadFromSubject(subject)
		if !ok || triad == f.triad {
			return nil
		}
		var ev memory.FederationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode federation event: %w", err)
		}
		if f.metrics != nil {
			f.metrics.FederationReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("source_triad", triad)))
		}
		slog.InfoContext(ctx, "federation event received", "id", ev.ID, "source_triad", triad, "temperature", ev.Temperature)
		if onPeer != nil {
			onPeer(ctx, ev)
		}
		if f.hub != nil {
			f.hub.BroadcastEvent(ctx, broadcast.EventPeerFederation, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe federation: %w", err)
	}
	return cancel, nil
}
