package topology

import (
	"context"
	"log/slog"
	"sync"

	"github.com/artpar/apphost/internal/core/domain"
)

// EventType names a resource lifecycle signal.
type EventType string

const (
	// EventReady fires when a resource reaches Ready. Groups are signalled
	// explicitly by the runner at the start of a run pass.
	EventReady EventType = "ready"
	// EventStateChanged fires on every state transition.
	EventStateChanged EventType = "state-changed"
	// EventPropertyChanged fires when a property is published.
	EventPropertyChanged EventType = "property-changed"
)

// Event is delivered to subscribers of a resource.
type Event struct {
	Type     EventType
	Resource string
	State    domain.State
	Key      string
	Value    string
}

// Handler reacts to an event. The context is cancelled when the bus closes.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id       uint64
	resource string // empty matches every resource
	typ      EventType
	handler  Handler
}

// Bus is a publish/subscribe channel scoped to one topology.
// Handlers run on their own goroutines; Wait blocks until every handler
// dispatched so far has returned.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus creates an open bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "event_bus"),
	}
}

// Subscribe registers h for events of typ on resource ("" for any resource).
// The returned function removes the subscription.
func (b *Bus) Subscribe(resource string, typ EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, resource: resource, typ: typ, handler: h}
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches ev to matching subscribers. Publishing on a closed bus
// is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var targets []Handler
	for _, s := range b.subs {
		if s.typ == ev.Type && (s.resource == "" || s.resource == ev.Resource) {
			targets = append(targets, s.handler)
		}
	}
	b.wg.Add(len(targets))
	b.mu.Unlock()

	for _, h := range targets {
		go func(h Handler) {
			defer b.wg.Done()
			h(b.ctx, ev)
		}(h)
	}
}

// Wait blocks until all dispatched handlers have returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close cancels in-flight handlers, waits for them and drops every
// subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	b.logger.Debug("event bus closed")
}
