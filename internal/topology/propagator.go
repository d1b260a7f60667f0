package topology

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/apphost/internal/core/domain"
)

// Propagator publishes the parentName property onto the children of a
// group once the group signals ready.
//
// Children are found by scanning the registry when the signal arrives, so
// resources attached after the group was created are still reached. Each
// child is updated only after it has reached Starting; children that end
// Failed or Stopped first are skipped. A group propagates at most once.
type Propagator struct {
	registry *Registry
	bus      *Bus
	logger   *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	fired   map[string]struct{}
	done    map[string]chan struct{}
}

// NewPropagator creates a propagator over registry and bus.
func NewPropagator(registry *Registry, bus *Bus, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{
		registry: registry,
		bus:      bus,
		logger:   logger.With("component", "group_propagator"),
		watched:  make(map[string]struct{}),
		fired:    make(map[string]struct{}),
		done:     make(map[string]chan struct{}),
	}
}

// Watch subscribes to the ready signal of group. Repeated calls are no-ops.
func (p *Propagator) Watch(group string) {
	p.mu.Lock()
	if _, ok := p.watched[group]; ok {
		p.mu.Unlock()
		return
	}
	p.watched[group] = struct{}{}
	p.mu.Unlock()

	p.bus.Subscribe(group, EventReady, func(ctx context.Context, ev Event) {
		p.propagate(ctx, ev.Resource)
	})
}

// Done returns a channel closed when the propagation pass of group ends.
func (p *Propagator) Done(group string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneLocked(group)
}

func (p *Propagator) doneLocked(group string) chan struct{} {
	ch, ok := p.done[group]
	if !ok {
		ch = make(chan struct{})
		p.done[group] = ch
	}
	return ch
}

// propagate runs the pass for group once.
func (p *Propagator) propagate(ctx context.Context, group string) {
	p.mu.Lock()
	if _, ok := p.fired[group]; ok {
		p.mu.Unlock()
		return
	}
	p.fired[group] = struct{}{}
	done := p.doneLocked(group)
	p.mu.Unlock()
	defer close(done)

	var children []*Resource
	for _, res := range p.registry.All() {
		if res.HasParent(group) {
			children = append(children, res)
		}
	}

	var g errgroup.Group
	for _, child := range children {
		g.Go(func() error {
			state, err := child.WaitState(ctx, func(s domain.State) bool {
				return s.AtLeast(domain.StateStarting) || s.IsTerminal()
			})
			if err != nil {
				return err
			}
			if state.IsTerminal() {
				p.logger.Debug("child ended before group propagation, skipping",
					"group", group, "resource", child.Name(), "state", state)
				return nil
			}
			child.PublishProperty(domain.ParentNameProperty, group)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("group propagation interrupted", "group", group, "error", err)
		return
	}
	p.logger.Debug("group propagated", "group", group, "children", len(children))
}
