package assembler

import (
	"sync"

	"github.com/artpar/apphost/internal/topology"
)

// GroupLookup lazily creates groups on first use and hands every later
// caller the same instance.
type GroupLookup struct {
	topo *topology.Topology

	mu     sync.Mutex
	groups map[string]*topology.Resource
}

// NewGroupLookup creates a lookup over topo.
func NewGroupLookup(topo *topology.Topology) *GroupLookup {
	return &GroupLookup{topo: topo, groups: make(map[string]*topology.Resource)}
}

// Group returns the group called name, creating it if needed.
func (l *GroupLookup) Group(name string) (*topology.Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.groups[name]; ok {
		return g, nil
	}
	g, err := l.topo.Group(name)
	if err != nil {
		return nil, err
	}
	l.groups[name] = g
	return g, nil
}

// Attach makes group the parent of child, creating the group on first use.
func (l *GroupLookup) Attach(child *topology.ResourceBuilder, group string) error {
	if _, err := l.Group(group); err != nil {
		return err
	}
	return child.WithParent(group).Err()
}
