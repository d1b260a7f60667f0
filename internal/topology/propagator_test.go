package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTopology(t *testing.T) *Topology {
	t.Helper()
	topo := New(Options{Project: "test", PortRange: smallRange()})
	t.Cleanup(topo.Close)
	return topo
}

func signalReady(topo *Topology, group string) {
	topo.Bus().Publish(Event{Type: EventReady, Resource: group, State: domain.StateReady})
}

// countParentPublications counts parentName publications per resource.
func countParentPublications(topo *Topology) (func(string) int32, func()) {
	var mu sync.Mutex
	counts := make(map[string]*atomic.Int32)
	unsubscribe := topo.Bus().Subscribe("", EventPropertyChanged, func(_ context.Context, ev Event) {
		if ev.Key != domain.ParentNameProperty {
			return
		}
		mu.Lock()
		c, ok := counts[ev.Resource]
		if !ok {
			c = &atomic.Int32{}
			counts[ev.Resource] = c
		}
		mu.Unlock()
		c.Add(1)
	})
	return func(name string) int32 {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := counts[name]; ok {
			return c.Load()
		}
		return 0
	}, unsubscribe
}

func TestPropagator_ForwardReferencedChildrenAlreadyRunning(t *testing.T) {
	topo := newTestTopology(t)
	count, _ := countParentPublications(topo)

	// children first, group created afterwards
	a := topo.AddContainer("a", "busybox").WithParent("g")
	b := topo.AddContainer("b", "busybox").WithParent("g")
	topo.AddContainer("outsider", "busybox")
	_, err := topo.Group("g")
	require.NoError(t, err)

	for _, rb := range []*ResourceBuilder{a, b} {
		require.NoError(t, rb.Resource().Transition(domain.StateStarting, nil))
		require.NoError(t, rb.Resource().Transition(domain.StateRunning, nil))
	}

	signalReady(topo, "g")
	<-topo.Propagator().Done("g")
	topo.Bus().Wait()

	for _, name := range []string{"a", "b"} {
		res, _ := topo.Registry().Find(name)
		v, ok := res.Property(domain.ParentNameProperty)
		require.True(t, ok, name)
		assert.Equal(t, "g", v)
		assert.Equal(t, int32(1), count(name))
	}
	outsider, _ := topo.Registry().Find("outsider")
	_, ok := outsider.Property(domain.ParentNameProperty)
	assert.False(t, ok)
}

func TestPropagator_ExactlyOnceUnderConcurrentSignals(t *testing.T) {
	topo := newTestTopology(t)
	count, _ := countParentPublications(topo)

	const groups, children = 6, 5
	for g := 0; g < groups; g++ {
		group := fmt.Sprintf("g%d", g)
		_, err := topo.Group(group)
		require.NoError(t, err)
		for c := 0; c < children; c++ {
			res := topo.AddProcess(fmt.Sprintf("%s-c%d", group, c), "run").WithParent(group).Resource()
			require.NoError(t, res.Transition(domain.StateStarting, nil))
			require.NoError(t, res.Transition(domain.StateRunning, nil))
		}
	}

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for g := 0; g < groups; g++ {
			wg.Add(1)
			go func(group string) {
				defer wg.Done()
				signalReady(topo, group)
			}(fmt.Sprintf("g%d", g))
		}
	}
	wg.Wait()
	for g := 0; g < groups; g++ {
		<-topo.Propagator().Done(fmt.Sprintf("g%d", g))
	}
	topo.Bus().Wait()

	for g := 0; g < groups; g++ {
		for c := 0; c < children; c++ {
			name := fmt.Sprintf("g%d-c%d", g, c)
			assert.Equal(t, int32(1), count(name), name)
			res, _ := topo.Registry().Find(name)
			v, _ := res.Property(domain.ParentNameProperty)
			assert.Equal(t, fmt.Sprintf("g%d", g), v)
		}
	}
}

func TestPropagator_WaitsForChildToStart(t *testing.T) {
	topo := newTestTopology(t)
	child := topo.AddContainer("late", "busybox").WithParent("g").Resource()
	_, err := topo.Group("g")
	require.NoError(t, err)

	signalReady(topo, "g")

	select {
	case <-topo.Propagator().Done("g"):
		t.Fatal("propagation finished before the child started")
	case <-time.After(50 * time.Millisecond):
	}
	_, ok := child.Property(domain.ParentNameProperty)
	assert.False(t, ok)

	require.NoError(t, child.Transition(domain.StateStarting, nil))
	select {
	case <-topo.Propagator().Done("g"):
	case <-time.After(2 * time.Second):
		t.Fatal("propagation did not finish")
	}
	v, ok := child.Property(domain.ParentNameProperty)
	require.True(t, ok)
	assert.Equal(t, "g", v)
}

func TestPropagator_SkipsFailedChild(t *testing.T) {
	topo := newTestTopology(t)
	child := topo.AddContainer("broken", "busybox").WithParent("g").Resource()
	_, err := topo.Group("g")
	require.NoError(t, err)

	signalReady(topo, "g")
	require.NoError(t, child.Transition(domain.StateFailed, nil))
	<-topo.Propagator().Done("g")

	_, ok := child.Property(domain.ParentNameProperty)
	assert.False(t, ok)
}

func TestPropagator_CloseUnblocksPendingWaits(t *testing.T) {
	topo := New(Options{PortRange: smallRange()})
	topo.AddContainer("never", "busybox").WithParent("g")
	_, err := topo.Group("g")
	require.NoError(t, err)

	signalReady(topo, "g")

	closed := make(chan struct{})
	go func() {
		topo.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending propagation")
	}
}
