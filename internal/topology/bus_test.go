package topology

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_FiltersByResourceAndType(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var specific, wildcard atomic.Int32
	bus.Subscribe("db", EventReady, func(context.Context, Event) { specific.Add(1) })
	bus.Subscribe("", EventReady, func(context.Context, Event) { wildcard.Add(1) })

	bus.Publish(Event{Type: EventReady, Resource: "db"})
	bus.Publish(Event{Type: EventReady, Resource: "api"})
	bus.Publish(Event{Type: EventStateChanged, Resource: "db"})
	bus.Wait()

	assert.Equal(t, int32(1), specific.Load())
	assert.Equal(t, int32(2), wildcard.Load())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var calls atomic.Int32
	unsubscribe := bus.Subscribe("db", EventReady, func(context.Context, Event) { calls.Add(1) })
	unsubscribe()
	unsubscribe()

	bus.Publish(Event{Type: EventReady, Resource: "db"})
	bus.Wait()
	assert.Equal(t, int32(0), calls.Load())
}

func TestBus_CloseCancelsHandlersAndDropsPublishes(t *testing.T) {
	bus := NewBus(nil)

	var cancelled atomic.Bool
	started := make(chan struct{})
	bus.Subscribe("g", EventReady, func(ctx context.Context, _ Event) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	bus.Publish(Event{Type: EventReady, Resource: "g"})
	<-started

	bus.Close()
	assert.True(t, cancelled.Load())

	// no-op after close
	bus.Publish(Event{Type: EventReady, Resource: "g"})
	bus.Close()
}
