package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBus_RegistrationOrder(t *testing.T) {
	bus := NewBus()

	var calls []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(InvokeStart, func(Event) { calls = append(calls, i) })
	}
	var other int
	bus.Subscribe(InvokeEnd, func(Event) { other++ })

	bus.Publish(New(InvokeStart, "main"))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, calls, "each handler exactly once, in order")
	assert.Zero(t, other, "handlers of other kinds must not run")
}

func TestBus_NoHandlers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() { bus.Publish(New(LoadOK, "mod.wasm")) })
	assert.NotPanics(t, func() { bus.Publish(Event{Kind: Kind(200)}) })
	assert.Zero(t, bus.Handlers(LoadOK))
}

func TestBus_HandlerReceivesEvent(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.Subscribe(Alloc, func(e Event) { got = e })

	sent := New(Alloc, "main").WithValue(4096).From("A")
	bus.Publish(sent)

	assert.Equal(t, sent, got)
}

func TestBus_PanicIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewBus(WithLogger(zap.New(core)))

	var after int
	bus.Subscribe(LinkOK, func(Event) { panic("boom") })
	bus.Subscribe(LinkOK, func(Event) { after++ })

	require.NotPanics(t, func() { bus.Publish(New(LinkOK, "A")) })
	assert.Equal(t, 1, after, "handler after a panicking one must still run")

	entries := logs.FilterMessage("event handler panicked").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "LINK_OK", fields["kind"])
	assert.Equal(t, "boom", fields["panic"])
	assert.EqualValues(t, 0, fields["handler"])
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	var kinds []Kind
	bus.SubscribeAll(func(e Event) { kinds = append(kinds, e.Kind) })

	for _, k := range Kinds() {
		bus.Publish(New(k, "x"))
	}
	assert.Equal(t, Kinds(), kinds)
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	var late int
	bus.Subscribe(Result, func(Event) {
		bus.Subscribe(Result, func(Event) { late++ })
	})

	bus.Publish(New(Result, "first"))
	assert.Zero(t, late, "handlers added during publish see only later events")

	bus.Publish(New(Result, "second"))
	assert.Equal(t, 1, late)
}

func TestBus_IgnoresInvalidSubscriptions(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(Kind(99), func(Event) {})
	bus.Subscribe(LoadOK, nil)
	bus.SubscribeAll(nil)
	assert.Zero(t, bus.Handlers(LoadOK))
	assert.Zero(t, bus.Handlers(Kind(99)))
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	rec := NewRecorder(bus)

	const islands, perIsland = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < islands; i++ {
		name := string(rune('A' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perIsland; j++ {
				bus.Publish(New(Alloc, name).WithValue(uint64(j)).From(name))
			}
		}()
	}
	wg.Wait()

	require.Len(t, rec.Events(), islands*perIsland)
	for i := 0; i < islands; i++ {
		name := string(rune('A' + i))
		evs := rec.Island(name)
		require.Len(t, evs, perIsland)
		for j, e := range evs {
			assert.Equal(t, uint64(j), e.Value, "island %s events must stay in order", name)
		}
	}
}
