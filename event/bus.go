package event

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler reacts to a published event. Handlers run synchronously on the
// publisher's goroutine and receive their own copy of the event.
type Handler func(Event)

// Bus routes events to the handlers registered for their kind.
//
// Publish is a blocking fan-out: handlers run in registration order and Publish
// returns once all of them have completed. A handler that panics is logged and
// skipped; the remaining handlers still receive the event. The bus keeps no
// record of past events.
//
// Bus is safe for concurrent use. Registration is expected to be rare compared
// to publishing, so the routing table sits behind a read-write lock.
type Bus struct {
	logger   *zap.Logger
	handlers [numKinds][]Handler
	mu       sync.RWMutex
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *zap.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for every future event of kind. Unknown kinds are
// ignored.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	if h == nil || !kind.Valid() {
		return
	}
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	for k := range b.handlers {
		b.handlers[k] = append(b.handlers[k], h)
	}
	b.mu.Unlock()
}

// Publish delivers e to every handler registered for e.Kind.
func (b *Bus) Publish(e Event) {
	if !e.Kind.Valid() {
		return
	}

	// Snapshot so handlers may subscribe or publish without deadlocking.
	// Appends never mutate the shared prefix of the slice we copy out.
	b.mu.RLock()
	hs := b.handlers[e.Kind]
	b.mu.RUnlock()

	for i, h := range hs {
		b.deliver(i, h, e)
	}
}

// Handlers returns the number of handlers registered for kind.
func (b *Bus) Handlers(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

func (b *Bus) deliver(idx int, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.Stringer("kind", e.Kind),
				zap.String("subject", e.Subject),
				zap.String("island", e.Island),
				zap.Int("handler", idx),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	h(e)
}
