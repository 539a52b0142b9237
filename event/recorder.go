package event

import "sync"

// Recorder collects events in publication order. It is useful for tests and
// for tools that render an island's trace after the fact.
type Recorder struct {
	events []Event
	mu     sync.Mutex
}

// NewRecorder creates a recorder subscribed to every kind on bus.
func NewRecorder(bus *Bus) *Recorder {
	r := &Recorder{}
	bus.SubscribeAll(r.Record)
	return r
}

// Record appends e. It satisfies Handler.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Island returns the recorded events emitted by the named island.
func (r *Recorder) Island(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Island == name {
			out = append(out, e)
		}
	}
	return out
}

// Kinds returns the kind of every recorded event.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset discards everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
