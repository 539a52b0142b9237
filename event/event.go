package event

import "fmt"

// Event is an immutable record of something that happened to an island.
// Subject names what the event concerns: a module path, an island name or an
// entry point. Value is an optional numeric payload such as bytes allocated or
// elapsed nanoseconds.
type Event struct {
	Subject string
	// Island is the name of the island that emitted the event.
	Island string
	Value  uint64
	Kind   Kind
}

// New creates an event with a zero value.
func New(kind Kind, subject string) Event {
	return Event{Kind: kind, Subject: subject}
}

// WithValue returns a copy of e carrying v.
func (e Event) WithValue(v uint64) Event {
	e.Value = v
	return e
}

// From returns a copy of e attributed to the named island.
func (e Event) From(island string) Event {
	e.Island = island
	return e
}

func (e Event) String() string {
	s := fmt.Sprintf("%s(%s)", e.Kind, e.Subject)
	if e.Value != 0 {
		s += fmt.Sprintf("=%d", e.Value)
	}
	if e.Island != "" {
		s = e.Island + " " + s
	}
	return s
}
