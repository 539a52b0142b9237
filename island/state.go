package island

import "fmt"

// State is a position in the island lifecycle.
//
//	Created ──load──▶ Loaded ──link──▶ Linked ──run──▶ Running
//	   ▲                                  ▲               │
//	   │                                  └───returns─────┘
//	Unloaded ◀──────────── unload (from any state)
//	   └──load──▶ Loaded
type State uint8

const (
	Created State = iota
	Loaded
	Linked
	Running
	Unloaded
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Loaded:
		return "loaded"
	case Linked:
		return "linked"
	case Running:
		return "running"
	case Unloaded:
		return "unloaded"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type op string

const (
	opLoad op = "load"
	opLink op = "link"
	opRun  op = "run"
)

// from lists the states each gated operation may start in. Unload is legal
// everywhere and is not gated.
var from = map[op][]State{
	opLoad: {Created, Unloaded},
	opLink: {Loaded},
	opRun:  {Linked},
}

func (o op) allowedIn(s State) bool {
	for _, st := range from[o] {
		if st == s {
			return true
		}
	}
	return false
}
