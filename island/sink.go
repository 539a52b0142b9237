package island

import (
	"sync/atomic"

	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
)

// sink forwards host reports for one invocation. It stops accepting reports
// once the invocation has returned.
type sink struct {
	island *Island
	entry  string
	closed atomic.Bool
}

func (s *sink) Report(kind event.Kind, subject string, value uint64) error {
	if s.closed.Load() {
		return errors.New(errors.PhaseHost, errors.KindInvalidState).
			Subject(s.entry).
			Detail("report after invocation returned").
			Build()
	}
	if !kind.Reported() {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Subject(s.entry).
			Value(kind).
			Detail("%s cannot be reported by a module", kind).
			Build()
	}
	if subject == "" {
		subject = s.entry
	}
	s.island.emit(event.New(kind, subject).WithValue(value))
	return nil
}

func (s *sink) close() {
	s.closed.Store(true)
}
