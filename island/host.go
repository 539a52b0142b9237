package island

import (
	"context"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/event"
)

// ModuleHandle identifies a module artifact the host has materialized.
type ModuleHandle interface {
	// Path is the artifact path the module was loaded from.
	Path() string
}

// LinkedHandle identifies a verified, linked module ready for invocation.
type LinkedHandle interface {
	Module() ModuleHandle
}

// InvokeResult holds the values returned by an entry point.
type InvokeResult struct {
	Values []any
}

// First returns the first result value, or nil.
func (r InvokeResult) First() any {
	if len(r.Values) == 0 {
		return nil
	}
	return r.Values[0]
}

// Sink is the narrow channel through which a hosted module reports values back
// to its island while an invocation is in progress. Only RESULT, ALLOC,
// GC_MINOR and GC_MAJOR are accepted. An empty subject defaults to the entry
// point being invoked.
type Sink interface {
	Report(kind event.Kind, subject string, value uint64) error
}

// Host is the execution engine an island delegates module work to.
//
// Each loaded module must live in its own isolated context, owned by exactly
// one island. Errors should be *errors.Error values; a link error whose phase
// is errors.PhaseLink signals that verification itself succeeded.
type Host interface {
	// Load materializes the artifact at path under the given budget.
	Load(ctx context.Context, path string, budget hermes.Budget) (ModuleHandle, error)

	// VerifyAndLink verifies the module and resolves its imports.
	VerifyAndLink(ctx context.Context, mod ModuleHandle) (LinkedHandle, error)

	// Invoke calls entry with args. The module may report values through sink
	// until Invoke returns.
	Invoke(ctx context.Context, linked LinkedHandle, entry string, args []any, sink Sink) (InvokeResult, error)

	// Usage returns the bytes currently held by the linked module.
	Usage(linked LinkedHandle) uint64

	// Teardown releases the isolated context and its budget allocation.
	Teardown(ctx context.Context, mod ModuleHandle) error
}
