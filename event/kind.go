package event

import (
	"fmt"
	"strings"
)

// Kind enumerates the lifecycle and telemetry events an island can emit.
type Kind uint8

const (
	LoadRequest Kind = iota
	LoadOK
	LoadFail
	VerifyOK
	LinkOK
	InvokeStart
	InvokeEnd
	InvokeFail
	Alloc
	GCMinor
	GCMajor
	UnloadRequest
	UnloadOK
	UnloadFail
	Result

	numKinds
)

var kindNames = [numKinds]string{
	LoadRequest:   "LOAD_REQUEST",
	LoadOK:        "LOAD_OK",
	LoadFail:      "LOAD_FAIL",
	VerifyOK:      "VERIFY_OK",
	LinkOK:        "LINK_OK",
	InvokeStart:   "INVOKE_START",
	InvokeEnd:     "INVOKE_END",
	InvokeFail:    "INVOKE_FAIL",
	Alloc:         "ALLOC",
	GCMinor:       "GC_MINOR",
	GCMajor:       "GC_MAJOR",
	UnloadRequest: "UNLOAD_REQUEST",
	UnloadOK:      "UNLOAD_OK",
	UnloadFail:    "UNLOAD_FAIL",
	Result:        "RESULT",
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, numKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	return k < numKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind converts a name such as "INVOKE_END" (case-insensitive) to a Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Reported reports whether the module host may emit k through an island's
// side channel. Lifecycle kinds are reserved to the island itself.
func (k Kind) Reported() bool {
	switch k {
	case Result, Alloc, GCMinor, GCMajor:
		return true
	}
	return false
}

// Failure reports whether k is an outcome event for a failed operation.
func (k Kind) Failure() bool {
	switch k {
	case LoadFail, InvokeFail, UnloadFail:
		return true
	}
	return false
}
