package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates which operation produced the error
type Phase string

const (
	PhaseLoad      Phase = "load"      // artifact resolution and compilation
	PhaseVerify    Phase = "verify"    // import policy and budget checks
	PhaseLink      Phase = "link"      // instantiation and symbol resolution
	PhaseInvoke    Phase = "invoke"    // entry point execution
	PhaseTeardown  Phase = "teardown"  // releasing the isolated context
	PhaseLifecycle Phase = "lifecycle" // state machine gating
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseParse     Phase = "parse"     // plan and signature parsing
	PhaseHost      Phase = "host"      // host side-channel calls
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindMissingImport     Kind = "missing_import"
	KindInvalidState      Kind = "invalid_state"
	KindBudgetExceeded    Kind = "budget_exceeded"
	KindEntryPointMissing Kind = "entry_point_missing"
	KindTrap              Kind = "trap"
	KindExit              Kind = "exit"
	KindCanceled          Kind = "canceled"
	KindPinned            Kind = "pinned"
	KindInvalidInput      Kind = "invalid_input"
	KindTypeMismatch      Kind = "type_mismatch"
	KindInstantiation     Kind = "instantiation"
	KindNotInitialized    Kind = "not_initialized"
	KindHostFailure       Kind = "host_failure"
)

// Error is the structured error type used throughout hermes
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Subject string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Subject != "" {
		b.WriteByte(' ')
		b.WriteString(e.Subject)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Subject sets what the error concerns (module path, island or entry point)
func (b *Builder) Subject(s string) *Builder {
	b.err.Subject = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Taxonomy constructors, one per lifecycle operation

// LoadError creates a module loading error
func LoadError(kind Kind, path string, cause error) *Error {
	return &Error{
		Phase:   PhaseLoad,
		Kind:    kind,
		Subject: path,
		Cause:   cause,
	}
}

// VerifyError creates a verification error. Verification precedes linking,
// so a VerifyError means no VERIFY_OK was reported.
func VerifyError(kind Kind, subject, detail string) *Error {
	return &Error{
		Phase:   PhaseVerify,
		Kind:    kind,
		Subject: subject,
		Detail:  detail,
	}
}

// LinkError creates a link error for a module that passed verification
func LinkError(kind Kind, subject string, cause error) *Error {
	return &Error{
		Phase:   PhaseLink,
		Kind:    kind,
		Subject: subject,
		Cause:   cause,
	}
}

// InvokeError creates an invocation error for an entry point
func InvokeError(kind Kind, entry string, cause error) *Error {
	return &Error{
		Phase:   PhaseInvoke,
		Kind:    kind,
		Subject: entry,
		Cause:   cause,
	}
}

// TeardownError creates an error for a context the host failed to release
func TeardownError(kind Kind, subject string, cause error) *Error {
	return &Error{
		Phase:   PhaseTeardown,
		Kind:    kind,
		Subject: subject,
		Cause:   cause,
	}
}

// InvalidState creates a lifecycle gating error
func InvalidState(op, subject, state string) *Error {
	return &Error{
		Phase:   PhaseLifecycle,
		Kind:    KindInvalidState,
		Subject: subject,
		Detail:  fmt.Sprintf("%s not allowed in state %s", op, state),
		Value:   state,
	}
}

// BudgetExceeded creates a budget error for the given phase
func BudgetExceeded(phase Phase, subject string, usage, budget uint64) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindBudgetExceeded,
		Subject: subject,
		Detail:  fmt.Sprintf("%d bytes over budget of %d bytes", usage, budget),
		Value:   usage,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindNotFound,
		Subject: name,
		Detail:  fmt.Sprintf("%s %q not found", what, name),
	}
}

// NotInitialized creates a not-initialized error for a missing handle
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// TypeMismatch creates an argument conversion error
func TypeMismatch(phase Phase, subject string, value any, want string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Subject: subject,
		Detail:  fmt.Sprintf("cannot use %v (%T) as %s", value, value, want),
		Value:   value,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// PhaseOf returns the phase of the first *Error in err's chain, or "".
func PhaseOf(err error) Phase {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Phase
	}
	return ""
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.As(err, new(*MissingImportsError)) {
		return KindMissingImport
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MissingImport represents a single unresolved or forbidden import
type MissingImport struct {
	Module   string // e.g., "wasi_snapshot_preview1"
	Function string // e.g., "fd_write"
}

// MissingImportsError is returned when verification finds imports the
// native-access policy does not provide
type MissingImportsError struct {
	Policy  string
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(policy string, imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Policy:  policy,
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func parseImportKey(key string) (module, function string) {
	mod, fn, found := strings.Cut(key, "#")
	if found {
		return mod, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[verify] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d import(s) not provided", len(e.Imports)))
	if e.Policy != "" {
		b.WriteString(" under native access policy ")
		b.WriteString(e.Policy)
	}
	b.WriteByte(':')

	// Group by module for cleaner output
	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			modOrder = append(modOrder, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], imp.Function)
	}

	for _, mod := range modOrder {
		fns := byMod[mod]
		sort.Strings(fns)
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range fns {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
