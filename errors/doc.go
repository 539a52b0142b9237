// Package errors provides structured error types for hermes islands.
//
// Errors are categorized by Phase (which lifecycle operation failed) and Kind
// (error category). Each lifecycle operation of an island maps to a taxonomy
// constructor:
//
//	LoadError      artifact not found, unreadable or unsupported
//	VerifyError    the module failed verification (imports, budget)
//	LinkError      symbol resolution or instantiation failed
//	InvokeError    entry point missing, trap, exit, budget exceeded, canceled
//	TeardownError  the host failed to release the isolated context
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindBudgetExceeded).
//		Subject("main").
//		Value(usage).
//		Detail("memory %d over budget %d", usage, budget).
//		Build()
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when Phase and Kind are equal.
package errors
