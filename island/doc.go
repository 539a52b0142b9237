// Package island implements the lifecycle of a single isolated module-hosting
// context.
//
// An Island owns a lifecycle state machine and a declared resource budget. The
// actual work of loading, linking and invoking a module is delegated to a
// Host; the island only enforces ordering and budget rules and reports every
// transition on an event.Bus.
//
//	isl := island.New("A", 64*hermes.MiB, bus, host)
//	if err := isl.LoadModule(ctx, "mod.wasm"); err != nil {
//	    return err
//	}
//	if err := isl.LinkAll(ctx); err != nil {
//	    return err
//	}
//	res, err := isl.RunMain(ctx, "main")
//	...
//	isl.Unload(ctx)
//
// # Re-use
//
// An Unloaded island may load a new module. The state machine treats Unloaded
// like Created for LoadModule, so callers can recycle islands without going
// back through the VM.
//
// # Host failures
//
// A panicking Host is contained: the panic becomes an errors.KindHostFailure
// error for the phase it happened in and the usual *_FAIL event follows.
// Host calls run without the island lock, so State and Unload never wait on
// the host. An Unload that lands during a load or link cancels it.
//
// # Budget
//
// The budget is handed to the host at load time. Enforcement during execution
// is the host's job, but before every invocation the island asks the host for
// current usage and refuses to run when it is over budget.
package island
