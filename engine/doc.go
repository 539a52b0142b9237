// Package engine is the wazero-backed module host for islands.
//
// Every module loaded through Host gets its own wazero.Runtime. The runtime
// is the island's isolated context: it owns the compiled module, the guest
// instance and any host modules the guest links against, and closing it
// releases all of them at once.
//
// # Lifecycle Mapping
//
//	Host.Load          read artifact, new runtime, compile
//	Host.VerifyAndLink import policy and budget checks, then instantiate
//	Host.Invoke        call an exported function
//	Host.Teardown      close instance, compiled module and runtime
//
// # Native Access
//
// The native access policy decides which host modules a guest may import:
//
//	none    no imports at all
//	bridge  the "hermes" bridge module
//	wasi    the bridge plus wasi_snapshot_preview1
//
// A guest importing anything else fails verification with a
// MissingImportsError.
//
// # Bridge
//
// The "hermes" module lets a guest report values back to its island while
// an invocation is running:
//
//	result_u64(v i64)            RESULT, value v
//	result_f64(v f64)            RESULT, subject formatted v, value float bits
//	result_text(ptr i32, n i32)  RESULT, subject the text, value n
//	alloc(bytes i64)             ALLOC
//	gc(major i32, bytes i64)     GC_MINOR or GC_MAJOR
//
// Reports made outside an invocation (from a start function, for example)
// are dropped.
//
// # Budget
//
// Under the hard policy the runtime is created with a memory limit of
// budget.Pages(), so guests can neither declare nor grow past the budget.
// Under the advisory policy memory is unrestricted and usage is checked after
// each call. Either way VerifyAndLink rejects modules whose exported memory
// starts larger than the budget.
//
// # Signatures
//
// By default arguments are converted using the entry point's core WebAssembly
// types. Host.Declare attaches a WIT signature such as "u32, u32 -> u32" to an
// entry point name, which gives results their declared Go types.
package engine
