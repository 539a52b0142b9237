// Package hermes hosts WebAssembly modules inside isolated islands.
//
// An island is an execution context that holds exactly one loaded module, a
// lifecycle state machine and a declared memory budget. Every lifecycle
// transition is published on an in-process event bus so observers never have
// to poll.
//
// # Architecture Overview
//
//	hermes/              Root package with the Budget type
//	├── vm/              Island registry and owner of the event bus
//	├── island/          Lifecycle state machine and the Host contract
//	├── event/           Event kinds, publish/subscribe bus, recorder
//	├── engine/          wazero-backed Host: load, verify, link, invoke
//	├── errors/          Structured error taxonomy (phase + kind)
//	├── config/          Flags, HERMES_* environment and config files
//	├── observer/        Event logging and Prometheus metrics
//	├── plan/            YAML/TOML plans run across many islands
//	└── cmd/islandctl/   Command line runner and interactive console
//
// # Quick Start
//
//	host, err := engine.NewHost(engine.Config{ArtifactPath: "modules"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close(ctx)
//
//	machine := vm.New(vm.WithHost(host))
//	machine.Events().Subscribe(event.InvokeEnd, func(e event.Event) {
//	    fmt.Println(e)
//	})
//
//	isl := machine.CreateIsland("A", 64*hermes.MiB)
//	if err := isl.LoadModule(ctx, "mod.wasm"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := isl.LinkAll(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := isl.RunMain(ctx, "main")
//	fmt.Println(res.First())
//	isl.Unload(ctx)
//
// # Lifecycle
//
//	Created ─▶ Loaded ─▶ Linked ─▶ Running ─▶ Linked
//	any state ─▶ Unloaded ─▶ Loaded
//
// Out-of-order calls fail with errors.KindInvalidState and leave the island
// untouched.
//
// # Thread Safety
//
// VM, Island and Bus are safe for concurrent use. Event handlers run
// synchronously on the goroutine that caused the transition; a slow handler
// slows the island that published the event.
//
// # Memory Model
//
// Budgets are expressed in bytes and enforced in 64 KiB WebAssembly pages.
// Linear memory can only grow, so an island that crosses its budget stays over
// it until the module is unloaded.
package hermes
