// Package vm is the registry and factory for islands.
//
// A VM owns one event bus and every island created through it. Lifecycle
// operations on the VM forward to the island unchanged, so callers may drive
// islands through the VM or directly.
//
//	v := vm.New(vm.WithHost(host))
//	v.Events().Subscribe(event.Result, printResult)
//
//	a := v.CreateIsland("A", 64*hermes.MiB)
//	v.LoadModule(ctx, a, "mod.wasm")
//	v.LinkAll(ctx, a)
//	v.RunMain(ctx, a, "main")
//	v.UnloadIsland(ctx, a)
//
// There is no process-wide VM. Everything a VM needs is injected at
// construction.
package vm
