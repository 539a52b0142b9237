// Package event defines the island event taxonomy and the in-process bus that
// delivers events from islands to observers.
//
// Producers (islands) publish; consumers (loggers, metrics, supervisors)
// subscribe per kind. Neither side knows about the other:
//
//	bus := event.NewBus()
//	bus.Subscribe(event.InvokeEnd, func(e event.Event) {
//	    fmt.Printf("%s finished in %v\n", e.Subject, time.Duration(e.Value))
//	})
//
// Lifecycle kinds come in request/outcome pairs: every LOAD_REQUEST is
// followed by exactly one of LOAD_OK or LOAD_FAIL, every INVOKE_START by
// exactly one of INVOKE_END or INVOKE_FAIL, every UNLOAD_REQUEST by exactly
// one of UNLOAD_OK or UNLOAD_FAIL. RESULT, ALLOC, GC_MINOR and GC_MAJOR are
// reported by the module host and are informational.
package event
