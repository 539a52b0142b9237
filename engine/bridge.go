package engine

import (
	"context"
	"math"
	"strconv"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/island"
)

// BridgeModule is the import module name of the hermes bridge.
const BridgeModule = "hermes"

var bridgeFunctions = map[string]bool{
	"result_u64":  true,
	"result_f64":  true,
	"result_text": true,
	"alloc":       true,
	"gc":          true,
}

type sinkKey struct{}

func withSink(ctx context.Context, s island.Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, s)
}

func sinkFrom(ctx context.Context) island.Sink {
	s, _ := ctx.Value(sinkKey{}).(island.Sink)
	return s
}

// report forwards to the invocation's sink. Reports with no invocation in
// progress, or rejected by the sink, are logged and dropped.
func report(ctx context.Context, kind event.Kind, subject string, value uint64) {
	s := sinkFrom(ctx)
	if s == nil {
		Logger().Debug("bridge report outside invocation",
			zap.Stringer("kind", kind),
			zap.Uint64("value", value))
		return
	}
	if err := s.Report(kind, subject, value); err != nil {
		Logger().Warn("bridge report rejected",
			zap.Stringer("kind", kind),
			zap.Error(err))
	}
}

// instantiateBridge instantiates the hermes host module into r.
func instantiateBridge(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return r.NewHostModuleBuilder(BridgeModule).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, v uint64) {
			report(ctx, event.Result, "", v)
		}).
		Export("result_u64").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, v float64) {
			report(ctx, event.Result, strconv.FormatFloat(v, 'g', -1, 64), math.Float64bits(v))
		}).
		Export("result_f64").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, n uint32) {
			mem := mod.Memory()
			if mem == nil {
				panic(errors.New(errors.PhaseHost, errors.KindInvalidInput).
					Subject("result_text").
					Detail("guest has no memory").
					Build())
			}
			buf, ok := mem.Read(ptr, n)
			if !ok {
				panic(errors.New(errors.PhaseHost, errors.KindInvalidInput).
					Subject("result_text").
					Detail("range [%d, %d) out of bounds", ptr, uint64(ptr)+uint64(n)).
					Build())
			}
			report(ctx, event.Result, string(buf), uint64(n))
		}).
		Export("result_text").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, bytes uint64) {
			report(ctx, event.Alloc, "", bytes)
		}).
		Export("alloc").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, major uint32, bytes uint64) {
			kind := event.GCMinor
			if major != 0 {
				kind = event.GCMajor
			}
			report(ctx, kind, "", bytes)
		}).
		Export("gc").
		Instantiate(ctx)
}
