package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/hermes-islands/engine"
	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/internal/wasmbin"
	"github.com/wippyai/hermes-islands/island"
	"github.com/wippyai/hermes-islands/vm"
)

func writeModules(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	add := wasmbin.New()
	i32 := wasmbin.I32
	add.Export("add", add.Func(wasmbin.Types(i32, i32), wasmbin.Types(i32), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Add()))

	spin := wasmbin.New()
	spin.Export("main", spin.Func(nil, nil, nil, wasmbin.Spin()))

	trap := wasmbin.New()
	trap.Export("main", trap.Func(nil, nil, nil, wasmbin.Unreachable()))

	for name, m := range map[string]*wasmbin.Module{"add.wasm": add, "spin.wasm": spin, "trap.wasm": trap} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), m.Bytes(), 0o600))
	}
	return dir
}

func newRunner(t *testing.T) (*Runner, *event.Recorder) {
	t.Helper()
	host, err := engine.NewHost(engine.Config{ArtifactPath: writeModules(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close(context.Background()) })

	v := vm.New(vm.WithHost(host))
	return &Runner{VM: v, Declarer: host}, event.NewRecorder(v.Events())
}

func TestRunner_Run(t *testing.T) {
	r, rec := newRunner(t)
	p := &Plan{Islands: []IslandSpec{
		{Name: "adder", Module: "add.wasm", Entry: "add", Args: []string{"2", "3"}, Signature: "u32, u32 -> u32", Repeat: 2},
		{Name: "spinner", Module: "spin.wasm", Timeout: "50ms"},
		{Name: "trapper", Module: "trap.wasm"},
		{Name: "ghost", Module: "missing.wasm"},
	}}
	require.NoError(t, p.Validate())

	report := r.Run(context.Background(), p)
	require.Len(t, report.Outcomes, 4)

	adder := report.Outcomes[0]
	require.NoError(t, adder.Err)
	assert.Equal(t, []any{uint32(5)}, adder.Results)
	assert.Equal(t, 2, adder.Runs)

	assert.True(t, errors.IsKind(report.Outcomes[1].Err, errors.KindCanceled), "spinner: %v", report.Outcomes[1].Err)
	assert.True(t, errors.IsKind(report.Outcomes[2].Err, errors.KindTrap), "trapper: %v", report.Outcomes[2].Err)
	assert.True(t, errors.IsKind(report.Outcomes[3].Err, errors.KindNotFound), "ghost: %v", report.Outcomes[3].Err)
	assert.Equal(t, 0, report.Outcomes[3].Runs)

	assert.Equal(t, 3, report.Failed())
	assert.Error(t, report.Err())

	for _, isl := range r.VM.Islands() {
		assert.Equal(t, island.Unloaded, isl.State(), isl.Name())
	}
	assert.Len(t, rec.Island("adder"), 2+2+2*2+2, "load, link, two invocations, unload")
	assert.Equal(t, 4, rec.Count(event.UnloadOK))
}

func TestRunner_BadSignatureIsIgnored(t *testing.T) {
	r, _ := newRunner(t)
	p := &Plan{Islands: []IslandSpec{
		{Name: "adder", Module: "add.wasm", Entry: "add", Args: []string{"1", "1"}, Signature: "string -> string"},
	}}
	require.NoError(t, p.Validate())

	report := r.Run(context.Background(), p)
	require.NoError(t, report.Err())
	assert.Equal(t, []any{int32(2)}, report.Outcomes[0].Results)
}

func TestRunner_Parallelism(t *testing.T) {
	r, rec := newRunner(t)
	r.Parallelism = 1

	var running, peak int
	r.VM.Events().Subscribe(event.InvokeStart, func(event.Event) {
		running++
		if running > peak {
			peak = running
		}
	})
	r.VM.Events().Subscribe(event.InvokeEnd, func(event.Event) { running-- })

	p := &Plan{Islands: []IslandSpec{
		{Name: "one", Module: "add.wasm", Entry: "add", Args: []string{"1", "2"}},
		{Name: "two", Module: "add.wasm", Entry: "add", Args: []string{"3", "4"}},
		{Name: "three", Module: "add.wasm", Entry: "add", Args: []string{"5", "6"}},
	}}
	require.NoError(t, p.Validate())

	report := r.Run(context.Background(), p)
	require.NoError(t, report.Err())
	assert.Equal(t, []any{int32(3)}, report.Outcomes[0].Results)
	assert.Equal(t, []any{int32(7)}, report.Outcomes[1].Results)
	assert.Equal(t, []any{int32(11)}, report.Outcomes[2].Results)
	assert.Equal(t, 1, peak)
	assert.Equal(t, 3, rec.Count(event.InvokeEnd))
}
