package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/internal/wasmbin"
)

func writeModule(t *testing.T, name string, m *wasmbin.Module) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, m.Bytes(), 0o600))
	return path
}

func adder() *wasmbin.Module {
	m := wasmbin.New()
	i32 := wasmbin.I32
	m.Export("add", m.Func(wasmbin.Types(i32, i32), wasmbin.Types(i32), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Add()))
	return m
}

func TestRun_Single(t *testing.T) {
	path := writeModule(t, "add.wasm", adder())
	err := run([]string{"--quiet", "--log-level", "error", "--entry", "add", "--signature", "a: u32, b: u32 -> u32", path, "2", "3"})
	require.NoError(t, err)
}

func TestRun_Trap(t *testing.T) {
	m := wasmbin.New()
	m.Export("main", m.Func(nil, nil, nil, wasmbin.Unreachable()))
	path := writeModule(t, "trap.wasm", m)

	err := run([]string{"--quiet", "--log-level", "error", path})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTrap), "%v", err)
}

func TestRun_List(t *testing.T) {
	path := writeModule(t, "add.wasm", adder())
	require.NoError(t, run([]string{"--log-level", "error", "--list", path}))
}

func TestRun_Plan(t *testing.T) {
	path := writeModule(t, "add.wasm", adder())
	planFile := filepath.Join(t.TempDir(), "plan.yaml")
	body := "islands:\n" +
		"  - name: adder\n" +
		"    module: " + path + "\n" +
		"    entry: add\n" +
		"    args: [\"1\", \"2\"]\n"
	require.NoError(t, os.WriteFile(planFile, []byte(body), 0o600))

	require.NoError(t, run([]string{"--quiet", "--log-level", "error", "--plan", planFile}))
}

func TestRun_Usage(t *testing.T) {
	assert.Error(t, run([]string{"--log-level", "error"}), "module path required")
	assert.NoError(t, run([]string{"--help"}))
	assert.Error(t, run([]string{"--native-access", "everything", "x.wasm"}))
}

func TestSubscribePrinters(t *testing.T) {
	var buf bytes.Buffer
	bus := event.NewBus()
	subscribePrinters(bus, &buf)

	bus.Publish(event.New(event.InvokeStart, "Main").From("A"))
	bus.Publish(event.New(event.Result, "Main").WithValue(42).From("A"))
	bus.Publish(event.New(event.InvokeEnd, "Main").WithValue(uint64(2 * time.Millisecond)).From("A"))
	bus.Publish(event.New(event.LoadOK, "mod.wasm").From("A"))

	assert.Equal(t, "[A] start Main\n[A] result Main = 42\n[A] end Main (2ms)\n", buf.String())
}

func TestFormatValues(t *testing.T) {
	assert.Equal(t, "", formatValues(nil))
	assert.Equal(t, "5, 2.5", formatValues([]any{uint32(5), 2.5}))
}
