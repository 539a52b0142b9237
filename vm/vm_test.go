package vm

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/island"
)

type stubModule string

func (m stubModule) Path() string { return string(m) }

type stubLinked struct{ mod stubModule }

func (l stubLinked) Module() island.ModuleHandle { return l.mod }

// stubHost loads anything and reports the entry point name as a RESULT.
type stubHost struct {
	teardownErr error
}

func (stubHost) Load(_ context.Context, path string, _ hermes.Budget) (island.ModuleHandle, error) {
	return stubModule(path), nil
}

func (stubHost) VerifyAndLink(_ context.Context, mod island.ModuleHandle) (island.LinkedHandle, error) {
	return stubLinked{mod: mod.(stubModule)}, nil
}

func (stubHost) Invoke(_ context.Context, _ island.LinkedHandle, entry string, _ []any, sink island.Sink) (island.InvokeResult, error) {
	if err := sink.Report(event.Result, "", uint64(len(entry))); err != nil {
		return island.InvokeResult{}, err
	}
	return island.InvokeResult{Values: []any{entry}}, nil
}

func (stubHost) Usage(island.LinkedHandle) uint64 { return 0 }

func (h stubHost) Teardown(context.Context, island.ModuleHandle) error { return h.teardownErr }

// gatedHost blocks Load until release is closed.
type gatedHost struct {
	stubHost
	entered chan struct{}
	release chan struct{}
}

func (h gatedHost) Load(ctx context.Context, path string, b hermes.Budget) (island.ModuleHandle, error) {
	close(h.entered)
	<-h.release
	return h.stubHost.Load(ctx, path, b)
}

func subjects(evs []event.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		if e.Kind == event.Result {
			continue
		}
		out = append(out, e.Kind.String()+"("+e.Subject+")")
	}
	return out
}

func TestVM_Scenario(t *testing.T) {
	ctx := context.Background()
	v := New(WithHost(stubHost{}))
	rec := event.NewRecorder(v.Events())

	a := v.CreateIsland("A", 64*hermes.MiB)
	require.NoError(t, v.LoadModule(ctx, a, "mod.pkg"))
	require.NoError(t, v.LinkAll(ctx, a))
	res, err := v.RunMain(ctx, a, "Main")
	require.NoError(t, err)
	assert.Equal(t, "Main", res.First())
	require.NoError(t, v.UnloadIsland(ctx, a))

	assert.Equal(t, []string{
		"LOAD_REQUEST(mod.pkg)",
		"LOAD_OK(mod.pkg)",
		"VERIFY_OK(A)",
		"LINK_OK(A)",
		"INVOKE_START(Main)",
		"INVOKE_END(Main)",
		"UNLOAD_REQUEST(A)",
		"UNLOAD_OK(A)",
	}, subjects(rec.Events()))
	assert.Equal(t, 1, rec.Count(event.Result))
}

func TestVM_RunOnNeverLoadedIsland(t *testing.T) {
	v := New(WithHost(stubHost{}))
	rec := event.NewRecorder(v.Events())

	a := v.CreateIsland("A", 0)
	_, err := v.RunMain(context.Background(), a, "Main")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState))
	assert.Zero(t, rec.Count(event.InvokeStart))
	assert.Zero(t, rec.Count(event.InvokeEnd))
	assert.Zero(t, rec.Count(event.InvokeFail))
}

func TestVM_TwoIslandsNeverMix(t *testing.T) {
	ctx := context.Background()
	v := New(WithHost(stubHost{}))
	rec := event.NewRecorder(v.Events())

	a := v.CreateIsland("A", 16*hermes.MiB)
	b := v.CreateIsland("B", 16*hermes.MiB)

	var wg sync.WaitGroup
	for _, isl := range []*island.Island{a, b} {
		wg.Add(1)
		go func(isl *island.Island) {
			defer wg.Done()
			path := isl.Name() + ".wasm"
			entry := "main_" + isl.Name()
			for i := 0; i < 20; i++ {
				assert.NoError(t, v.LoadModule(ctx, isl, path))
				assert.NoError(t, v.LinkAll(ctx, isl))
				_, err := v.RunMain(ctx, isl, entry)
				assert.NoError(t, err)
				assert.NoError(t, v.UnloadIsland(ctx, isl))
			}
		}(isl)
	}
	wg.Wait()

	own := map[string]map[string]bool{
		"A": {"A": true, "A.wasm": true, "main_A": true},
		"B": {"B": true, "B.wasm": true, "main_B": true},
	}
	for _, e := range rec.Events() {
		require.Contains(t, own, e.Island)
		assert.True(t, own[e.Island][e.Subject], "island %s emitted foreign subject %s", e.Island, e.Subject)
	}
	assert.Len(t, rec.Island("A"), len(rec.Island("B")))
}

func TestVM_DefaultHostRefusesLoads(t *testing.T) {
	v := New()
	rec := event.NewRecorder(v.Events())
	a := v.CreateIsland("A", 0)

	err := v.LoadModule(context.Background(), a, "mod.pkg")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotInitialized))
	assert.Equal(t, []event.Kind{event.LoadRequest, event.LoadFail}, rec.Kinds())
	assert.Equal(t, island.Created, a.State())
}

func TestVM_Registry(t *testing.T) {
	v := New(WithHost(stubHost{}))
	a1 := v.CreateIsland("A", 0)
	b := v.CreateIsland("B", 0)
	a2 := v.CreateIsland("A", 0)

	assert.Equal(t, []*island.Island{a1, b, a2}, v.Islands())

	got, ok := v.Island("A")
	require.True(t, ok)
	assert.Same(t, a1, got, "lookup returns the first match")

	_, ok = v.Island("C")
	assert.False(t, ok)

	require.NoError(t, v.Discard(a1))
	got, _ = v.Island("A")
	assert.Same(t, a2, got)

	err := v.Discard(a1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestVM_DiscardRequiresIdleIsland(t *testing.T) {
	ctx := context.Background()
	v := New(WithHost(stubHost{}))
	a := v.CreateIsland("A", 0)
	require.NoError(t, v.LoadModule(ctx, a, "m"))

	err := v.Discard(a)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState))
	assert.Len(t, v.Islands(), 1)

	require.NoError(t, v.UnloadIsland(ctx, a))
	require.NoError(t, v.Discard(a))
	assert.Empty(t, v.Islands())
}

func TestVM_DiscardDuringLoad(t *testing.T) {
	ctx := context.Background()
	host := gatedHost{entered: make(chan struct{}), release: make(chan struct{})}
	v := New(WithHost(host))
	a := v.CreateIsland("A", 0)

	done := make(chan error, 1)
	go func() { done <- v.LoadModule(ctx, a, "m") }()
	<-host.entered

	err := v.Discard(a)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState), "an island mid-load is not idle")
	assert.Len(t, v.Islands(), 1)

	close(host.release)
	require.NoError(t, <-done)
	assert.Equal(t, island.Loaded, a.State())

	require.NoError(t, v.UnloadIsland(ctx, a))
	require.NoError(t, v.Discard(a))

	err = v.LoadModule(ctx, a, "m")
	assert.True(t, errors.IsKind(err, errors.KindInvalidState), "a discarded island cannot load again")
	assert.Equal(t, island.Unloaded, a.State())
}

func TestVM_Close(t *testing.T) {
	ctx := context.Background()
	v := New(WithHost(stubHost{}))
	rec := event.NewRecorder(v.Events())

	idle := v.CreateIsland("idle", 0)
	loaded := v.CreateIsland("loaded", 0)
	linked := v.CreateIsland("linked", 0)
	require.NoError(t, v.LoadModule(ctx, loaded, "m"))
	require.NoError(t, v.LoadModule(ctx, linked, "m"))
	require.NoError(t, v.LinkAll(ctx, linked))
	rec.Reset()

	require.NoError(t, v.Close(ctx))
	assert.Empty(t, v.Islands())
	assert.Equal(t, island.Created, idle.State(), "idle islands are left alone")
	assert.Equal(t, island.Unloaded, loaded.State())
	assert.Equal(t, island.Unloaded, linked.State())
	assert.Equal(t, 2, rec.Count(event.UnloadOK))
}

func TestVM_CloseCombinesErrors(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	v := New(WithHost(stubHost{teardownErr: stderrors.New("stuck")}), WithLogger(zap.New(core)))

	for _, name := range []string{"A", "B"} {
		isl := v.CreateIsland(name, 0)
		require.NoError(t, v.LoadModule(ctx, isl, "m"))
	}

	err := v.Close(ctx)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, logs.FilterMessage("close completed with errors").Len())
}
