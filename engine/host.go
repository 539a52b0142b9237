package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/island"
)

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// exitCodeTeardown is the exit code a runtime is closed with on Teardown,
// so an in-flight call can tell unloading apart from proc_exit(0).
const exitCodeTeardown uint32 = 0xdead

// Host implements island.Host on wazero.
type Host struct {
	cache      wazero.CompilationCache
	signatures map[string]*Signature
	cfg        Config
	sigMu      sync.RWMutex
}

var _ island.Host = (*Host)(nil)

// NewHost creates a host. The compilation cache is shared by every module
// the host loads and is released by Close.
func NewHost(cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var cache wazero.CompilationCache
	if cfg.RuntimeHome != "" {
		c, err := wazero.NewCompilationCacheWithDir(cfg.RuntimeHome)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Subject(cfg.RuntimeHome).
				Cause(err).
				Detail("runtime home unusable as compilation cache").
				Build()
		}
		cache = c
	} else {
		cache = wazero.NewCompilationCache()
	}

	return &Host{
		cfg:        cfg,
		cache:      cache,
		signatures: make(map[string]*Signature),
	}, nil
}

// Config returns the effective configuration.
func (h *Host) Config() Config {
	return h.cfg
}

// Declare attaches a WIT signature to every entry point named entry.
func (h *Host) Declare(entry, signature string) error {
	sig, err := ParseSignature(signature)
	if err != nil {
		return err
	}
	h.sigMu.Lock()
	h.signatures[entry] = sig
	h.sigMu.Unlock()
	return nil
}

func (h *Host) signature(entry string) *Signature {
	h.sigMu.RLock()
	defer h.sigMu.RUnlock()
	return h.signatures[entry]
}

// Close releases the compilation cache. Modules already loaded keep working.
func (h *Host) Close(ctx context.Context) error {
	return h.cache.Close(ctx)
}

// Module is a compiled module inside its own runtime.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	instance api.Module
	path     string
	budget   hermes.Budget
	mu       sync.Mutex
	inflight atomic.Int32
	closed   bool
}

// Path returns the artifact path as given to Load.
func (m *Module) Path() string {
	return m.path
}

func (m *Module) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Linked is an instantiated module.
type Linked struct {
	mod      *Module
	instance api.Module
}

// Module returns the module this instance belongs to.
func (l *Linked) Module() island.ModuleHandle {
	return l.mod
}

func (h *Host) resolve(path string) string {
	if filepath.IsAbs(path) || h.cfg.ArtifactPath == "" {
		return path
	}
	return filepath.Join(h.cfg.ArtifactPath, path)
}

func (h *Host) read(path string) ([]byte, error) {
	bin, err := os.ReadFile(h.resolve(path))
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.LoadError(errors.KindNotFound, path, err)
		}
		return nil, errors.LoadError(errors.KindHostFailure, path, err)
	}
	if len(bin) < 8 || !bytes.Equal(bin[:4], wasmMagic) {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Subject(path).
			Detail("not a WebAssembly module").
			Build()
	}
	return bin, nil
}

func (h *Host) runtimeConfig(budget hermes.Budget) wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(h.cache)
	if h.cfg.BudgetPolicy == BudgetHard && !budget.Unbounded() {
		rc = rc.WithMemoryLimitPages(budget.Pages())
	}
	return rc
}

// Load reads and compiles the module at path inside a fresh runtime.
func (h *Host) Load(ctx context.Context, path string, budget hermes.Budget) (island.ModuleHandle, error) {
	bin, err := h.read(path)
	if err != nil {
		return nil, err
	}

	r := wazero.NewRuntimeWithConfig(ctx, h.runtimeConfig(budget))
	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		_ = r.Close(ctx)
		if strings.Contains(err.Error(), "over limit") {
			return nil, errors.New(errors.PhaseLoad, errors.KindBudgetExceeded).
				Subject(path).
				Cause(err).
				Detail("memory declaration exceeds budget of %s", budget).
				Build()
		}
		return nil, errors.LoadError(errors.KindInvalidData, path, err)
	}

	Logger().Debug("module compiled",
		zap.String("path", path),
		zap.Stringer("budget", budget),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return &Module{
		runtime:  r,
		compiled: compiled,
		path:     path,
		budget:   budget,
	}, nil
}

// VerifyAndLink checks the module against the native access policy and its
// budget, then instantiates it. The start function section runs; _start does
// not. A reactor's _initialize export is called when present.
func (h *Host) VerifyAndLink(ctx context.Context, handle island.ModuleHandle) (island.LinkedHandle, error) {
	m, ok := handle.(*Module)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseVerify, handle.Path(), handle, "*engine.Module")
	}

	if m.isClosed() {
		return nil, errors.New(errors.PhaseVerify, errors.KindInvalidState).
			Subject(m.path).
			Detail("module already torn down").
			Build()
	}

	imports, err := h.verify(m)
	if err != nil {
		return nil, err
	}

	// The lock stays released while _initialize runs so Teardown can close
	// the runtime underneath it.
	inst, err := h.link(ctx, m, imports)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = inst.Close(ctx)
		return nil, errors.New(errors.PhaseLink, errors.KindCanceled).
			Subject(m.path).
			Detail("module torn down during link").
			Build()
	}
	m.instance = inst
	return &Linked{mod: m, instance: inst}, nil
}

func (h *Host) verify(m *Module) (map[string]bool, error) {
	imports := make(map[string]bool)
	var missing []string
	for _, def := range m.compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if !h.cfg.NativeAccess.allows(mod) || (mod == BridgeModule && !bridgeFunctions[name]) {
			missing = append(missing, mod+"#"+name)
			continue
		}
		imports[mod] = true
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.PhaseVerify, errors.KindMissingImport).
			Subject(m.path).
			Cause(errors.NewMissingImportsError(string(h.cfg.NativeAccess), missing)).
			Build()
	}

	if len(m.compiled.ImportedMemories()) > 0 {
		return nil, errors.VerifyError(errors.KindUnsupported, m.path, "imported memory")
	}

	if !m.budget.Unbounded() {
		for name, mem := range m.compiled.ExportedMemories() {
			if declared := uint64(mem.Min()) * hermes.PageSize; m.budget.Exceeded(declared) {
				return nil, errors.New(errors.PhaseVerify, errors.KindBudgetExceeded).
					Subject(m.path).
					Value(declared).
					Detail("memory %q declares %d bytes, budget is %s", name, declared, m.budget).
					Build()
			}
		}
	}
	return imports, nil
}

func (h *Host) link(ctx context.Context, m *Module, imports map[string]bool) (api.Module, error) {
	if imports[BridgeModule] && m.runtime.Module(BridgeModule) == nil {
		if _, err := instantiateBridge(ctx, m.runtime); err != nil {
			return nil, errors.LinkError(errors.KindInstantiation, BridgeModule, err)
		}
	}
	if imports[wasiModule] && m.runtime.Module(wasiModule) == nil {
		if _, err := instantiateWASI(ctx, m.runtime); err != nil {
			return nil, errors.LinkError(errors.KindInstantiation, wasiModule, err)
		}
	}

	mc := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithStdout(writerOrDiscard(h.cfg.Stdout)).
		WithStderr(writerOrDiscard(h.cfg.Stderr))

	inst, err := m.runtime.InstantiateModule(ctx, m.compiled, mc)
	if err != nil {
		return nil, errors.LinkError(errors.KindInstantiation, m.path, err)
	}

	if init := inst.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = inst.Close(ctx)
			kind := errors.KindInstantiation
			var exit *sys.ExitError
			if ctx.Err() != nil || (stderrors.As(err, &exit) && exit.ExitCode() == exitCodeTeardown) {
				kind = errors.KindCanceled
			}
			return nil, errors.LinkError(kind, m.path, err)
		}
	}

	Logger().Debug("module linked", zap.String("path", m.path), zap.Int("host_modules", len(imports)))
	return inst, nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// Invoke calls entry. Memory growth during the call is reported as ALLOC.
func (h *Host) Invoke(ctx context.Context, handle island.LinkedHandle, entry string, args []any, sink island.Sink) (island.InvokeResult, error) {
	l, ok := handle.(*Linked)
	if !ok {
		return island.InvokeResult{}, errors.TypeMismatch(errors.PhaseInvoke, entry, handle, "*engine.Linked")
	}

	m := l.mod
	m.inflight.Add(1)
	defer m.inflight.Add(-1)

	if l.instance.IsClosed() {
		return island.InvokeResult{}, errors.New(errors.PhaseInvoke, errors.KindInvalidState).
			Subject(entry).
			Detail("instance closed").
			Build()
	}

	fn := l.instance.ExportedFunction(entry)
	if fn == nil {
		return island.InvokeResult{}, errors.New(errors.PhaseInvoke, errors.KindEntryPointMissing).
			Subject(entry).
			Detail("module %s exports no function %q", m.path, entry).
			Build()
	}
	def := fn.Definition()

	sig := h.signature(entry)
	if sig != nil {
		if err := sig.check(entry, def.ParamTypes(), def.ResultTypes()); err != nil {
			return island.InvokeResult{}, err
		}
	}

	params, err := lowerArgs(entry, def, sig, args)
	if err != nil {
		return island.InvokeResult{}, err
	}

	before := h.usage(l)
	raw, callErr := fn.Call(withSink(ctx, sink), params...)
	after := h.usage(l)

	if after > before && sink != nil {
		if err := sink.Report(event.Alloc, entry, after-before); err != nil {
			Logger().Debug("alloc report rejected", zap.Error(err))
		}
	}

	if callErr != nil {
		if err := classify(ctx, entry, callErr); err != nil {
			return island.InvokeResult{}, err
		}
		return island.InvokeResult{}, nil
	}

	if h.cfg.BudgetPolicy == BudgetAdvisory && m.budget.Exceeded(after) {
		return island.InvokeResult{}, errors.BudgetExceeded(errors.PhaseInvoke, entry, after, m.budget.Bytes())
	}

	return island.InvokeResult{Values: liftResults(def, sig, raw)}, nil
}

// classify maps a call error onto the taxonomy. It returns nil for a clean
// proc_exit(0).
func classify(ctx context.Context, entry string, err error) error {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		switch exit.ExitCode() {
		case 0:
			return nil
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			return errors.InvokeError(errors.KindCanceled, entry, err)
		case exitCodeTeardown:
			return errors.New(errors.PhaseInvoke, errors.KindCanceled).
				Subject(entry).
				Cause(err).
				Detail("module unloaded during call").
				Build()
		default:
			return errors.New(errors.PhaseInvoke, errors.KindExit).
				Subject(entry).
				Value(exit.ExitCode()).
				Cause(err).
				Detail("exit code %d", exit.ExitCode()).
				Build()
		}
	}

	if ctx.Err() != nil {
		return errors.InvokeError(errors.KindCanceled, entry, err)
	}

	var herr *errors.Error
	if stderrors.As(err, &herr) {
		return errors.New(errors.PhaseInvoke, herr.Kind).Subject(entry).Cause(err).Build()
	}

	return errors.InvokeError(errors.KindTrap, entry, err)
}

// Usage returns the guest's linear memory size in bytes.
func (h *Host) Usage(handle island.LinkedHandle) uint64 {
	l, ok := handle.(*Linked)
	if !ok {
		return 0
	}
	return h.usage(l)
}

func (h *Host) usage(l *Linked) uint64 {
	mem := l.instance.Memory()
	if mem == nil {
		return 0
	}
	return uint64(mem.Size())
}

// Teardown closes the module's instance, compiled code and runtime. A call
// still running is terminated and the teardown reports KindPinned.
func (h *Host) Teardown(ctx context.Context, handle island.ModuleHandle) error {
	m, ok := handle.(*Module)
	if !ok {
		return errors.TypeMismatch(errors.PhaseTeardown, handle.Path(), handle, "*engine.Module")
	}

	pinned := m.inflight.Load() > 0

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	inst := m.instance
	m.instance = nil
	m.mu.Unlock()

	var err error
	if inst != nil {
		err = multierr.Append(err, inst.CloseWithExitCode(ctx, exitCodeTeardown))
	}
	err = multierr.Append(err, m.compiled.Close(ctx))
	err = multierr.Append(err, m.runtime.CloseWithExitCode(ctx, exitCodeTeardown))

	switch {
	case pinned:
		Logger().Warn("torn down with call in flight", zap.String("path", m.path))
		return errors.New(errors.PhaseTeardown, errors.KindPinned).
			Subject(m.path).
			Cause(err).
			Detail("call in flight was terminated").
			Build()
	case err != nil:
		return errors.TeardownError(errors.KindHostFailure, m.path, err)
	}

	Logger().Debug("module torn down", zap.String("path", m.path))
	return nil
}

// Export describes an exported function.
type Export struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

func (e Export) String() string {
	return e.Name + "(" + valueTypeNames(e.Params) + ") -> (" + valueTypeNames(e.Results) + ")"
}

func valueTypeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// Exports compiles the module at path and lists its exported functions by
// name. Nothing is instantiated.
func (h *Host) Exports(ctx context.Context, path string) ([]Export, error) {
	bin, err := h.read(path)
	if err != nil {
		return nil, err
	}

	r := wazero.NewRuntimeWithConfig(ctx, h.runtimeConfig(0))
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.LoadError(errors.KindInvalidData, path, err)
	}

	defs := compiled.ExportedFunctions()
	out := make([]Export, 0, len(defs))
	for name, def := range defs {
		out = append(out, Export{
			Name:    name,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
