package island

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
)

// Island is an isolated context hosting at most one module at a time.
//
// The lifecycle is load -> link -> run (repeatable) -> unload. Every
// transition is published on the shared bus. Operations requested out of
// order fail with errors.KindInvalidState and leave the state unchanged.
//
// An Island may be used from several goroutines, but the lifecycle is meant to
// be driven by one owner. Unload may be called from anywhere, including while
// an invocation is running; the running call then fails.
type Island struct {
	host   Host
	bus    *event.Bus
	logger *zap.Logger
	module ModuleHandle
	linked LinkedHandle
	name   string
	path   string
	budget hermes.Budget
	gen    uint64
	mu     sync.Mutex
	state  State

	// pending is set while a load or link runs without the lock.
	pending bool
	retired bool
}

// Option configures an Island.
type Option func(*Island)

// WithLogger sets the island's logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Island) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an island in the Created state. The bus is borrowed, not owned.
func New(name string, budget hermes.Budget, bus *event.Bus, host Host, opts ...Option) *Island {
	i := &Island{
		name:   name,
		budget: budget,
		bus:    bus,
		host:   host,
		logger: zap.NewNop(),
		state:  Created,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(zap.String("island", name))
	return i
}

// Name returns the island's diagnostic name.
func (i *Island) Name() string {
	return i.name
}

// Budget returns the declared resource budget. It never changes.
func (i *Island) Budget() hermes.Budget {
	return i.budget
}

// State returns the current lifecycle state.
func (i *Island) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// ModulePath returns the path of the currently loaded module, if any.
func (i *Island) ModulePath() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.path
}

func (i *Island) String() string {
	return i.name + "[" + i.State().String() + "]"
}

// LoadModule asks the host to load the artifact at path. It emits LOAD_REQUEST
// followed by exactly one of LOAD_OK or LOAD_FAIL, including when the island
// is in a state that does not allow loading.
//
// The island lock is not held while the host loads, so State and Unload stay
// responsive. An Unload that lands during the load wins: the freshly loaded
// module is torn down and LoadModule fails with errors.KindCanceled.
func (i *Island) LoadModule(ctx context.Context, path string) error {
	i.emit(event.New(event.LoadRequest, path))

	err := i.load(ctx, path)
	if err != nil {
		i.logger.Debug("load failed", zap.String("path", path), zap.Error(err))
		i.emit(event.New(event.LoadFail, path))
		return err
	}

	i.logger.Debug("module loaded", zap.String("path", path), zap.Stringer("budget", i.budget))
	i.emit(event.New(event.LoadOK, path))
	return nil
}

func (i *Island) load(ctx context.Context, path string) error {
	i.mu.Lock()
	if err := i.gate(opLoad); err != nil {
		i.mu.Unlock()
		return err
	}
	if i.host == nil {
		i.mu.Unlock()
		return errors.NotInitialized(errors.PhaseLoad, "module host")
	}
	i.pending = true
	gen := i.gen
	i.mu.Unlock()

	mod, err := i.hostLoad(ctx, path)

	i.mu.Lock()
	stale := i.gen != gen
	if !stale {
		i.pending = false
		if err == nil {
			i.module = mod
			i.linked = nil
			i.path = path
			i.state = Loaded
		}
	}
	i.mu.Unlock()

	if err != nil {
		return normalize(err, errors.PhaseLoad, errors.KindHostFailure, path)
	}
	if stale {
		if terr := i.hostTeardown(ctx, mod); terr != nil {
			i.logger.Warn("orphaned module teardown failed", zap.String("path", path), zap.Error(terr))
		}
		return errors.New(errors.PhaseLoad, errors.KindCanceled).
			Subject(path).
			Detail("island %s unloaded during load", i.name).
			Build()
	}
	return nil
}

// LinkAll verifies the loaded module and resolves its links. On success it
// emits VERIFY_OK then LINK_OK. A module that verifies but fails to link emits
// only VERIFY_OK. Calling LinkAll in any state but Loaded emits nothing.
//
// Like LoadModule, the host call runs without the island lock. If the island
// is unloaded meanwhile, LinkAll emits nothing and fails with
// errors.KindCanceled.
func (i *Island) LinkAll(ctx context.Context) error {
	verified, err := i.link(ctx)
	if verified {
		i.emit(event.New(event.VerifyOK, i.name))
	}
	if err != nil {
		i.logger.Debug("link failed", zap.Bool("verified", verified), zap.Error(err))
		return err
	}

	i.emit(event.New(event.LinkOK, i.name))
	return nil
}

func (i *Island) link(ctx context.Context) (verified bool, err error) {
	i.mu.Lock()
	if err := i.gate(opLink); err != nil {
		i.mu.Unlock()
		return false, err
	}
	i.pending = true
	gen := i.gen
	mod := i.module
	i.mu.Unlock()

	linked, err := i.hostLink(ctx, mod)

	i.mu.Lock()
	stale := i.gen != gen
	if !stale {
		i.pending = false
		if err == nil {
			i.linked = linked
			i.state = Linked
		}
	}
	i.mu.Unlock()

	// Unload already tore the module down; the handle is dead either way.
	if stale {
		return false, errors.New(errors.PhaseLink, errors.KindCanceled).
			Subject(i.name).
			Cause(err).
			Detail("island unloaded during link").
			Build()
	}
	if err != nil {
		if errors.PhaseOf(err) == errors.PhaseLink {
			return true, err
		}
		return false, normalize(err, errors.PhaseVerify, errors.KindHostFailure, i.name)
	}
	return true, nil
}

// RunMain invokes entry in the linked module. It emits INVOKE_START, any
// values the module reports, then exactly one of INVOKE_END (value: elapsed
// nanoseconds) or INVOKE_FAIL. Calling RunMain in any state but Linked emits
// nothing.
//
// A module whose current usage exceeds the island's budget is not run; the
// call fails with errors.KindBudgetExceeded.
func (i *Island) RunMain(ctx context.Context, entry string, args ...any) (InvokeResult, error) {
	i.mu.Lock()
	if err := i.gate(opRun); err != nil {
		i.mu.Unlock()
		return InvokeResult{}, err
	}
	i.state = Running
	gen := i.gen
	linked := i.linked
	i.mu.Unlock()

	i.emit(event.New(event.InvokeStart, entry))
	start := time.Now()

	sink := &sink{island: i, entry: entry}
	res, err := i.invoke(ctx, linked, entry, args, sink)
	sink.close()
	elapsed := uint64(time.Since(start).Nanoseconds())

	i.mu.Lock()
	if i.gen == gen && i.state == Running {
		i.state = Linked
	}
	i.mu.Unlock()

	if err != nil {
		i.logger.Debug("invoke failed", zap.String("entry", entry), zap.Error(err))
		i.emit(event.New(event.InvokeFail, entry).WithValue(elapsed))
		return InvokeResult{}, err
	}

	i.emit(event.New(event.InvokeEnd, entry).WithValue(elapsed))
	return res, nil
}

func (i *Island) invoke(ctx context.Context, linked LinkedHandle, entry string, args []any, s Sink) (_ InvokeResult, err error) {
	defer i.recoverHost(errors.PhaseInvoke, entry, &err)

	if usage := i.host.Usage(linked); i.budget.Exceeded(usage) {
		return InvokeResult{}, errors.BudgetExceeded(errors.PhaseInvoke, entry, usage, i.budget.Bytes())
	}

	res, err := i.host.Invoke(ctx, linked, entry, args, s)
	if err != nil {
		return InvokeResult{}, normalize(err, errors.PhaseInvoke, errors.KindHostFailure, entry)
	}
	return res, nil
}

// Unload releases the module context. It is legal in every state and always
// leaves the island Unloaded. It emits UNLOAD_REQUEST then exactly one of
// UNLOAD_OK or UNLOAD_FAIL.
func (i *Island) Unload(ctx context.Context) error {
	i.emit(event.New(event.UnloadRequest, i.name))

	i.mu.Lock()
	mod := i.module
	prev := i.state
	i.module = nil
	i.linked = nil
	i.path = ""
	i.pending = false
	i.gen++
	i.state = Unloaded
	i.mu.Unlock()

	var err error
	if mod != nil && i.host != nil {
		if terr := i.hostTeardown(ctx, mod); terr != nil {
			err = normalize(terr, errors.PhaseTeardown, errors.KindHostFailure, i.name)
		}
	}

	if err != nil {
		i.logger.Warn("teardown failed", zap.Stringer("from", prev), zap.Error(err))
		i.emit(event.New(event.UnloadFail, i.name))
		return err
	}

	i.logger.Debug("unloaded", zap.Stringer("from", prev))
	i.emit(event.New(event.UnloadOK, i.name))
	return nil
}

// Retire permanently disables the island: later loads fail with
// errors.KindInvalidState. It only succeeds while the island holds no module
// and no load or link is in progress.
func (i *Island) Retire() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending || (i.state != Created && i.state != Unloaded) {
		return errors.InvalidState("retire", i.name, i.state.String())
	}
	i.retired = true
	return nil
}

// gate checks that o may start now. Callers hold i.mu.
func (i *Island) gate(o op) error {
	switch {
	case i.retired:
		return errors.InvalidState(string(o), i.name, "retired")
	case i.pending:
		return errors.InvalidState(string(o), i.name, i.state.String()+", busy")
	case !o.allowedIn(i.state):
		return errors.InvalidState(string(o), i.name, i.state.String())
	}
	return nil
}

func (i *Island) hostLoad(ctx context.Context, path string) (_ ModuleHandle, err error) {
	defer i.recoverHost(errors.PhaseLoad, path, &err)
	return i.host.Load(ctx, path, i.budget)
}

func (i *Island) hostLink(ctx context.Context, mod ModuleHandle) (_ LinkedHandle, err error) {
	defer i.recoverHost(errors.PhaseVerify, i.name, &err)
	return i.host.VerifyAndLink(ctx, mod)
}

func (i *Island) hostTeardown(ctx context.Context, mod ModuleHandle) (err error) {
	defer i.recoverHost(errors.PhaseTeardown, i.name, &err)
	return i.host.Teardown(ctx, mod)
}

// recoverHost turns a host panic into a host_failure error so the caller's
// normal failure path runs. It must be deferred directly.
func (i *Island) recoverHost(phase errors.Phase, subject string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	i.logger.Error("host panicked",
		zap.String("phase", string(phase)),
		zap.String("subject", subject),
		zap.Any("panic", r),
		zap.Stack("stack"))
	*err = errors.New(phase, errors.KindHostFailure).
		Subject(subject).
		Value(r).
		Detail("host panicked: %v", r).
		Build()
}

func (i *Island) emit(e event.Event) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(e.From(i.name))
}

// normalize keeps structured errors as they are and wraps anything else in
// the phase's taxonomy error.
func normalize(err error, phase errors.Phase, kind errors.Kind, subject string) error {
	if errors.PhaseOf(err) != "" {
		return err
	}
	return errors.New(phase, kind).Subject(subject).Cause(err).Build()
}
