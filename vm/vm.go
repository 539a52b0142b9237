package vm

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/island"
)

// VM creates islands and owns the bus they publish on.
type VM struct {
	host    island.Host
	bus     *event.Bus
	logger  *zap.Logger
	islands []*island.Island
	mu      sync.Mutex
}

// Option configures a VM.
type Option func(*VM)

// WithHost sets the module host shared by every island the VM creates.
func WithHost(h island.Host) Option {
	return func(v *VM) {
		v.host = h
	}
}

// WithLogger sets the VM logger. Islands and the bus inherit it.
func WithLogger(l *zap.Logger) Option {
	return func(v *VM) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a VM with an empty registry. Without WithHost every load fails.
func New(opts ...Option) *VM {
	v := &VM{
		host:   refusingHost{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.bus = event.NewBus(event.WithLogger(v.logger.Named("bus")))
	return v
}

// Events returns the VM's bus for subscription.
func (v *VM) Events() *event.Bus {
	return v.bus
}

// CreateIsland creates a new island in the Created state and registers it.
// Names are diagnostic only; duplicates are allowed.
func (v *VM) CreateIsland(name string, budget hermes.Budget) *island.Island {
	isl := island.New(name, budget, v.bus, v.host,
		island.WithLogger(v.logger.Named("island")))

	v.mu.Lock()
	v.islands = append(v.islands, isl)
	v.mu.Unlock()

	v.logger.Debug("island created", zap.String("island", name), zap.Stringer("budget", budget))
	return isl
}

// Islands returns a snapshot of registered islands in creation order.
func (v *VM) Islands() []*island.Island {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*island.Island, len(v.islands))
	copy(out, v.islands)
	return out
}

// Island returns the first registered island with the given name.
func (v *VM) Island(name string) (*island.Island, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, isl := range v.islands {
		if isl.Name() == name {
			return isl, true
		}
	}
	return nil, false
}

// Discard removes an island from the registry. Only islands that never loaded
// a module or have been unloaded may be discarded, and not while a load is in
// flight. A discarded island is retired: later loads on it fail.
func (v *VM) Discard(isl *island.Island) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for idx, cur := range v.islands {
		if cur != isl {
			continue
		}
		// Retire checks and flips the state under the island lock, so a
		// concurrent LoadModule either lands first and blocks the discard or
		// fails afterwards.
		if err := isl.Retire(); err != nil {
			return err
		}
		v.islands = append(v.islands[:idx], v.islands[idx+1:]...)
		return nil
	}
	return errors.NotFound(errors.PhaseLifecycle, "island", isl.Name())
}

// LoadModule forwards to isl.LoadModule.
func (v *VM) LoadModule(ctx context.Context, isl *island.Island, path string) error {
	return isl.LoadModule(ctx, path)
}

// LinkAll forwards to isl.LinkAll.
func (v *VM) LinkAll(ctx context.Context, isl *island.Island) error {
	return isl.LinkAll(ctx)
}

// RunMain forwards to isl.RunMain.
func (v *VM) RunMain(ctx context.Context, isl *island.Island, entry string, args ...any) (island.InvokeResult, error) {
	return isl.RunMain(ctx, entry, args...)
}

// UnloadIsland forwards to isl.Unload.
func (v *VM) UnloadIsland(ctx context.Context, isl *island.Island) error {
	return isl.Unload(ctx)
}

// Close unloads every island that still holds a module and clears the
// registry. Every island is retired, so it cannot be reloaded afterwards.
// Teardown errors are combined.
func (v *VM) Close(ctx context.Context) error {
	v.mu.Lock()
	islands := v.islands
	v.islands = nil
	v.mu.Unlock()

	var err error
	for _, isl := range islands {
		if isl.Retire() == nil {
			continue
		}
		err = multierr.Append(err, isl.Unload(ctx))
		_ = isl.Retire()
	}
	if err != nil {
		v.logger.Warn("close completed with errors", zap.Error(err))
	}
	return err
}

// refusingHost is installed when no host is configured.
type refusingHost struct{}

func (refusingHost) Load(context.Context, string, hermes.Budget) (island.ModuleHandle, error) {
	return nil, errors.NotInitialized(errors.PhaseLoad, "module host")
}

func (refusingHost) VerifyAndLink(context.Context, island.ModuleHandle) (island.LinkedHandle, error) {
	return nil, errors.NotInitialized(errors.PhaseVerify, "module host")
}

func (refusingHost) Invoke(context.Context, island.LinkedHandle, string, []any, island.Sink) (island.InvokeResult, error) {
	return island.InvokeResult{}, errors.NotInitialized(errors.PhaseInvoke, "module host")
}

func (refusingHost) Usage(island.LinkedHandle) uint64 { return 0 }

func (refusingHost) Teardown(context.Context, island.ModuleHandle) error { return nil }
