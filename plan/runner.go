package plan

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/island"
	"github.com/wippyai/hermes-islands/vm"
)

// Declarer attaches entry point signatures. engine.Host implements it.
type Declarer interface {
	Declare(entry, signature string) error
}

// Runner executes plans on a VM.
type Runner struct {
	VM *vm.VM

	// Declarer receives island signatures. Nil ignores them.
	Declarer Declarer

	// Budget applies to islands that declare none.
	Budget hermes.Budget

	// Parallelism caps how many islands run at once. Zero runs all of them.
	Parallelism int

	Logger *zap.Logger
}

// Outcome is the result of one island.
type Outcome struct {
	Err      error
	Island   string
	Module   string
	Entry    string
	Results  []any
	Runs     int
	Duration time.Duration
}

// Report collects outcomes in plan order.
type Report struct {
	Outcomes []Outcome
}

// Failed returns the number of islands that did not complete.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Err combines every island error.
func (r *Report) Err() error {
	var err error
	for _, o := range r.Outcomes {
		err = multierr.Append(err, o.Err)
	}
	return err
}

// Run executes every island concurrently and waits for all of them. Each
// island is created, loaded, linked, invoked Runs times and unloaded.
func (r *Runner) Run(ctx context.Context, p *Plan) *Report {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if r.Declarer != nil {
		for _, spec := range p.Islands {
			if spec.Signature == "" {
				continue
			}
			if err := r.Declarer.Declare(spec.EntryPoint(), spec.Signature); err != nil {
				logger.Warn("signature ignored", zap.String("island", spec.Name), zap.Error(err))
			}
		}
	}

	report := &Report{Outcomes: make([]Outcome, len(p.Islands))}
	var g errgroup.Group
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for i, spec := range p.Islands {
		g.Go(func() error {
			report.Outcomes[i] = r.runIsland(ctx, spec)
			if err := report.Outcomes[i].Err; err != nil {
				logger.Warn("island failed", zap.String("island", spec.Name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (r *Runner) runIsland(ctx context.Context, spec IslandSpec) (out Outcome) {
	out = Outcome{Island: spec.Name, Module: spec.Module, Entry: spec.EntryPoint()}
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	budget, err := spec.budget(r.Budget)
	if err != nil {
		out.Err = err
		return out
	}
	timeout, err := spec.timeout()
	if err != nil {
		out.Err = err
		return out
	}

	isl := r.VM.CreateIsland(spec.Name, budget)
	defer func() {
		out.Err = multierr.Append(out.Err, r.VM.UnloadIsland(context.WithoutCancel(ctx), isl))
	}()

	if out.Err = r.VM.LoadModule(ctx, isl, spec.Module); out.Err != nil {
		return out
	}
	if out.Err = r.VM.LinkAll(ctx, isl); out.Err != nil {
		return out
	}

	args := make([]any, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = a
	}

	for n := 0; n < spec.Runs(); n++ {
		var res island.InvokeResult
		res, out.Err = r.invoke(ctx, isl, out.Entry, args, timeout)
		out.Runs++
		if out.Err != nil {
			return out
		}
		out.Results = res.Values
	}
	return out
}

func (r *Runner) invoke(ctx context.Context, isl *island.Island, entry string, args []any, timeout time.Duration) (island.InvokeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.VM.RunMain(ctx, isl, entry, args...)
}
