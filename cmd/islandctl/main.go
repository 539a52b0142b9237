package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/hermes-islands/config"
	"github.com/wippyai/hermes-islands/engine"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/internal/logging"
	"github.com/wippyai/hermes-islands/observer"
	"github.com/wippyai/hermes-islands/plan"
	"github.com/wippyai/hermes-islands/vm"
)

const usage = `Usage: islandctl [flags] <module.wasm> [args...]
       islandctl [flags] --list <module.wasm>
       islandctl [flags] -i <module.wasm>   (interactive mode)
       islandctl [flags] --plan <plan.yaml|plan.toml>

Flags:
`

type options struct {
	entry       string
	signature   string
	island      string
	planFile    string
	parallel    int
	list        bool
	interactive bool
	quiet       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := pflag.NewFlagSet("islandctl", pflag.ContinueOnError)
	config.AddFlags(fs)

	var opts options
	fs.StringVar(&opts.entry, "entry", "main", "Entry point to invoke")
	fs.StringVar(&opts.signature, "signature", "", "Typed signature of the entry point, e.g. \"a: u32, b: u32 -> u32\"")
	fs.StringVar(&opts.island, "island", "A", "Island name")
	fs.StringVar(&opts.planFile, "plan", "", "Run every island of a plan file concurrently")
	fs.IntVar(&opts.parallel, "parallel", 0, "Maximum islands of a plan running at once (0: all)")
	fs.BoolVar(&opts.list, "list", false, "List exported functions and exit")
	fs.BoolVarP(&opts.interactive, "interactive", "i", false, "Interactive mode with TUI")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print invocation events")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(argv); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	logger, err := logging.New("islandctl", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	engine.SetLogger(logger.Named("engine"))

	if cfg.File != "" {
		logger.Info("config file loaded", zap.String("path", cfg.File))
	}

	if opts.planFile == "" && fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("module path required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := engine.NewHost(cfg.Engine())
	if err != nil {
		return err
	}
	defer host.Close(context.WithoutCancel(ctx))

	if opts.list {
		return list(ctx, host, fs.Arg(0))
	}

	machine := vm.New(vm.WithHost(host), vm.WithLogger(logger))
	defer func() {
		if err := machine.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("vm close failed", zap.Error(err))
		}
	}()

	observer.LogEvents(machine.Events(), logger.Named("events"))

	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(machine.Events(), cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode requires a terminal")
		}
		if opts.signature != "" {
			if err := host.Declare(opts.entry, opts.signature); err != nil {
				return err
			}
		}
		return runInteractive(ctx, machine, host, opts.island, fs.Arg(0), cfg)
	}

	if !opts.quiet {
		subscribePrinters(machine.Events(), os.Stdout)
	}

	if opts.planFile != "" {
		return runPlan(ctx, machine, host, opts, cfg, logger)
	}

	if opts.signature != "" {
		if err := host.Declare(opts.entry, opts.signature); err != nil {
			return err
		}
	}

	args := make([]any, 0, fs.NArg()-1)
	for _, a := range fs.Args()[1:] {
		args = append(args, a)
	}
	return runSingle(ctx, machine, opts, fs.Arg(0), cfg, args)
}

func list(ctx context.Context, host *engine.Host, path string) error {
	exports, err := host.Exports(ctx, path)
	if err != nil {
		return err
	}

	fmt.Printf("Module: %s\n", path)
	fmt.Printf("\nExported functions:\n")
	for _, e := range exports {
		fmt.Printf("  %s\n", e)
	}
	return nil
}

func runSingle(ctx context.Context, machine *vm.VM, opts options, path string, cfg *config.Config, args []any) error {
	isl := machine.CreateIsland(opts.island, cfg.Budget)

	if err := machine.LoadModule(ctx, isl, path); err != nil {
		return err
	}
	if err := machine.LinkAll(ctx, isl); err != nil {
		return err
	}

	res, err := machine.RunMain(ctx, isl, opts.entry, args...)
	if err != nil {
		return err
	}
	if len(res.Values) > 0 {
		fmt.Printf("Result: %v\n", formatValues(res.Values))
	}

	return machine.UnloadIsland(ctx, isl)
}

func runPlan(ctx context.Context, machine *vm.VM, host *engine.Host, opts options, cfg *config.Config, logger *zap.Logger) error {
	p, err := plan.Load(opts.planFile)
	if err != nil {
		return err
	}

	runner := &plan.Runner{
		VM:          machine,
		Declarer:    host,
		Budget:      cfg.Budget,
		Parallelism: opts.parallel,
		Logger:      logger.Named("plan"),
	}
	report := runner.Run(ctx, p)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ISLAND\tMODULE\tENTRY\tRUNS\tDURATION\tRESULT")
	for _, o := range report.Outcomes {
		result := formatValues(o.Results)
		if o.Err != nil {
			result = "error: " + o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			o.Island, o.Module, o.Entry, o.Runs, o.Duration.Round(time.Microsecond), result)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d islands failed: %w", n, len(report.Outcomes), report.Err())
	}
	return nil
}

// subscribePrinters writes invocation progress to w.
func subscribePrinters(bus *event.Bus, w io.Writer) {
	bus.Subscribe(event.InvokeStart, func(e event.Event) {
		fmt.Fprintf(w, "[%s] start %s\n", e.Island, e.Subject)
	})
	bus.Subscribe(event.Result, func(e event.Event) {
		fmt.Fprintf(w, "[%s] result %s = %d\n", e.Island, e.Subject, e.Value)
	})
	bus.Subscribe(event.InvokeEnd, func(e event.Event) {
		fmt.Fprintf(w, "[%s] end %s (%s)\n", e.Island, e.Subject, time.Duration(e.Value))
	})
	bus.Subscribe(event.InvokeFail, func(e event.Event) {
		fmt.Fprintf(w, "[%s] failed %s (%s)\n", e.Island, e.Subject, time.Duration(e.Value))
	})
}

func serveMetrics(bus *event.Bus, addr string, logger *zap.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	m, err := observer.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	m.Subscribe(bus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", observer.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func formatValues(vs []any) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}
