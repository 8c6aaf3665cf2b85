package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/setanarut/swapsort"
	"github.com/setanarut/swapsort/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	outputPath   string
	configPath   string
	resume       bool
	metricsAddr  string
	leadingZeros int

	radius          int
	ipd             int
	subRounds       int
	checkpointEvery time.Duration
	checkpointIters int
	maxIterations   int
	pairingName     string
	spaceName       string
	sequence        bool
	fidelityName    string
	rebuildEvery    int
	seedA, seedB    uint32
	precision       int
	workers         int

	sortCmd = &cobra.Command{
		Use:   "sort [input image]",
		Short: "Sort an image until interrupted or the iteration budget is spent",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSort,
	}
)

func init() {
	bindSortFlags(sortCmd)
}

// bindSortFlags registers the sort flags on cmd, resetting every bound
// variable to its default.
func bindSortFlags(cmd *cobra.Command) {
	def := swapsort.DefaultOptions()
	f := cmd.Flags()
	f.StringVarP(&outputPath, "output", "o", "", "Output PNG (default <input>_sorted.png)")
	f.StringVar(&configPath, "config", "", "YAML options file; flags override it")
	f.BoolVar(&resume, "resume", false, "Continue the run recorded next to --output")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.IntVarP(&leadingZeros, "leading-zeros", "z", utils.DefaultLeadingZeros, "Frame number width in sequence mode")

	f.IntVarP(&radius, "radius", "k", def.Radius, "Neighborhood radius; higher blurs more and costs radius²")
	f.IntVar(&ipd, "iterations-per-dispatch", def.IterationsPerDispatch, "Iterations between controller checks")
	f.IntVar(&subRounds, "sub-rounds", def.SubRounds, "Lockstep sub-rounds per iteration (0 picks from image size and radius)")
	f.DurationVar(&checkpointEvery, "checkpoint-interval", def.CheckpointInterval, "Wall-clock time between checkpoints (0 disables)")
	f.IntVar(&checkpointIters, "checkpoint-iterations", def.CheckpointIterations, "Iterations between checkpoints (0 disables)")
	f.IntVarP(&maxIterations, "max-iterations", "i", def.MaxIterations, "Stop after this many iterations (0 runs until interrupted)")
	f.StringVarP(&pairingName, "pairing", "m", def.Pairing.String(), "Pairing strategy: fast or high-quality")
	f.StringVarP(&spaceName, "color-space", "c", def.Space.String(), "Comparison space: perceptual (Lab) or raw (RGB)")
	f.BoolVarP(&sequence, "sequence", "n", false, "Keep every checkpoint as a numbered file instead of overwriting")
	f.StringVar(&fidelityName, "fidelity", def.Fidelity.String(), "Influence refresh: exact or approximate")
	f.IntVar(&rebuildEvery, "rebuild-every", def.RebuildEvery, "Full influence rebuild every N iterations (0 never)")
	f.Uint32Var(&seedA, "seed-a", def.Seed.A, "First pairing seed")
	f.Uint32Var(&seedB, "seed-b", def.Seed.B, "Second pairing seed")
	f.IntVar(&precision, "precision", def.Precision, "Lab fixed-point multiplier")
	f.IntVarP(&workers, "workers", "w", def.Workers, "Worker goroutines (0 uses GOMAXPROCS)")
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_sorted.png"
}

// loadOptions layers size defaults, the config file, then explicitly set
// flags.
func loadOptions(cmd *cobra.Command, size image.Point) (swapsort.Options, error) {
	opts := swapsort.OptionsFromSize(size)
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return opts, err
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}
	return applyFlags(cmd, opts)
}

func applyFlags(cmd *cobra.Command, opts swapsort.Options) (swapsort.Options, error) {
	f := cmd.Flags()
	var err error
	if f.Changed("radius") {
		opts.Radius = radius
	}
	if f.Changed("iterations-per-dispatch") {
		opts.IterationsPerDispatch = ipd
	}
	if f.Changed("sub-rounds") {
		opts.SubRounds = subRounds
	}
	if f.Changed("checkpoint-interval") {
		opts.CheckpointInterval = checkpointEvery
	}
	if f.Changed("checkpoint-iterations") {
		opts.CheckpointIterations = checkpointIters
	}
	if f.Changed("max-iterations") {
		opts.MaxIterations = maxIterations
	}
	if f.Changed("pairing") {
		if opts.Pairing, err = swapsort.ParsePairingStrategy(pairingName); err != nil {
			return opts, err
		}
	}
	if f.Changed("color-space") {
		if opts.Space, err = swapsort.ParseColorSpace(spaceName); err != nil {
			return opts, err
		}
	}
	if f.Changed("sequence") {
		opts.Output = swapsort.OutputOverwrite
		if sequence {
			opts.Output = swapsort.OutputSequence
		}
	}
	if f.Changed("fidelity") {
		if opts.Fidelity, err = swapsort.ParseFidelity(fidelityName); err != nil {
			return opts, err
		}
	}
	if f.Changed("rebuild-every") {
		opts.RebuildEvery = rebuildEvery
	}
	if f.Changed("seed-a") {
		opts.Seed.A = seedA
	}
	if f.Changed("seed-b") {
		opts.Seed.B = seedB
	}
	if f.Changed("precision") {
		opts.Precision = precision
	}
	if f.Changed("workers") {
		opts.Workers = workers
	}
	return opts, opts.Validate()
}

func runSort(cmd *cobra.Command, args []string) error {
	input := ""
	if len(args) > 0 {
		input = args[0]
	}
	if outputPath == "" {
		if input == "" {
			return errors.New("need an input image or --output")
		}
		outputPath = defaultOutput(input)
	}

	var (
		src   *image.NRGBA
		opts  swapsort.Options
		state *utils.RunState
		err   error
	)
	if resume {
		state, err = utils.LoadState(utils.StatePath(outputPath))
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if err := checkResumable(state, cmd.Flags().Changed("max-iterations")); err != nil {
			return err
		}
		if input == "" {
			input = state.Input
		}
		if src, err = utils.ReadNRGBA(state.Checkpoint); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if opts, err = applyFlags(cmd, state.ResumeOptions()); err != nil {
			return err
		}
		slog.Info("resuming", "run", state.RunID, "iteration", state.Iteration, "frame", state.Frame, "checkpoint", state.Checkpoint)
	} else {
		if input == "" {
			return errors.New("need an input image")
		}
		if src, err = utils.ReadNRGBA(input); err != nil {
			return err
		}
		if opts, err = loadOptions(cmd, src.Bounds().Size()); err != nil {
			return err
		}
		state = &utils.RunState{Input: input}
	}

	sink := &utils.FileSink{Path: outputPath, Mode: opts.Output, LeadingZeros: leadingZeros, State: state}
	sorter, err := swapsort.New(src, opts, sink)
	if err != nil {
		return err
	}
	defer sorter.Close()
	state.Options = sorter.Options()
	// Resume bookkeeping lives in the sidecar, not in the saved options.
	state.Options.RunID = ""
	state.Options.StartIteration = 0
	state.Options.StartFrame = 0

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	if metricsAddr != "" {
		serveMetrics(runCtx, g, metricsAddr)
	}
	var stats swapsort.Stats
	g.Go(func() error {
		defer finish()
		var err error
		stats, err = sorter.Run(runCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d iterations, %d swaps, %d checkpoints in %s\n",
		stats.Iterations, stats.Swaps, stats.Checkpoints, stats.Elapsed.Round(time.Millisecond))

	// A sequence run leaves many files; only a single output is checked.
	if opts.Output == swapsort.OutputOverwrite && input != "" {
		return verifyFiles(cmd, input, outputPath, swapsort.CompareOptions{})
	}
	return nil
}

// checkResumable refuses to resume a run that finished its iteration
// budget, unless a new budget is given.
func checkResumable(state *utils.RunState, newBudget bool) error {
	spent := state.Final && state.Options.MaxIterations > 0 &&
		state.Iteration >= uint64(state.Options.MaxIterations)
	if spent && !newBudget {
		return fmt.Errorf("resume: run %s already spent its %d iterations", state.RunID, state.Options.MaxIterations)
	}
	return nil
}

// serveMetrics exposes the default Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
