package swapsort

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"
)

var ErrAlreadyRun = errors.New("swapsort: sorter already ran")

// State is the controller state.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateCheckpointing
	StateFinalizing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateCheckpointing:
		return "checkpointing"
	case StateFinalizing:
		return "finalizing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Checkpoint is a decoded copy of the image at an iteration boundary.
// It never aliases the sorter's buffers.
type Checkpoint struct {
	Image     *image.NRGBA
	Iteration uint64
	Frame     int  // 1-based publication counter; 0 for ad hoc snapshots
	Final     bool // Taken while finalizing
	RunID     string
}

// Sink persists checkpoints. Save is called from one goroutine at a time.
type Sink interface {
	Save(ctx context.Context, cp *Checkpoint) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, cp *Checkpoint) error

func (f SinkFunc) Save(ctx context.Context, cp *Checkpoint) error { return f(ctx, cp) }

type discardSink struct{}

func (discardSink) Save(context.Context, *Checkpoint) error { return nil }

// Stats summarizes one Run.
type Stats struct {
	RunID       string
	Iterations  uint64 // Run during this session
	Iteration   uint64 // Absolute counter at the end
	Attempted   uint64 // Pairs evaluated
	Swaps       uint64 // Pairs exchanged
	Checkpoints int
	Elapsed     time.Duration
	// Mean fraction of pairs swapped per unit over the most recent units.
	SwapRatio   float64
	Interrupted bool
}

const ratioWindow = 128

type Sorter struct {
	opts   Options
	codec  *Codec
	kernel *Kernel
	work   *Working
	field  *Field
	ex     *exchanger
	opaque []int32

	flags   []uint8 // Per-slot swap result, written by lanes
	swapped []int32

	disp    Dispatcher
	ownDisp bool
	sink    Sink

	mu        sync.Mutex // Guards the buffers between Step and Snapshot
	state     atomic.Int32
	iter      uint64
	frame     int
	attempted uint64
	swaps     uint64
	ratios    []float64
	ratioAt   int
}

// New prepares a sorter on a private pool of opts.Workers goroutines.
func New(src *image.NRGBA, opts Options, sink Sink) (*Sorter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d := NewPool(opts.Workers)
	s, err := NewWithDispatcher(src, opts, sink, d)
	if err != nil {
		d.Close()
		return nil, err
	}
	s.ownDisp = true
	return s, nil
}

// NewWithDispatcher prepares a sorter that runs its parallel work on d.
// The caller keeps ownership of d.
func NewWithDispatcher(src *image.NRGBA, opts Options, sink Sink, d Dispatcher) (*Sorter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidOptions)
	}
	if sink == nil {
		sink = discardSink{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	log := Logger().With("run", opts.RunID)

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if r, clamped := ClampRadius(opts.Radius, w, h); clamped {
		log.Warn("radius clamped to image size", "requested", opts.Radius, "radius", r, "width", w, "height", h)
		opts.Radius = r
	}

	codec, err := NewCodec(opts.Space, opts.Precision)
	if err != nil {
		return nil, err
	}
	if err := codec.CheckRoundTrip(src); err != nil {
		return nil, fmt.Errorf("input colors: %w", err)
	}

	work := codec.Encode(src)
	opaque := opaqueIndex(work)
	if len(opaque) == 0 {
		return nil, ErrNoOpaquePixels
	}
	if len(opaque)%2 != 0 {
		return nil, fmt.Errorf("%w: %d of %d pixels are opaque", ErrOddEligible, len(opaque), w*h)
	}

	kernel := NewKernel(opts.Radius)
	if opts.SubRounds == 0 {
		opts.SubRounds = autoSubRounds(len(opaque), kernel.Taps(), w*h)
		log.Debug("sub-rounds picked", "sub_rounds", opts.SubRounds)
	}
	field := BuildField(work, kernel, codec, d)

	s := &Sorter{
		opts:    opts,
		codec:   codec,
		kernel:  kernel,
		work:    work,
		field:   field,
		ex:      &exchanger{work: work, field: field, codec: codec},
		opaque:  opaque,
		flags:   make([]uint8, len(opaque)/2),
		swapped: make([]int32, 0, len(opaque)),
		disp:    d,
		sink:    sink,
		iter:    opts.StartIteration,
		frame:   opts.StartFrame,
		ratios:  make([]float64, 0, ratioWindow),
	}
	s.state.Store(int32(StateInitializing))
	log.Info("sorter initialized",
		"width", w, "height", h,
		"opaque", len(opaque),
		"radius", opts.Radius, "taps", kernel.Taps(),
		"pairing", opts.Pairing, "space", opts.Space, "fidelity", opts.Fidelity,
		"sub_rounds", opts.SubRounds,
		"workers", d.Workers(),
		"iteration", s.iter)
	return s, nil
}

// autoSubRounds evaluates one pair per sub-round when the kernel disk
// covers at least half the image. There nearly every pair interacts, and
// pairs judged against one snapshot flip alternating patterns back and
// forth instead of settling them.
func autoSubRounds(opaque, taps, area int) int {
	if 2*taps >= area {
		return max(opaque/2, 1)
	}
	return 1
}

func (s *Sorter) State() State { return State(s.state.Load()) }

func (s *Sorter) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		Logger().Debug("state", "run", s.opts.RunID, "from", old, "to", st)
	}
}

// Options returns the effective options, after radius clamping.
func (s *Sorter) Options() Options { return s.opts }

func (s *Sorter) RunID() string { return s.opts.RunID }

// Iteration returns the number of the next iteration to run.
func (s *Sorter) Iteration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iter
}

// Close releases the pool when the sorter created it.
func (s *Sorter) Close() {
	if s.ownDisp {
		s.disp.Close()
	}
}

// Step runs exactly one iteration.
func (s *Sorter) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.step()
	return err
}

func (s *Sorter) step() (int, error) {
	p, err := NewPairing(s.opts.Pairing, s.iter, s.opts.Seed, len(s.opaque))
	if err != nil {
		return 0, err
	}
	slots := p.Len()
	rounds := min(s.opts.SubRounds, slots)
	swaps := 0
	for r := range rounds {
		swaps += s.subRound(p, r*slots/rounds, (r+1)*slots/rounds)
	}
	s.iter++
	s.attempted += uint64(slots)
	s.swaps += uint64(swaps)
	iterationsTotal.Inc()
	attemptedSwapsTotal.Add(float64(slots))
	swapsTotal.Add(float64(swaps))

	if every := uint64(s.opts.RebuildEvery); every > 0 && s.iter%every == 0 {
		s.field.rebuild(s.work, s.disp)
		Logger().Debug("influence field rebuilt", "run", s.opts.RunID, "iteration", s.iter)
	}
	return swaps, nil
}

// subRound evaluates slots [lo, hi) against the current field, waits for
// every lane, then brings the field up to date with the swaps.
func (s *Sorter) subRound(p Pairing, lo, hi int) int {
	flags := s.flags[lo:hi]
	parallelFor(s.disp, hi-lo, func(start, end int) {
		for k := start; k < end; k++ {
			a, b := p.Pair(lo + k)
			if s.ex.compareExchange(int(s.opaque[a]), int(s.opaque[b])) {
				flags[k] = 1
			} else {
				flags[k] = 0
			}
		}
	})

	s.swapped = s.swapped[:0]
	for k, f := range flags {
		if f == 0 {
			continue
		}
		a, b := p.Pair(lo + k)
		s.swapped = append(s.swapped, s.opaque[a], s.opaque[b])
	}
	if len(s.swapped) == 0 {
		return 0
	}
	switch s.opts.Fidelity {
	case FidelityApproximate:
		s.field.refreshOwn(s.work, s.swapped, s.disp)
	default:
		s.field.refreshAround(s.work, s.swapped, s.disp)
	}
	return len(s.swapped) / 2
}

// Snapshot decodes a copy of the current image.
func (s *Sorter) Snapshot() *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Sorter) snapshot() *Checkpoint {
	img := image.NewNRGBA(image.Rect(0, 0, s.work.W, s.work.H))
	parallelFor(s.disp, s.work.H, func(y0, y1 int) {
		s.codec.decodeRows(img, s.work, y0, y1)
	})
	return &Checkpoint{Image: img, Iteration: s.iter, RunID: s.opts.RunID}
}

func (s *Sorter) budgetDone() bool {
	return s.opts.MaxIterations > 0 && s.iter >= uint64(s.opts.MaxIterations)
}

// unit runs up to IterationsPerDispatch iterations, stopping early at the
// iteration budget.
func (s *Sorter) unit() (iters, swaps int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range s.opts.IterationsPerDispatch {
		if s.budgetDone() {
			break
		}
		n, err := s.step()
		if err != nil {
			return iters, swaps, err
		}
		iters++
		swaps += n
	}
	return iters, swaps, nil
}

func (s *Sorter) recordRatio(iters, swaps int) {
	if iters == 0 {
		return
	}
	r := float64(swaps) / float64(iters*len(s.flags))
	if len(s.ratios) < ratioWindow {
		s.ratios = append(s.ratios, r)
		return
	}
	s.ratios[s.ratioAt] = r
	s.ratioAt = (s.ratioAt + 1) % ratioWindow
}

// trigger returns the periodic checkpoint trigger, or nil when both
// intervals are disabled.
func (s *Sorter) trigger() *rate.Sometimes {
	every := 0
	if n := s.opts.CheckpointIterations; n > 0 {
		ipd := s.opts.IterationsPerDispatch
		every = (n + ipd - 1) / ipd
	}
	if every == 0 && s.opts.CheckpointInterval == 0 {
		return nil
	}
	t := &rate.Sometimes{Every: every, Interval: s.opts.CheckpointInterval}
	// The first Do always runs; spend it now so the clock starts here.
	t.Do(func() {})
	return t
}

// Run drives the sorter until ctx is canceled or MaxIterations is reached,
// then publishes a final checkpoint. Cancellation is not an error.
func (s *Sorter) Run(ctx context.Context) (Stats, error) {
	if !s.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning)) {
		return Stats{}, ErrAlreadyRun
	}
	log := Logger().With("run", s.opts.RunID)
	log.Info("run started", "iteration", s.iter, "max_iterations", s.opts.MaxIterations)

	start := time.Now()
	startIter := s.iter
	trig := s.trigger()
	w := newCheckpointWriter(ctx, s.sink, log)

	var runErr error
	for !s.budgetDone() {
		if ctx.Err() != nil {
			break
		}
		t0 := time.Now()
		iters, swaps, err := s.unit()
		if err != nil {
			runErr = err
			break
		}
		unitDuration.Observe(time.Since(t0).Seconds())
		s.recordRatio(iters, swaps)

		due := false
		if trig != nil {
			trig.Do(func() { due = true })
		}
		if due && !s.budgetDone() {
			s.setState(StateCheckpointing)
			cp := s.publishable(false)
			s.setState(StateRunning)
			w.submit(cp)
			s.status(log, cp, start, startIter)
		}
	}

	interrupted := ctx.Err() != nil && runErr == nil && !s.budgetDone()
	s.setState(StateFinalizing)
	if interrupted {
		log.Info("interrupted, finalizing", "iteration", s.iter)
	}
	checkpoints, werr := w.close()

	final := s.publishable(true)
	t0 := time.Now()
	ferr := s.sink.Save(context.WithoutCancel(ctx), final)
	checkpointDuration.Observe(time.Since(t0).Seconds())
	if ferr != nil {
		checkpointsTotal.WithLabelValues("error").Inc()
		ferr = fmt.Errorf("final checkpoint: %w", ferr)
	} else {
		checkpointsTotal.WithLabelValues("ok").Inc()
		checkpoints++
	}
	s.status(log, final, start, startIter)
	s.setState(StateTerminated)

	stats := s.stats(start, startIter, checkpoints, interrupted)
	log.Info("run finished",
		"iterations", stats.Iterations,
		"swaps", humanize.Comma(int64(stats.Swaps)),
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, errors.Join(runErr, werr, ferr)
}

// publishable takes a snapshot and assigns it the next frame number.
func (s *Sorter) publishable(final bool) *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.snapshot()
	s.frame++
	cp.Frame = s.frame
	cp.Final = final
	return cp
}

func (s *Sorter) status(log *slog.Logger, cp *Checkpoint, start time.Time, startIter uint64) {
	elapsed := time.Since(start)
	perSec := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		perSec = float64((cp.Iteration-startIter)*uint64(len(s.flags))) / secs
	}
	log.Info("checkpoint",
		"frame", cp.Frame,
		"final", cp.Final,
		"elapsed", elapsed.Round(time.Second),
		"iteration", humanize.Comma(int64(cp.Iteration)),
		"attempted", humanize.Comma(int64(s.attempted)),
		"rate", humanize.SIWithDigits(perSec, 1, "pairs/s"))
}

func (s *Sorter) stats(start time.Time, startIter uint64, checkpoints int, interrupted bool) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		RunID:       s.opts.RunID,
		Iterations:  s.iter - startIter,
		Iteration:   s.iter,
		Attempted:   s.attempted,
		Swaps:       s.swaps,
		Checkpoints: checkpoints,
		Elapsed:     time.Since(start),
		Interrupted: interrupted,
	}
	if len(s.ratios) > 0 {
		st.SwapRatio = stat.Mean(s.ratios, nil)
	}
	return st
}

// checkpointWriter persists checkpoints off the iteration path. At most
// one checkpoint waits while another is being written; submit blocks
// beyond that.
type checkpointWriter struct {
	g     errgroup.Group
	ch    chan *Checkpoint
	saved int // Successful saves; read after g.Wait
}

func newCheckpointWriter(ctx context.Context, sink Sink, log *slog.Logger) *checkpointWriter {
	w := &checkpointWriter{ch: make(chan *Checkpoint, 1)}
	// In-flight writes outlive cancellation; the run finalizes after them.
	wctx := context.WithoutCancel(ctx)
	w.g.Go(func() error {
		var first error
		for cp := range w.ch {
			t0 := time.Now()
			err := sink.Save(wctx, cp)
			checkpointDuration.Observe(time.Since(t0).Seconds())
			if err != nil {
				checkpointsTotal.WithLabelValues("error").Inc()
				log.Error("checkpoint failed", "frame", cp.Frame, "iteration", cp.Iteration, "err", err)
				if first == nil {
					first = fmt.Errorf("checkpoint %d: %w", cp.Frame, err)
				}
				continue
			}
			checkpointsTotal.WithLabelValues("ok").Inc()
			w.saved++
		}
		return first
	})
	return w
}

func (w *checkpointWriter) submit(cp *Checkpoint) { w.ch <- cp }

// close waits for pending writes. It returns the number of checkpoints
// saved and the first failure.
func (w *checkpointWriter) close() (int, error) {
	close(w.ch)
	err := w.g.Wait()
	return w.saved, err
}
