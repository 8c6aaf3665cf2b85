package swapsort

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink keeps every checkpoint it is given.
type memorySink struct {
	mu  sync.Mutex
	cps []*Checkpoint
}

func (m *memorySink) Save(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps = append(m.cps, cp)
	return nil
}

func (m *memorySink) all() []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Checkpoint(nil), m.cps...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Radius = 3
	opts.CheckpointInterval = 0
	return opts
}

func TestSorterPreservesColors(t *testing.T) {
	src := randomImage(12, 9, 7)
	pool := NewPool(4)
	t.Cleanup(pool.Close)

	for _, pairing := range []PairingStrategy{PairingFast, PairingQuality} {
		for _, space := range []ColorSpace{SpaceLab, SpaceRGB} {
			for _, fidelity := range []Fidelity{FidelityExact, FidelityApproximate} {
				for _, sub := range []int{1, 3} {
					for _, ipd := range []int{1, 4} {
						name := fmt.Sprintf("%v/%v/%v/sub%d/ipd%d", pairing, space, fidelity, sub, ipd)
						t.Run(name, func(t *testing.T) {
							opts := testOptions()
							opts.Pairing = pairing
							opts.Space = space
							opts.Fidelity = fidelity
							opts.SubRounds = sub
							opts.IterationsPerDispatch = ipd
							opts.MaxIterations = 8
							opts.CheckpointIterations = 2
							if fidelity == FidelityApproximate {
								opts.RebuildEvery = 3
							}

							sink := &memorySink{}
							s, err := NewWithDispatcher(src, opts, sink, pool)
							require.NoError(t, err)
							stats, err := s.Run(context.Background())
							require.NoError(t, err)
							assert.Equal(t, uint64(8), stats.Iterations)
							assert.Equal(t, StateTerminated, s.State())

							cps := sink.all()
							require.NotEmpty(t, cps)
							assert.Equal(t, len(cps), stats.Checkpoints)
							assert.True(t, cps[len(cps)-1].Final)
							for _, cp := range cps {
								res := Compare(src, cp.Image, CompareOptions{})
								require.True(t, res.Equal(), "iteration %d: %v", cp.Iteration, res)
							}
						})
					}
				}
			}
		}
	}
}

func TestSorterMovesPixels(t *testing.T) {
	src := randomImage(12, 9, 8)
	s, err := NewWithDispatcher(src, testOptions(), nil, Serial{})
	require.NoError(t, err)
	for range 5 {
		require.NoError(t, s.Step())
	}
	assert.NotEqual(t, src.Pix, s.Snapshot().Image.Pix)
}

func TestSorterDeterministic(t *testing.T) {
	src := randomImage(10, 11, 9)
	opts := testOptions()
	opts.Pairing = PairingQuality
	opts.SubRounds = 2

	run := func(d Dispatcher) []byte {
		s, err := NewWithDispatcher(src, opts, nil, d)
		require.NoError(t, err)
		for range 12 {
			require.NoError(t, s.Step())
		}
		return s.Snapshot().Image.Pix
	}
	pool := NewPool(3)
	t.Cleanup(pool.Close)
	a := run(pool)
	b := run(pool)
	c := run(Serial{})
	assert.Equal(t, a, b)
	assert.Equal(t, a, c, "result must not depend on the worker count")
}

func TestSorterResumeMatchesContinuous(t *testing.T) {
	src := randomImage(8, 8, 10)
	opts := testOptions()

	cont, err := NewWithDispatcher(src, opts, nil, Serial{})
	require.NoError(t, err)
	for range 10 {
		require.NoError(t, cont.Step())
	}

	first, err := NewWithDispatcher(src, opts, nil, Serial{})
	require.NoError(t, err)
	for range 4 {
		require.NoError(t, first.Step())
	}
	cp := first.Snapshot()
	require.Equal(t, uint64(4), cp.Iteration)

	opts.StartIteration = cp.Iteration
	second, err := NewWithDispatcher(cp.Image, opts, nil, Serial{})
	require.NoError(t, err)
	for range 6 {
		require.NoError(t, second.Step())
	}
	assert.Equal(t, uint64(10), second.Iteration())
	assert.Equal(t, cont.Snapshot().Image.Pix, second.Snapshot().Image.Pix)
}

func TestSorterZeroRadiusLeavesImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 40, G: 80, B: 120, A: 255})

	opts := testOptions()
	opts.Radius = 0
	s, err := NewWithDispatcher(img, opts, nil, Serial{})
	require.NoError(t, err)
	require.NoError(t, s.Step())
	assert.Equal(t, img.Pix, s.Snapshot().Image.Pix)
}

func TestSorterGroupsBlackAndWhite(t *testing.T) {
	src := row(black, white, black, white)
	grouped := [][]byte{
		row(black, black, white, white).Pix,
		row(white, white, black, black).Pix,
	}
	for _, pairing := range []PairingStrategy{PairingFast, PairingQuality} {
		for _, space := range []ColorSpace{SpaceLab, SpaceRGB} {
			t.Run(fmt.Sprintf("%v/%v", pairing, space), func(t *testing.T) {
				opts := DefaultOptions()
				opts.Radius = 1
				opts.Pairing = pairing
				opts.Space = space
				opts.CheckpointInterval = 0
				opts.CheckpointIterations = 1
				opts.MaxIterations = 64

				sink := &memorySink{}
				s, err := NewWithDispatcher(src, opts, sink, Serial{})
				require.NoError(t, err)
				// The disk covers most of the image: pairs go one at a time.
				assert.Equal(t, 2, s.Options().SubRounds)
				stats, err := s.Run(context.Background())
				require.NoError(t, err)
				assert.Positive(t, stats.Swaps)

				cps := sink.all()
				require.Len(t, cps, 64)
				for _, cp := range cps {
					res := Compare(src, cp.Image, CompareOptions{})
					require.True(t, res.Equal(), "frame %d: %v", cp.Frame, res)
				}
				assert.Contains(t, grouped, cps[len(cps)-1].Image.Pix)
				// Once grouped, nothing moves again.
				assert.Contains(t, grouped, cps[len(cps)-2].Image.Pix)
			})
		}
	}
}

func TestAutoSubRounds(t *testing.T) {
	// 4x1, radius 1: 3 taps over 4 pixels.
	assert.Equal(t, 2, autoSubRounds(4, 3, 4))
	// 6x6, radius 3: 29 taps over 36 pixels.
	assert.Equal(t, 15, autoSubRounds(30, 29, 36))
	// 12x9, radius 3.
	assert.Equal(t, 1, autoSubRounds(92, 29, 108))
	assert.Equal(t, 1, autoSubRounds(0, 1, 1))

	opts := testOptions()
	opts.SubRounds = 3
	s, err := NewWithDispatcher(row(black, white), opts, nil, Serial{})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Options().SubRounds, "an explicit count is kept")
}

func TestSorterCanceledBeforeRun(t *testing.T) {
	sink := &memorySink{}
	s, err := NewWithDispatcher(randomImage(6, 6, 11), testOptions(), sink, Serial{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := s.Run(ctx)
	require.NoError(t, err, "interruption is not an error")
	assert.True(t, stats.Interrupted)
	assert.Zero(t, stats.Iterations)

	cps := sink.all()
	require.Len(t, cps, 1)
	assert.True(t, cps[0].Final)
	assert.Equal(t, 1, cps[0].Frame)
	assert.Equal(t, s.RunID(), cps[0].RunID)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestSorterInterruptTakesFinalCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var cps []*Checkpoint
	sink := SinkFunc(func(ctx context.Context, cp *Checkpoint) error {
		assert.NoError(t, ctx.Err(), "writes outlive cancellation")
		mu.Lock()
		cps = append(cps, cp)
		mu.Unlock()
		cancel()
		return nil
	})

	opts := testOptions()
	opts.CheckpointIterations = 2
	s, err := NewWithDispatcher(randomImage(8, 8, 12), opts, sink, Serial{})
	require.NoError(t, err)
	stats, err := s.Run(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)

	require.GreaterOrEqual(t, len(cps), 2)
	last := cps[len(cps)-1]
	assert.True(t, last.Final)
	assert.Equal(t, stats.Iteration, last.Iteration)
	for i, cp := range cps {
		assert.Equal(t, i+1, cp.Frame)
	}
}

func TestSorterCheckpointFailure(t *testing.T) {
	boom := errors.New("disk full")
	var finals int
	sink := SinkFunc(func(_ context.Context, cp *Checkpoint) error {
		if cp.Final {
			finals++
			return nil
		}
		return boom
	})

	opts := testOptions()
	opts.MaxIterations = 6
	opts.CheckpointIterations = 2
	s, err := NewWithDispatcher(randomImage(6, 6, 13), opts, sink, Serial{})
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(6), stats.Iteration)
	assert.Equal(t, 1, finals, "the final checkpoint is still written")
	assert.Equal(t, 1, stats.Checkpoints, "failed writes are not counted")
}

func TestSorterTimeTrigger(t *testing.T) {
	sink := &memorySink{}
	opts := testOptions()
	opts.CheckpointInterval = time.Nanosecond
	opts.MaxIterations = 5
	s, err := NewWithDispatcher(randomImage(6, 6, 14), opts, sink, Serial{})
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.Interrupted)
	// Units 1-4 trigger; the fifth reaches the budget and finalizes instead.
	assert.Len(t, sink.all(), 5)
}

func TestSorterResumeNumbering(t *testing.T) {
	sink := &memorySink{}
	opts := testOptions()
	opts.StartIteration = 40
	opts.StartFrame = 7
	opts.MaxIterations = 42
	s, err := NewWithDispatcher(randomImage(6, 6, 15), opts, sink, Serial{})
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Iterations)

	cps := sink.all()
	require.Len(t, cps, 1)
	assert.Equal(t, 8, cps[0].Frame)
	assert.Equal(t, uint64(42), cps[0].Iteration)
}

func TestNewRejectsBadInput(t *testing.T) {
	opts := testOptions()

	_, err := NewWithDispatcher(row(black, white, black), opts, nil, Serial{})
	assert.ErrorIs(t, err, ErrOddEligible)

	hidden := color.NRGBA{R: 9}
	_, err = NewWithDispatcher(row(hidden, hidden), opts, nil, Serial{})
	assert.ErrorIs(t, err, ErrNoOpaquePixels)

	bad := opts
	bad.SubRounds = -1
	_, err = NewWithDispatcher(row(black, white), bad, nil, Serial{})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(nil, opts, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestNewClampsRadius(t *testing.T) {
	opts := testOptions()
	opts.Radius = 100
	s, err := New(row(black, white, black, white), opts, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 3, s.Options().Radius)
	assert.NotEmpty(t, s.RunID())
}
