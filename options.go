package swapsort

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

var (
	ErrInvalidOptions  = errors.New("swapsort: invalid options")
	ErrUnknownStrategy = errors.New("swapsort: unknown pairing strategy")
)

// PairingStrategy selects how each iteration's perfect matching is generated.
type PairingStrategy int

const (
	// PairingFast is a power-of-two linear congruential bijection.
	PairingFast PairingStrategy = iota
	// PairingQuality is a 4-round Feistel bijection, slower but with better
	// independence between consecutive iterations.
	PairingQuality
)

func (s PairingStrategy) String() string {
	switch s {
	case PairingFast:
		return "fast"
	case PairingQuality:
		return "high-quality"
	default:
		return fmt.Sprintf("PairingStrategy(%d)", int(s))
	}
}

func ParsePairingStrategy(s string) (PairingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast", "lcg":
		return PairingFast, nil
	case "high-quality", "quality", "feistel":
		return PairingQuality, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (s PairingStrategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PairingStrategy) UnmarshalText(b []byte) error {
	v, err := ParsePairingStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ColorSpace selects the working space colors are compared in.
type ColorSpace int

const (
	// SpaceLab compares in CIE L*a*b* (D65), close to how the eye sees color.
	SpaceLab ColorSpace = iota
	// SpaceRGB compares raw 8-bit RGB channels.
	SpaceRGB
)

func (c ColorSpace) String() string {
	switch c {
	case SpaceLab:
		return "perceptual"
	case SpaceRGB:
		return "raw"
	default:
		return fmt.Sprintf("ColorSpace(%d)", int(c))
	}
}

func ParseColorSpace(s string) (ColorSpace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "perceptual", "lab":
		return SpaceLab, nil
	case "raw", "rgb":
		return SpaceRGB, nil
	}
	return 0, fmt.Errorf("%w: unknown color space %q", ErrInvalidOptions, s)
}

func (c ColorSpace) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ColorSpace) UnmarshalText(b []byte) error {
	v, err := ParseColorSpace(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// OutputMode decides where checkpoints are published.
type OutputMode int

const (
	// OutputOverwrite replaces a single output file on every checkpoint.
	OutputOverwrite OutputMode = iota
	// OutputSequence writes every checkpoint to its own numbered file.
	OutputSequence
)

func (m OutputMode) String() string {
	switch m {
	case OutputOverwrite:
		return "overwrite"
	case OutputSequence:
		return "sequence"
	default:
		return fmt.Sprintf("OutputMode(%d)", int(m))
	}
}

func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite":
		return OutputOverwrite, nil
	case "sequence":
		return OutputSequence, nil
	}
	return 0, fmt.Errorf("%w: unknown output mode %q", ErrInvalidOptions, s)
}

func (m OutputMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *OutputMode) UnmarshalText(b []byte) error {
	v, err := ParseOutputMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Fidelity controls how the influence field follows swaps.
type Fidelity int

const (
	// FidelityExact recomputes every field entry within the radius of a
	// swapped pixel after each sub-round.
	FidelityExact Fidelity = iota
	// FidelityApproximate only recomputes the two swapped pixels' own
	// entries. Neighbors drift until the next full rebuild.
	FidelityApproximate
)

func (f Fidelity) String() string {
	switch f {
	case FidelityExact:
		return "exact"
	case FidelityApproximate:
		return "approximate"
	default:
		return fmt.Sprintf("Fidelity(%d)", int(f))
	}
}

func ParseFidelity(s string) (Fidelity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact":
		return FidelityExact, nil
	case "approximate", "approx":
		return FidelityApproximate, nil
	}
	return 0, fmt.Errorf("%w: unknown fidelity %q", ErrInvalidOptions, s)
}

func (f Fidelity) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Fidelity) UnmarshalText(b []byte) error {
	v, err := ParseFidelity(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Seed is the pair of independent integers every pairing is derived from.
type Seed struct {
	A uint32 `yaml:"a"`
	B uint32 `yaml:"b"`
}

// DefaultSeed matches the constants the first sorter runs used.
var DefaultSeed = Seed{A: 42424242, B: 69696969}

type Options struct {
	// Neighborhood radius of the influence kernel.
	// Clamped to max(width,height)-1. Cost grows with radius².
	// 0 disables neighbor influence entirely (nothing ever swaps).
	Radius int `yaml:"radius"`
	// Iterations run between two controller checks (cancellation, checkpoint
	// triggers). Higher values cut controller overhead; every folded
	// iteration still runs behind its own barrier.
	IterationsPerDispatch int `yaml:"iterations_per_dispatch"`
	// Lockstep sub-rounds per iteration. 1 evaluates all pairs against the
	// same field snapshot (fastest). Higher values refresh the field between
	// chunks of pairs, which helps tiny images where most pairs interact.
	// 0 picks per image: one sub-round per pair when the kernel disk covers
	// half the image or more, 1 otherwise.
	SubRounds int `yaml:"sub_rounds"`
	// Wall-clock interval between checkpoints. 0 disables the time trigger.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	// Iteration interval between checkpoints, rounded up to whole dispatch
	// units. 0 disables the iteration trigger.
	CheckpointIterations int `yaml:"checkpoint_iterations"`
	// Stop after this many iterations. 0 runs until interrupted.
	MaxIterations int `yaml:"max_iterations"`
	// Iteration the pairing sequence starts at; set when resuming.
	StartIteration uint64 `yaml:"start_iteration"`
	// Number of checkpoints already published; set when resuming so
	// sequence output continues after the last frame.
	StartFrame int `yaml:"start_frame"`
	// Identifier carried into checkpoints and logs. Generated when empty.
	RunID string `yaml:"run_id,omitempty"`

	Pairing  PairingStrategy `yaml:"pairing"`
	Space    ColorSpace      `yaml:"color_space"`
	Output   OutputMode      `yaml:"output"`
	Fidelity Fidelity        `yaml:"fidelity"`
	// Full influence rebuild every N iterations; 0 never. Mostly useful
	// with FidelityApproximate to bound drift.
	RebuildEvery int `yaml:"rebuild_every"`

	Seed Seed `yaml:"seed"`
	// Fixed-point multiplier of the Lab codec. Must round trip losslessly;
	// see Calibrate.
	Precision int `yaml:"precision"`
	// Worker count of the default pool. <= 0 uses GOMAXPROCS.
	Workers int `yaml:"workers"`
}

func DefaultOptions() Options {
	return Options{
		Radius:                100,
		IterationsPerDispatch: 1,
		CheckpointInterval:    10 * time.Second,
		Pairing:               PairingFast,
		Space:                 SpaceLab,
		Output:                OutputOverwrite,
		Fidelity:              FidelityExact,
		Seed:                  DefaultSeed,
		Precision:             DefaultPrecision,
	}
}

// OptionsFromSize picks a radius that keeps a single iteration affordable.
func OptionsFromSize(size image.Point) Options {
	opt := DefaultOptions()
	if size.X <= 0 || size.Y <= 0 {
		return opt
	}
	pixels := size.X * size.Y
	switch {
	case pixels <= 64*64:
		opt.Radius = 8
	case pixels <= 512*512:
		opt.Radius = 16
	case pixels <= 1920*1080:
		opt.Radius = 24
	default:
		opt.Radius = 32
	}
	return opt
}

func (o Options) Validate() error {
	if o.Radius < 0 {
		return fmt.Errorf("%w: radius %d < 0", ErrInvalidOptions, o.Radius)
	}
	if o.IterationsPerDispatch < 1 {
		return fmt.Errorf("%w: iterations per dispatch %d < 1", ErrInvalidOptions, o.IterationsPerDispatch)
	}
	if o.SubRounds < 0 {
		return fmt.Errorf("%w: sub-rounds %d < 0", ErrInvalidOptions, o.SubRounds)
	}
	if o.CheckpointInterval < 0 || o.CheckpointIterations < 0 {
		return fmt.Errorf("%w: negative checkpoint interval", ErrInvalidOptions)
	}
	if o.MaxIterations < 0 || o.RebuildEvery < 0 || o.StartFrame < 0 {
		return fmt.Errorf("%w: negative iteration count", ErrInvalidOptions)
	}
	switch o.Pairing {
	case PairingFast, PairingQuality:
	default:
		return fmt.Errorf("%w: %v", ErrUnknownStrategy, o.Pairing)
	}
	switch o.Space {
	case SpaceLab, SpaceRGB:
	default:
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.Space)
	}
	switch o.Output {
	case OutputOverwrite, OutputSequence:
	default:
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.Output)
	}
	switch o.Fidelity {
	case FidelityExact, FidelityApproximate:
	default:
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.Fidelity)
	}
	if o.Space == SpaceLab && (o.Precision < 1 || o.Precision > MaxPrecision) {
		return fmt.Errorf("%w: precision %d outside [1,%d]", ErrInvalidOptions, o.Precision, MaxPrecision)
	}
	return nil
}
