package swapsort

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/sync/errgroup"
)

const (
	// Lab L is in [0,100], a and b roughly in [-128,127]; the bias moves all
	// three channels into non-negative range before quantization.
	chromaBias = 128
	// go-colorful reports Lab scaled down by 100.
	labScale = 100
	// DefaultPrecision is the smallest multiplier that round trips the full
	// 8-bit RGB domain through the Lab fixed-point path (see VerifyDomain).
	DefaultPrecision = 83
	// MaxPrecision keeps (255 * precision) inside a uint16.
	MaxPrecision = 255
)

var ErrLossyCodec = errors.New("swapsort: codec round trip is lossy")

// RoundTripError reports the first color that did not survive encode/decode.
type RoundTripError struct {
	Precision int
	Want      color.NRGBA
	Got       color.NRGBA
}

func (e *RoundTripError) Error() string {
	return fmt.Sprintf("swapsort: precision %d decodes %v as %v", e.Precision, e.Want, e.Got)
}

func (e *RoundTripError) Unwrap() error { return ErrLossyCodec }

// Working is the working-space pixel buffer.
// Opaque pixels hold fixed-point color values, transparent ones the sentinel.
type Working struct {
	W, H int
	Pix  []uint16 // Interleaved c0,c1,c2,alpha, len = W*H*4

	orig []uint8 // Input bytes, consulted for zero-alpha pixels on decode
}

func pixOffset(w, x, y int) int {
	return (y*w + x) * 4
}

// Clone returns an independent copy.
func (w *Working) Clone() *Working {
	return &Working{
		W:    w.W,
		H:    w.H,
		Pix:  append([]uint16(nil), w.Pix...),
		orig: w.orig,
	}
}

func (w *Working) alpha(i int) uint16 {
	return w.Pix[i*4+3]
}

// swap exchanges all four channels of pixels i and j.
func (w *Working) swap(i, j int) {
	a := w.Pix[i*4 : i*4+4 : i*4+4]
	b := w.Pix[j*4 : j*4+4 : j*4+4]
	a[0], b[0] = b[0], a[0]
	a[1], b[1] = b[1], a[1]
	a[2], b[2] = b[2], a[2]
	a[3], b[3] = b[3], a[3]
}

// Codec converts 8-bit NRGBA pixels to the working space and back.
type Codec struct {
	space     ColorSpace
	precision int
	sentinel  uint16
	values    []float64 // Dequantized channel value for every fixed-point q
}

func NewCodec(space ColorSpace, precision int) (*Codec, error) {
	c := &Codec{space: space, precision: precision}
	switch space {
	case SpaceLab:
		if precision < 1 || precision > MaxPrecision {
			return nil, fmt.Errorf("%w: precision %d outside [1,%d]", ErrInvalidOptions, precision, MaxPrecision)
		}
		c.sentinel = uint16(chromaBias * precision)
		c.values = make([]float64, math.MaxUint16+1)
		p := float64(precision)
		for q := range c.values {
			c.values[q] = float64(q)/p - chromaBias
		}
	case SpaceRGB:
		c.precision = 1
		c.values = make([]float64, 256)
		for q := range c.values {
			c.values[q] = float64(q)
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, space)
	}
	return c, nil
}

func (c *Codec) Space() ColorSpace { return c.space }
func (c *Codec) Precision() int    { return c.precision }

// Value returns the working-space channel value of a fixed-point entry.
func (c *Codec) Value(q uint16) float64 {
	return c.values[q]
}

func (c *Codec) quantize(r, g, b uint8) (q0, q1, q2 uint16) {
	if c.space == SpaceRGB {
		return uint16(r), uint16(g), uint16(b)
	}
	col := colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}
	l, a, bb := col.Lab()
	p := float64(c.precision)
	return fixed(l*labScale, p), fixed(a*labScale, p), fixed(bb*labScale, p)
}

func fixed(v, p float64) uint16 {
	q := math.Round((v + chromaBias) * p)
	return uint16(max(0, min(math.MaxUint16, q)))
}

func (c *Codec) dequantize(q0, q1, q2 uint16) (r, g, b uint8) {
	if c.space == SpaceRGB {
		return uint8(q0), uint8(q1), uint8(q2)
	}
	return colorful.Lab(
		c.values[q0]/labScale,
		c.values[q1]/labScale,
		c.values[q2]/labScale,
	).Clamped().RGB255()
}

// Encode converts src into a new working buffer. src is copied; the caller
// keeps ownership.
func (c *Codec) Encode(src *image.NRGBA) *Working {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	work := &Working{
		W:    w,
		H:    h,
		Pix:  make([]uint16, w*h*4),
		orig: make([]uint8, w*h*4),
	}
	for y := range h {
		row := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(work.orig[pixOffset(w, 0, y):pixOffset(w, 0, y+1)], src.Pix[row:row+w*4])
	}
	c.encodeRows(work, 0, h)
	return work
}

func (c *Codec) encodeRows(work *Working, y0, y1 int) {
	w := work.W
	for y := y0; y < y1; y++ {
		for x := range w {
			off := pixOffset(w, x, y)
			px := work.orig[off : off+4 : off+4]
			if px[3] == 0 {
				work.Pix[off] = c.sentinel
				work.Pix[off+1] = c.sentinel
				work.Pix[off+2] = c.sentinel
				work.Pix[off+3] = 0
				continue
			}
			work.Pix[off], work.Pix[off+1], work.Pix[off+2] = c.quantize(px[0], px[1], px[2])
			work.Pix[off+3] = uint16(px[3])
		}
	}
}

// Decode converts a working buffer back to 8-bit NRGBA.
func (c *Codec) Decode(work *Working) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, work.W, work.H))
	c.decodeRows(dst, work, 0, work.H)
	return dst
}

func (c *Codec) decodeRows(dst *image.NRGBA, work *Working, y0, y1 int) {
	w := work.W
	for y := y0; y < y1; y++ {
		for x := range w {
			off := pixOffset(w, x, y)
			out := dst.Pix[off : off+4 : off+4]
			a := work.Pix[off+3]
			if a == 0 {
				// Transparent pixels never move, so the retained input at
				// the same position is the original color.
				copy(out, work.orig[off:off+4])
				continue
			}
			out[0], out[1], out[2] = c.dequantize(work.Pix[off], work.Pix[off+1], work.Pix[off+2])
			out[3] = uint8(a)
		}
	}
}

func (c *Codec) roundTrip(r, g, b uint8) error {
	q0, q1, q2 := c.quantize(r, g, b)
	rr, gg, bb := c.dequantize(q0, q1, q2)
	if rr != r || gg != g || bb != b {
		return &RoundTripError{
			Precision: c.precision,
			Want:      color.NRGBA{R: r, G: g, B: b, A: 255},
			Got:       color.NRGBA{R: rr, G: gg, B: bb, A: 255},
		}
	}
	return nil
}

// CheckRoundTrip verifies every distinct opaque color of src.
func (c *Codec) CheckRoundTrip(src *image.NRGBA) error {
	if c.space == SpaceRGB {
		return nil
	}
	b := src.Bounds()
	seen := make(map[uint32]struct{})
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			off := src.PixOffset(x, y)
			px := src.Pix[off : off+4 : off+4]
			if px[3] == 0 {
				continue
			}
			key := uint32(px[0])<<16 | uint32(px[1])<<8 | uint32(px[2])
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if err := c.roundTrip(px[0], px[1], px[2]); err != nil {
				return err
			}
		}
	}
	return nil
}

func domainValues(step int) []int {
	step = max(step, 1)
	vals := make([]int, 0, 256/step+1)
	for v := 0; v < 256; v += step {
		vals = append(vals, v)
	}
	if vals[len(vals)-1] != 255 {
		vals = append(vals, 255)
	}
	return vals
}

// VerifyDomain round trips the RGB cube sampled every step values per
// channel (always including 255). step 1 is the exhaustive 256³ check.
func (c *Codec) VerifyDomain(ctx context.Context, step int) error {
	if c.space == SpaceRGB {
		return nil
	}
	vals := domainValues(step)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, r := range vals {
		g.Go(func() error {
			for _, gv := range vals {
				if err := gctx.Err(); err != nil {
					return err
				}
				for _, bv := range vals {
					if err := c.roundTrip(uint8(r), uint8(gv), uint8(bv)); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Calibrate returns the smallest precision in [lo, hi] whose Lab codec
// round trips the whole 8-bit RGB domain.
func Calibrate(ctx context.Context, lo, hi int) (int, error) {
	lo = max(lo, 1)
	hi = min(hi, MaxPrecision)
	for p := lo; p <= hi; p++ {
		c, err := NewCodec(SpaceLab, p)
		if err != nil {
			return 0, err
		}
		err = c.VerifyDomain(ctx, 1)
		if err == nil {
			Logger().Info("calibrated codec precision", "precision", p)
			return p, nil
		}
		if !errors.Is(err, ErrLossyCodec) {
			return 0, err
		}
		Logger().Debug("precision is lossy", "precision", p, "err", err)
	}
	return 0, fmt.Errorf("%w: no precision in [%d,%d]", ErrLossyCodec, lo, hi)
}
