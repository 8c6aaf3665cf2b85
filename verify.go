package swapsort

import (
	"fmt"
	"image"
	"image/color"
)

// Verdict is the outcome of comparing two images' color multisets.
type Verdict int

const (
	Equal Verdict = iota
	// ColorsMismatched: the sets of distinct colors differ.
	ColorsMismatched
	// CountsMismatched: same distinct colors, different occurrence counts.
	CountsMismatched
)

func (v Verdict) String() string {
	switch v {
	case Equal:
		return "equal"
	case ColorsMismatched:
		return "colors_mismatched"
	case CountsMismatched:
		return "counts_mismatched"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

type CompareOptions struct {
	// Collapse every zero-alpha pixel into a single key regardless of its
	// RGB. Off by default: the codec restores transparent RGB exactly, so a
	// difference there is a real defect.
	IgnoreTransparentRGB bool
}

// Result reports the verdict and, on mismatch, one offending color.
type Result struct {
	Verdict Verdict
	Color   color.NRGBA // First differing color in a, or in b when a has none
	CountA  int         // Occurrences of Color in a
	CountB  int         // Occurrences of Color in b
}

func (r Result) Equal() bool { return r.Verdict == Equal }

func (r Result) String() string {
	if r.Verdict == Equal {
		return r.Verdict.String()
	}
	return fmt.Sprintf("%v: %v occurs %d times vs %d", r.Verdict, r.Color, r.CountA, r.CountB)
}

// CountColors returns the occurrence count of every distinct color of img.
func CountColors(img image.Image, opts CompareOptions) map[color.NRGBA]int {
	counts := make(map[color.NRGBA]int)
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := n.PixOffset(b.Min.X, y)
			row := n.Pix[off : off+b.Dx()*4]
			for i := 0; i < len(row); i += 4 {
				counts[colorKey(color.NRGBA{R: row[i], G: row[i+1], B: row[i+2], A: row[i+3]}, opts)]++
			}
		}
		return counts
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			counts[colorKey(c, opts)]++
		}
	}
	return counts
}

func colorKey(c color.NRGBA, opts CompareOptions) color.NRGBA {
	if opts.IgnoreTransparentRGB && c.A == 0 {
		return color.NRGBA{}
	}
	return c
}

// Compare reports whether a and b hold the same multiset of colors.
func Compare(a, b image.Image, opts CompareOptions) Result {
	ca := CountColors(a, opts)
	cb := CountColors(b, opts)

	for c, n := range ca {
		if _, ok := cb[c]; !ok {
			return Result{Verdict: ColorsMismatched, Color: c, CountA: n}
		}
	}
	for c, n := range cb {
		if _, ok := ca[c]; !ok {
			return Result{Verdict: ColorsMismatched, Color: c, CountB: n}
		}
	}
	for c, n := range ca {
		if cb[c] != n {
			return Result{Verdict: CountsMismatched, Color: c, CountA: n, CountB: cb[c]}
		}
	}
	return Result{Verdict: Equal}
}
