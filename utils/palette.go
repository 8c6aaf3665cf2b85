package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/setanarut/swapsort"
)

var ErrEmptyPalette = errors.New("utils: empty palette")

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	default:
		return "dominantcolor"
	}
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dominantcolor", "dominant":
		return PaletteMethodDominantColor, nil
	case "kmeans":
		return PaletteMethodKMeans, nil
	}
	return 0, fmt.Errorf("unknown palette method %q", s)
}

// Swatch is a palette color and the share of the image it stands for.
type Swatch struct {
	Color  colorful.Color
	Weight float64
}

// ExtractPalette returns up to k representative colors of img, strongest
// first. Sorting only moves pixels, so a sorted image yields the palette
// of its input.
func ExtractPalette(img image.Image, k int, method PaletteMethod) ([]Swatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k = %d", ErrEmptyPalette, k)
	}
	var cands []Swatch
	if method == PaletteMethodKMeans {
		var err error
		cands, err = kmeansCandidates(img, k)
		if err != nil || len(cands) == 0 {
			swapsort.Logger().Warn("kmeans palette failed, falling back to dominantcolor", "err", err)
			cands = dominantCandidates(img, k)
		}
	} else {
		cands = dominantCandidates(img, k)
	}
	if len(cands) == 0 {
		return nil, ErrEmptyPalette
	}
	return selectDiverse(cands, k), nil
}

func dominantCandidates(img image.Image, k int) []Swatch {
	found := dominantcolor.FindWeight(img, max(24, k*8))
	out := make([]Swatch, 0, len(found))
	for _, c := range found {
		col, _ := colorful.MakeColor(c.RGBA)
		out = append(out, Swatch{Color: col.Clamped(), Weight: max(c.Weight, 1e-6)})
	}
	return out
}

// kmeansCandidates clusters a subsample of the opaque pixels in RGB.
func kmeansCandidates(img image.Image, k int) ([]Swatch, error) {
	const maxSamples = 12000
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return nil, nil
	}
	step := 1
	if n > maxSamples {
		step = int(math.Sqrt(float64(n)/maxSamples)) + 1
	}
	var obs clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			obs = append(obs, clusters.Coordinates{
				float64(c.R) / 255,
				float64(c.G) / 255,
				float64(c.B) / 255,
			})
		}
	}
	if len(obs) == 0 {
		return nil, nil
	}
	cc, err := kmeans.New().Partition(obs, min(max(k*4, k+2), len(obs)))
	if err != nil {
		return nil, err
	}
	out := make([]Swatch, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		out = append(out, Swatch{Color: col, Weight: float64(len(c.Observations)) / float64(len(obs))})
	}
	return out, nil
}

// selectDiverse starts from the heaviest candidate and repeatedly adds the
// one farthest (in Lab) from everything chosen so far, favoring heavy
// candidates.
func selectDiverse(cands []Swatch, k int) []Swatch {
	k = min(k, len(cands))
	heaviest := slices.MaxFunc(cands, func(a, b Swatch) int {
		return cmpFloat(a.Weight, b.Weight)
	}).Weight

	picked := make([]bool, len(cands))
	out := make([]Swatch, 0, k)
	first := slices.IndexFunc(cands, func(s Swatch) bool { return s.Weight == heaviest })
	picked[first] = true
	out = append(out, cands[first])

	for len(out) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if picked[i] {
				continue
			}
			nearest := math.MaxFloat64
			for _, s := range out {
				nearest = min(nearest, c.Color.DistanceLab(s.Color))
			}
			score := nearest * (0.55 + 0.45*math.Sqrt(c.Weight/heaviest))
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		picked[best] = true
		out = append(out, cands[best])
	}
	return out
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortByLightness orders swatches from darkest to brightest (Lab L).
func SortByLightness(p []Swatch) {
	slices.SortStableFunc(p, func(a, b Swatch) int {
		la, _, _ := a.Color.Lab()
		lb, _, _ := b.Color.Lab()
		return cmpFloat(la, lb)
	})
}

// PaletteDistance is the mean Lab distance from every swatch of a to its
// nearest swatch in b.
func PaletteDistance(a, b []Swatch) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}
	total := 0.0
	for _, s := range a {
		nearest := math.MaxFloat64
		for _, t := range b {
			nearest = min(nearest, s.Color.DistanceLab(t.Color))
		}
		total += nearest
	}
	return total / float64(len(a))
}

// PaletteImage renders one tileSize square per swatch, left to right.
func PaletteImage(p []Swatch, tileSize int) (*image.NRGBA, error) {
	if len(p) == 0 {
		return nil, ErrEmptyPalette
	}
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewNRGBA(image.Rect(0, 0, tileSize*len(p), tileSize))
	for i, s := range p {
		r, g, b := s.Color.Clamped().RGB255()
		c := color.NRGBA{R: r, G: g, B: b, A: 255}
		for y := range tileSize {
			for x := i * tileSize; x < (i+1)*tileSize; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	return img, nil
}
