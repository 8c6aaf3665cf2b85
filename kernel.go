package swapsort

import (
	"gonum.org/v1/gonum/mat"
)

// tap is one non-zero kernel entry.
type tap struct {
	dx, dy int
	w      float64
}

// Kernel is the immutable radial weight matrix of a run.
type Kernel struct {
	radius int
	m      *mat.Dense
	taps   []tap // Row-major over the disk, center included
	center float64
}

// NewKernel builds the (2r+1)×(2r+1) kernel with weight 1/(dx²+dy²+1)
// inside the disk of radius r and 0 outside.
func NewKernel(radius int) *Kernel {
	radius = max(radius, 0)
	d := radius*2 + 1
	m := mat.NewDense(d, d, nil)
	r2 := radius * radius
	taps := make([]tap, 0, d*d)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			dist2 := dx*dx + dy*dy
			if dist2 > r2 {
				continue
			}
			w := 1 / float64(dist2+1)
			m.Set(radius+dy, radius+dx, w)
			taps = append(taps, tap{dx: dx, dy: dy, w: w})
		}
	}
	return &Kernel{radius: radius, m: m, taps: taps, center: 1}
}

func (k *Kernel) Radius() int { return k.radius }

// Weight returns the kernel weight at offset (dx, dy); 0 outside the matrix.
func (k *Kernel) Weight(dx, dy int) float64 {
	if dx < -k.radius || dx > k.radius || dy < -k.radius || dy > k.radius {
		return 0
	}
	return k.m.At(k.radius+dy, k.radius+dx)
}

// Matrix returns a copy of the weights; the kernel itself never changes.
func (k *Kernel) Matrix() *mat.Dense { return mat.DenseCopyOf(k.m) }

// Taps returns the number of non-zero weights.
func (k *Kernel) Taps() int { return len(k.taps) }

// ClampRadius limits r to max(w,h)-1, the largest radius that can reach
// another pixel. The second result reports whether r was changed.
func ClampRadius(r, w, h int) (int, bool) {
	limit := max(max(w, h)-1, 0)
	if r > limit {
		return limit, true
	}
	return r, false
}
