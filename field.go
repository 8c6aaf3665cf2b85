package swapsort

// Field is the influence field: for every pixel the kernel-weighted sum of
// the colors around it (zero padded, alpha excluded) and the total weight of
// the opaque positions that took part in that sum.
//
// The field never aliases the working buffer; it only reads it.
type Field struct {
	W, H   int
	Sum    []float64 // Interleaved 3 channels, len = W*H*3
	Weight []float64 // len = W*H

	kernel *Kernel
	codec  *Codec

	stamp []uint32 // Refresh marks, compared against gen
	gen   uint32
}

// BuildField convolves the whole working buffer with k.
func BuildField(work *Working, k *Kernel, c *Codec, d Dispatcher) *Field {
	f := &Field{
		W:      work.W,
		H:      work.H,
		Sum:    make([]float64, work.W*work.H*3),
		Weight: make([]float64, work.W*work.H),
		kernel: k,
		codec:  c,
		stamp:  make([]uint32, work.W*work.H),
	}
	f.rebuild(work, d)
	return f
}

func (f *Field) rebuild(work *Working, d Dispatcher) {
	parallelFor(d, f.H, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range f.W {
				f.gather(work, x, y)
			}
		}
	})
}

// gather recomputes the entry at (x, y) from scratch. Taps are visited in
// a fixed order, so a refreshed entry is bit-identical to a rebuilt one.
func (f *Field) gather(work *Working, x, y int) {
	w, h := f.W, f.H
	values := f.codec.values
	var s0, s1, s2, wt float64
	for _, t := range f.kernel.taps {
		nx, ny := x+t.dx, y+t.dy
		if nx < 0 || ny < 0 || nx >= w || ny >= h {
			continue
		}
		off := pixOffset(w, nx, ny)
		if work.Pix[off+3] == 0 {
			continue
		}
		s0 += t.w * values[work.Pix[off]]
		s1 += t.w * values[work.Pix[off+1]]
		s2 += t.w * values[work.Pix[off+2]]
		wt += t.w
	}
	i := y*w + x
	f.Sum[i*3] = s0
	f.Sum[i*3+1] = s1
	f.Sum[i*3+2] = s2
	f.Weight[i] = wt
}

// refreshAround recomputes every entry within the kernel radius of a
// swapped pixel. Rows are split into bands, one per worker; a worker only
// marks and writes entries inside its own band.
func (f *Field) refreshAround(work *Working, swapped []int32, d Dispatcher) {
	f.gen++
	if f.gen == 0 {
		clear(f.stamp)
		f.gen = 1
	}
	gen := f.gen
	r := f.kernel.radius
	w, h := f.W, f.H
	parallelFor(d, h, func(y0, y1 int) {
		for _, p := range swapped {
			px, py := int(p)%w, int(p)/w
			if py+r < y0 || py-r >= y1 {
				continue
			}
			for _, t := range f.kernel.taps {
				nx, ny := px+t.dx, py+t.dy
				if ny < y0 || ny >= y1 || nx < 0 || nx >= w {
					continue
				}
				q := ny*w + nx
				if f.stamp[q] == gen {
					continue
				}
				f.stamp[q] = gen
				f.gather(work, nx, ny)
			}
		}
	})
}

// refreshOwn recomputes only the swapped pixels' own entries.
func (f *Field) refreshOwn(work *Working, swapped []int32, d Dispatcher) {
	w := f.W
	parallelFor(d, len(swapped), func(start, end int) {
		for _, p := range swapped[start:end] {
			f.gather(work, int(p)%w, int(p)/w)
		}
	})
}

// context is the comparison target of pixel i holding color c: the
// weighted mean of its neighbors, excluding the pixel itself. ok is false
// when no neighbor carries weight.
func (f *Field) context(i int, c [3]float64) (m [3]float64, ok bool) {
	w0 := f.kernel.center
	rest := f.Weight[i] - w0
	if rest <= 0 {
		return m, false
	}
	inv := 1 / rest
	m[0] = (f.Sum[i*3] - w0*c[0]) * inv
	m[1] = (f.Sum[i*3+1] - w0*c[1]) * inv
	m[2] = (f.Sum[i*3+2] - w0*c[2]) * inv
	return m, true
}
