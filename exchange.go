package swapsort

// exchanger holds what a lane needs to evaluate one pair. During a dispatch
// the field is read-only and a lane only writes the two pixels of its own
// pair, which no other lane of the same dispatch touches.
type exchanger struct {
	work  *Working
	field *Field
	codec *Codec
}

func (e *exchanger) color(i int) [3]float64 {
	v := e.codec.values
	off := i * 4
	return [3]float64{v[e.work.Pix[off]], v[e.work.Pix[off+1]], v[e.work.Pix[off+2]]}
}

func dist2(a, b [3]float64) float64 {
	d0 := a[0] - b[0]
	d1 := a[1] - b[1]
	d2 := a[2] - b[2]
	return d0*d0 + d1*d1 + d2*d2
}

// costs returns the total distance of pixels p and q to their contexts,
// unswapped and swapped.
func (e *exchanger) costs(p, q int) (keep, swap float64) {
	cp, cq := e.color(p), e.color(q)
	if mp, ok := e.field.context(p, cp); ok {
		keep += dist2(cp, mp)
		swap += dist2(cq, mp)
	}
	if mq, ok := e.field.context(q, cq); ok {
		keep += dist2(cq, mq)
		swap += dist2(cp, mq)
	}
	return keep, swap
}

// compareExchange swaps pixels p and q when that strictly lowers their
// total distance. Ties keep the current arrangement.
func (e *exchanger) compareExchange(p, q int) bool {
	keep, swap := e.costs(p, q)
	if swap < keep {
		e.work.swap(p, q)
		return true
	}
	return false
}
