package swapsort

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrOddEligible    = errors.New("swapsort: odd number of opaque pixels")
	ErrNoOpaquePixels = errors.New("swapsort: image has no opaque pixels")
)

// Pairing is a perfect matching over the dense index range [0, 2*Len()).
// It is a pure function of (strategy, iteration, seed, n); Pair may be
// called from any number of goroutines in any order.
type Pairing interface {
	Len() int
	Pair(slot int) (a, b int)
}

// NewPairing returns the matching of the given iteration. n must be even
// and non-zero.
func NewPairing(strategy PairingStrategy, iteration uint64, seed Seed, n int) (Pairing, error) {
	if n == 0 {
		return nil, ErrNoOpaquePixels
	}
	if n < 0 || n%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddEligible, n)
	}
	k := max(bits.Len64(uint64(n-1)), 1)
	switch strategy {
	case PairingFast:
		mask := uint64(1)<<k - 1
		r1 := mix64(mix64(uint64(seed.A)) ^ iteration)
		r2 := mix64(mix64(uint64(seed.B)) + iteration)
		return &lcgPairing{
			n:    uint64(n),
			mask: mask,
			mul:  (r1<<1 | 1) & mask, // odd, so coprime to the power-of-two modulus
			add:  r2 & mask,
		}, nil
	case PairingQuality:
		k += k & 1
		half := uint(k / 2)
		p := &feistelPairing{
			n:        uint64(n),
			half:     half,
			halfMask: uint64(1)<<half - 1,
		}
		key := mix64(uint64(seed.A)<<32 | uint64(seed.B))
		key = mix64(key ^ iteration)
		for i := range p.keys {
			key = mix64(key + uint64(i))
			p.keys[i] = key
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, strategy)
}

// mix64 is the splitmix64 finalizer.
func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// lcgPairing permutes with x -> (mul*x + add) mod 2^k, a bijection for odd
// mul, and cycle-walks values >= n back into range. Cycle-walking a
// permutation yields a permutation of [0, n), so slots never collide.
type lcgPairing struct {
	n, mask  uint64
	mul, add uint64
}

func (p *lcgPairing) Len() int { return int(p.n / 2) }

func (p *lcgPairing) permute(i uint64) uint64 {
	x := i
	for {
		x = (x*p.mul + p.add) & p.mask
		if x < p.n {
			return x
		}
	}
}

func (p *lcgPairing) Pair(slot int) (int, int) {
	s := uint64(slot) * 2
	return int(p.permute(s)), int(p.permute(s + 1))
}

// feistelPairing permutes with a 4-round balanced Feistel network over k
// bits (k even), cycle-walked into [0, n). Every round maps (l, r) to
// (r, l ^ F(r)), which is invertible whatever F is.
type feistelPairing struct {
	n        uint64
	half     uint
	halfMask uint64
	keys     [4]uint64
}

func (p *feistelPairing) Len() int { return int(p.n / 2) }

func (p *feistelPairing) permute(i uint64) uint64 {
	x := i
	for {
		l, r := x>>p.half, x&p.halfMask
		for _, key := range p.keys {
			l, r = r, l^(mix64(r^key)&p.halfMask)
		}
		x = l<<p.half | r
		if x < p.n {
			return x
		}
	}
}

func (p *feistelPairing) Pair(slot int) (int, int) {
	s := uint64(slot) * 2
	return int(p.permute(s)), int(p.permute(s + 1))
}

// opaqueIndex maps dense opaque indices to pixel indices, in raster order.
func opaqueIndex(work *Working) []int32 {
	lut := make([]int32, 0, work.W*work.H)
	for i := range work.W * work.H {
		if work.alpha(i) != 0 {
			lut = append(lut, int32(i))
		}
	}
	return lut
}
