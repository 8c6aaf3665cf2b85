package swapsort

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkMatching fails unless p covers [0, n) exactly once.
func checkMatching(t *testing.T, p Pairing, n int) {
	t.Helper()
	require.Equal(t, n/2, p.Len())
	seen := make([]bool, n)
	for s := range p.Len() {
		a, b := p.Pair(s)
		require.NotEqual(t, a, b, "slot %d pairs an index with itself", s)
		for _, i := range []int{a, b} {
			require.True(t, i >= 0 && i < n, "slot %d: index %d out of range", s, i)
			require.False(t, seen[i], "slot %d: index %d collides", s, i)
			seen[i] = true
		}
	}
}

func TestPairingCompleteness(t *testing.T) {
	sizes := []int{2, 4, 6, 10, 64, 100, 1000, 4096, 5002}
	seeds := []Seed{DefaultSeed, {A: 0, B: 0}, {A: 1, B: 0xffffffff}}
	iterations := 200
	if testing.Short() {
		iterations = 20
	}
	for _, strategy := range []PairingStrategy{PairingFast, PairingQuality} {
		for _, n := range sizes {
			t.Run(fmt.Sprintf("%v/%d", strategy, n), func(t *testing.T) {
				for _, seed := range seeds {
					for it := range iterations {
						p, err := NewPairing(strategy, uint64(it), seed, n)
						require.NoError(t, err)
						checkMatching(t, p, n)
					}
				}
			})
		}
	}
}

func TestPairingLargeIterations(t *testing.T) {
	for _, strategy := range []PairingStrategy{PairingFast, PairingQuality} {
		for _, it := range []uint64{1 << 32, 1<<63 + 12345, ^uint64(0)} {
			p, err := NewPairing(strategy, it, DefaultSeed, 998)
			require.NoError(t, err)
			checkMatching(t, p, 998)
		}
	}
}

func pairsOf(p Pairing) [][2]int {
	out := make([][2]int, p.Len())
	for s := range out {
		a, b := p.Pair(s)
		out[s] = [2]int{a, b}
	}
	return out
}

func TestPairingDeterministic(t *testing.T) {
	for _, strategy := range []PairingStrategy{PairingFast, PairingQuality} {
		p1, err := NewPairing(strategy, 17, DefaultSeed, 1000)
		require.NoError(t, err)
		p2, err := NewPairing(strategy, 17, DefaultSeed, 1000)
		require.NoError(t, err)
		assert.Equal(t, pairsOf(p1), pairsOf(p2))

		next, err := NewPairing(strategy, 18, DefaultSeed, 1000)
		require.NoError(t, err)
		assert.NotEqual(t, pairsOf(p1), pairsOf(next))

		other, err := NewPairing(strategy, 17, Seed{A: 1, B: 2}, 1000)
		require.NoError(t, err)
		assert.NotEqual(t, pairsOf(p1), pairsOf(other))
	}
}

// Lanes evaluate slots in any order, so Pair must not depend on call order.
func TestPairingOrderIndependent(t *testing.T) {
	p, err := NewPairing(PairingQuality, 3, DefaultSeed, 300)
	require.NoError(t, err)
	forward := pairsOf(p)
	for s := p.Len() - 1; s >= 0; s-- {
		a, b := p.Pair(s)
		assert.Equal(t, forward[s], [2]int{a, b})
	}
}

func TestPairingRejectsOddAndEmpty(t *testing.T) {
	for _, strategy := range []PairingStrategy{PairingFast, PairingQuality} {
		_, err := NewPairing(strategy, 0, DefaultSeed, 3)
		assert.ErrorIs(t, err, ErrOddEligible)
		_, err = NewPairing(strategy, 0, DefaultSeed, 0)
		assert.ErrorIs(t, err, ErrNoOpaquePixels)
	}
	_, err := NewPairing(PairingStrategy(9), 0, DefaultSeed, 4)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParsePairingStrategy(t *testing.T) {
	for in, want := range map[string]PairingStrategy{
		"fast":         PairingFast,
		"LCG":          PairingFast,
		"high-quality": PairingQuality,
		" feistel ":    PairingQuality,
	} {
		got, err := ParsePairingStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePairingStrategy("philox")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
