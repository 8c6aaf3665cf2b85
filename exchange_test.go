package swapsort

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	black = color.NRGBA{A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

func row(colors ...color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, len(colors), 1))
	for x, c := range colors {
		img.SetNRGBA(x, 0, c)
	}
	return img
}

func newExchanger(t *testing.T, img *image.NRGBA, radius int) *exchanger {
	t.Helper()
	c, err := NewCodec(SpaceLab, DefaultPrecision)
	require.NoError(t, err)
	work := c.Encode(img)
	return &exchanger{work: work, field: BuildField(work, NewKernel(radius), c, Serial{}), codec: c}
}

func TestCompareExchangeSwapsTowardNeighbors(t *testing.T) {
	// B W B W: the middle pair each sits among the other color.
	e := newExchanger(t, row(black, white, black, white), 1)
	keep, swap := e.costs(1, 2)
	assert.Greater(t, keep, swap)
	require.True(t, e.compareExchange(1, 2))
	assert.Equal(t, row(black, black, white, white).Pix, e.codec.Decode(e.work).Pix)
}

func TestCompareExchangeTieKeeps(t *testing.T) {
	// B B W W: swapping the middle pair scores exactly the same.
	e := newExchanger(t, row(black, black, white, white), 1)
	keep, swap := e.costs(1, 2)
	require.Equal(t, keep, swap)
	assert.False(t, e.compareExchange(1, 2))
	assert.Equal(t, row(black, black, white, white).Pix, e.codec.Decode(e.work).Pix)
}

func TestCompareExchangeZeroRadius(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	e := newExchanger(t, row(red, white, black, red), 0)
	for _, p := range [][2]int{{0, 1}, {2, 3}, {1, 2}} {
		keep, swap := e.costs(p[0], p[1])
		assert.Zero(t, keep)
		assert.Zero(t, swap)
		assert.False(t, e.compareExchange(p[0], p[1]))
	}
}

func TestCompareExchangeMovesAlpha(t *testing.T) {
	half := color.NRGBA{R: 255, G: 255, B: 255, A: 100}
	e := newExchanger(t, row(black, half, black, white), 1)
	require.True(t, e.compareExchange(1, 2))
	assert.Equal(t, row(black, black, half, white).Pix, e.codec.Decode(e.work).Pix)
}
