package swapsort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKernelWeights(t *testing.T) {
	k := NewKernel(2)
	assert.Equal(t, 2, k.Radius())
	assert.Equal(t, 13, k.Taps())

	rows, cols := k.Matrix().Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, 5, cols)

	tests := []struct {
		dx, dy int
		want   float64
	}{
		{0, 0, 1},
		{1, 0, 0.5},
		{0, -1, 0.5},
		{1, 1, 1.0 / 3},
		{-2, 0, 0.2},
		{2, 1, 0}, // Outside the disk
		{2, 2, 0},
		{3, 0, 0}, // Outside the matrix
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, k.Weight(tt.dx, tt.dy), "(%d,%d)", tt.dx, tt.dy)
	}
}

func TestKernelZeroRadius(t *testing.T) {
	k := NewKernel(0)
	assert.Equal(t, 1, k.Taps())
	assert.Equal(t, 1.0, k.Weight(0, 0))
	assert.Zero(t, k.Weight(1, 0))
}

func TestClampRadius(t *testing.T) {
	tests := []struct {
		r, w, h int
		want    int
		clamped bool
	}{
		{100, 4, 1, 3, true},
		{2, 4, 4, 2, false},
		{3, 4, 2, 3, false},
		{5, 1, 1, 0, true},
		{0, 10, 10, 0, false},
	}
	for _, tt := range tests {
		got, clamped := ClampRadius(tt.r, tt.w, tt.h)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.clamped, clamped)
	}
}

func TestKernelMatrixIsACopy(t *testing.T) {
	k := NewKernel(1)
	m := k.Matrix()
	m.Set(1, 1, 42)
	m.Set(0, 1, 42)
	assert.Equal(t, 1.0, k.Weight(0, 0))
	assert.Equal(t, 0.5, k.Weight(0, -1))
	assert.Equal(t, 1.0, k.Matrix().At(1, 1))
}
