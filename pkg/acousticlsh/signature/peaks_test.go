package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMaxima(t *testing.T) {
	tests := []struct {
		name     string
		in       []float64
		expected []int
	}{
		{"empty", nil, nil},
		{"too short", []float64{1, 2}, nil},
		{"single peak", []float64{0, 3, 1}, []int{1}},
		{"endpoints ignored", []float64{5, 1, 2, 1, 5}, []int{2}},
		{"plateau is not strict", []float64{0, 2, 2, 0}, []int{}},
		{"alternating", []float64{0, 1, 0, 1, 0, 1, 0}, []int{1, 3, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := localMaxima(tt.in)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSelectPeakPositions(t *testing.T) {
	maxima := []int{5, 9, 13, 20}

	assert.Equal(t, []int{3, 2}, selectPeakPositions(maxima, 2))
	assert.Equal(t, []int{3, 2, 1, 0}, selectPeakPositions(maxima, 10))
	assert.Empty(t, selectPeakPositions(nil, 10))
}

func TestNormalise(t *testing.T) {
	out := normalise([]float64{2, 6, 4}, 5)
	require.Len(t, out, 5)
	assert.Equal(t, []float32{0, 1, 0.5, 0, 0}, out)

	flat := normalise([]float64{3, 3, 3}, 4)
	assert.Equal(t, []float32{0, 0, 0, 0}, flat)

	assert.Equal(t, []float32{0, 0}, normalise(nil, 2))
}
