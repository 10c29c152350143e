package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     RawCandidate
		expected float64
	}{
		{
			name:     "identical boxes",
			a:        RawCandidate{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        RawCandidate{X1: 0, Y1: 0, X2: 10, Y2: 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        RawCandidate{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        RawCandidate{X1: 20, Y1: 20, X2: 30, Y2: 30},
			expected: 0.0,
		},
		{
			name: "half overlap",
			// intersection 50, union 150
			a:        RawCandidate{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        RawCandidate{X1: 5, Y1: 0, X2: 15, Y2: 10},
			expected: 50.0 / 150.0,
		},
		{
			name:     "zero-area box",
			a:        RawCandidate{X1: 5, Y1: 5, X2: 5, Y2: 5},
			b:        RawCandidate{X1: 0, Y1: 0, X2: 10, Y2: 10},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, IoU(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNMSSuppressesOverlapAboveThreshold(t *testing.T) {
	candidates := []RawCandidate{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Confidence: 0.6},
		{X1: 1, Y1: 1, X2: 11, Y2: 11, Confidence: 0.9},
	}

	kept := NMS(candidates, 0.45)

	require.Len(t, kept, 1)
	assert.Equal(t, 0.9, kept[0].Confidence)
}

func TestNMSKeepsBoxesBelowThreshold(t *testing.T) {
	// IoU of these boxes is well below the threshold
	candidates := []RawCandidate{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Confidence: 0.9},
		{X1: 8, Y1: 8, X2: 18, Y2: 18, Confidence: 0.6},
	}

	kept := NMS(candidates, 0.45)

	assert.Len(t, kept, 2)
}

func TestNMSIdempotent(t *testing.T) {
	candidates := []RawCandidate{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Confidence: 0.9},
		{X1: 1, Y1: 1, X2: 11, Y2: 11, Confidence: 0.8},
		{X1: 50, Y1: 50, X2: 60, Y2: 60, Confidence: 0.7},
		{X1: 51, Y1: 51, X2: 61, Y2: 61, Confidence: 0.6},
	}

	once := NMS(candidates, 0.45)
	twice := NMS(once, 0.45)

	assert.Equal(t, once, twice)
}

func TestNMSStableOnEqualConfidence(t *testing.T) {
	// Equal confidence: the earlier candidate wins the tie
	candidates := []RawCandidate{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, ClassID: 0, Confidence: 0.8},
		{X1: 1, Y1: 1, X2: 11, Y2: 11, ClassID: 1, Confidence: 0.8},
	}

	kept := NMS(candidates, 0.45)

	require.Len(t, kept, 1)
	assert.Equal(t, 0, kept[0].ClassID)
}

func TestNMSEmptyInput(t *testing.T) {
	assert.Nil(t, NMS(nil, 0.45))
}
