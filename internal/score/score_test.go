package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalize covers positive, negative and zero scores, exact half
// cents, and the never-observed case.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		count int
		want  float64
	}{
		{name: "zero count", score: 12, count: 0, want: 0},
		{name: "zero count negative score", score: -3, count: 0, want: 0},
		{name: "zero score", score: 0, count: 7, want: 0},
		{name: "positive exact", score: 6, count: 3, want: 2},
		{name: "positive rounded", score: 1, count: 3, want: 0.33},
		{name: "positive rounded up", score: 2, count: 3, want: 0.67},
		{name: "negative exact", score: -9, count: 3, want: -3},
		{name: "negative rounded", score: -2, count: 3, want: -0.67},
		{name: "half cent rounds away from zero", score: 374.875, count: 5, want: 74.98},
		{name: "negative half cent rounds away from zero", score: -374.875, count: 5, want: -74.98},
		{name: "quarter sum half cent", score: 0.125, count: 1, want: 0.13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Normalize(tt.score, tt.count), 1e-9)
		})
	}
}

// TestComposite checks the five-lowest rule.
func TestComposite(t *testing.T) {
	t.Run("example from triage docs", func(t *testing.T) {
		got := Composite([]float64{-2.0, -1.0, 0.0, 0.5, 4.0, 10.0})
		assert.InDelta(t, 1.5, got, 1e-9)
	})

	t.Run("empty is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Composite(nil))
		assert.Equal(t, 0.0, Composite([]float64{}))
	})

	t.Run("fewer than five sums everything", func(t *testing.T) {
		assert.InDelta(t, -1.25, Composite([]float64{0.25, -1.5}), 1e-9)
	})

	t.Run("order does not matter", func(t *testing.T) {
		a := Composite([]float64{10, 4, 0.5, 0, -1, -2})
		b := Composite([]float64{-2, 10, -1, 4, 0, 0.5})
		assert.Equal(t, a, b)
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := []float64{3, 1, 2}
		Composite(in)
		assert.Equal(t, []float64{3, 1, 2}, in)
	})

	t.Run("result is rounded", func(t *testing.T) {
		// 0.1 + 0.2 is not exactly 0.3 in binary floating point
		assert.Equal(t, 0.3, Composite([]float64{0.1, 0.2}))
	})
}
