package stats

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat"
)

type Number interface {
	constraints.Integer | constraints.Float
}

func Float64s[T Number](values []T) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// MeanStd returns the mean and population standard deviation of values.
// Empty input yields zeros.
func MeanStd[T Number](values []T) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(Float64s(values), nil)
	return mean, math.Sqrt(variance)
}

// ScrubNaN replaces NaN entries in place with zero and returns how many were replaced.
func ScrubNaN(values []float64) int {
	n := 0
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = 0
			n++
		}
	}
	return n
}

func ArgMax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
