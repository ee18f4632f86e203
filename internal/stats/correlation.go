package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Pearson is the linear correlation of x and y. Constant inputs give NaN.
func Pearson(x, y []float64) float64 {
	return stat.Correlation(x, y, nil)
}

// Spearman is the Pearson correlation of average ranks, so ties share a rank.
func Spearman(x, y []float64) float64 {
	return stat.Correlation(Rank(x), Rank(y), nil)
}

// Rank assigns 1-based ranks, averaging the ranks of tied values.
func Rank(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && values[idx[j]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}
	return ranks
}
