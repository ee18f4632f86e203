package stats

import (
	"math"
	"testing"
)

func TestMeanStdUsesPopulationDeviation(t *testing.T) {
	mean, std := MeanStd([]int{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || std != 2 {
		t.Fatalf("got mean=%f std=%f want 5 and 2", mean, std)
	}
	if mean, std := MeanStd([]float64{}); mean != 0 || std != 0 {
		t.Fatalf("empty input: got %f %f", mean, std)
	}
}

func TestScrubNaNAndArgMax(t *testing.T) {
	values := []float64{1, math.NaN(), 3, math.NaN()}
	if n := ScrubNaN(values); n != 2 {
		t.Fatalf("expected 2 replacements, got %d", n)
	}
	if values[1] != 0 || values[3] != 0 {
		t.Fatalf("NaN not replaced: %v", values)
	}
	if got := ArgMax([]float64{1, 5, 5, 2}); got != 1 {
		t.Fatalf("ArgMax should take the first maximum, got %d", got)
	}
}

func TestRankAveragesTies(t *testing.T) {
	got := Rank([]float64{10, 20, 10, 30})
	want := []float64{1.5, 3, 1.5, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank %d: got %f want %f", i, got[i], want[i])
		}
	}
}

func TestCorrelations(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{1, 4, 9, 16, 25}
	if got := Spearman(x, y); math.Abs(got-1) > 1e-12 {
		t.Fatalf("monotone series should have spearman 1, got %f", got)
	}
	if got := Pearson(x, []float64{5, 4, 3, 2, 1}); math.Abs(got+1) > 1e-12 {
		t.Fatalf("reversed series should have pearson -1, got %f", got)
	}
	if got := Pearson(x, []float64{2, 2, 2, 2, 2}); !math.IsNaN(got) {
		t.Fatalf("constant series should give NaN, got %f", got)
	}
}
