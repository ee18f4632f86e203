package patterns

import (
	"math"
	"testing"
)

func TestFrequencyResponseOfDifference(t *testing.T) {
	h := FrequencyResponse([]float64{1, -1})
	if len(h) != NFreqs {
		t.Fatalf("len=%d", len(h))
	}
	if math.Abs(h[0]) > 1e-12 {
		t.Fatalf("DC response %g", h[0])
	}
	if math.Abs(h[64]-math.Sqrt2) > 1e-12 {
		t.Fatalf("response at pi/2: %g want %g", h[64], math.Sqrt2)
	}
	flat := FrequencyResponse([]float64{3, 3, 3})
	for k, v := range flat {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("constant filter should demean to zero, bin %d = %g", k, v)
		}
	}
}

func TestWelchPeak(t *testing.T) {
	const fs = 256.0
	x := make([]float64, 1024)
	for i := range x {
		x[i] = 5 + math.Sin(2*math.Pi*32*float64(i)/fs)
	}
	psd := Welch(x, fs)
	if len(psd) != NFreqs {
		t.Fatalf("len=%d", len(psd))
	}
	best := 0
	for k := range psd {
		if psd[k] > psd[best] {
			best = k
		}
	}
	if best != 32 {
		t.Fatalf("peak at bin %d want 32", best)
	}
	if psd[0] > 1e-12 {
		t.Fatalf("detrended DC power %g", psd[0])
	}
	if got := Welch(x[:100], fs); len(got) != NFreqs {
		t.Fatalf("short input len=%d", len(got))
	}
}
