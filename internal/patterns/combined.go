package patterns

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Combined is the activation-weighted sum of all (or the strongest subset
// of) components per output unit.
type Combined struct {
	// Weights is mean_trials(relu(activation·readout + bias)), [n_latent, n_out].
	Weights *mat.Dense
	// Topo is [n_ch, n_out].
	Topo *mat.Dense
	// Spectra is the weighted |H| of demeaned temporal filters, [NFreqs, n_out].
	Spectra *mat.Dense
	// PSD is the weighted Welch PSD of latent time courses, [NFreqs, n_out].
	PSD   *mat.Dense
	Freqs []float64
}

// CombinedWeights is the trial-averaged, bias-shifted, rectified contribution
// of every component to every output unit, [n_latent, n_out].
func CombinedWeights(res *Result) *mat.Dense {
	act := res.Activations
	trials, bins, latent := act.Shape[0], act.Shape[1], act.Shape[2]
	units := res.OutWeights.Shape[2]
	out := mat.NewDense(latent, units, nil)
	for u := 0; u < units; u++ {
		for l := 0; l < latent; l++ {
			sum := 0.0
			for b := 0; b < trials; b++ {
				v := res.OutBiases[u]
				for r := 0; r < bins; r++ {
					v += res.OutWeights.At(r, l, u) * act.At(b, r, l)
				}
				if v > 0 {
					sum += v
				}
			}
			out.Set(l, u, sum/float64(trials))
		}
	}
	return out
}

// ComponentSpectra returns the frequency response of every temporal filter and
// the Welch PSD of every latent time course, both [NFreqs, n_latent].
func ComponentSpectra(res *Result) (*mat.Dense, *mat.Dense) {
	latent := res.Latent()
	spectra := mat.NewDense(NFreqs, latent, nil)
	psds := mat.NewDense(NFreqs, latent, nil)
	k, _ := res.TemporalFilters.Dims()
	filter := make([]float64, k)
	_, n := res.LatentTimeCourses.Dims()
	tc := make([]float64, n)
	for l := 0; l < latent; l++ {
		mat.Col(filter, l, res.TemporalFilters)
		spectra.SetCol(l, FrequencyResponse(filter))
		mat.Row(tc, l, res.LatentTimeCourses)
		demean(tc)
		psds.SetCol(l, Welch(tc, res.FS))
	}
	return spectra, psds
}

// CombinedPattern mixes all components with CombinedWeights. A positive
// subset keeps only the subset largest weights per unit.
func CombinedPattern(res *Result, subset int) (*Combined, error) {
	if res == nil {
		return nil, ErrNoData
	}
	latent := res.Latent()
	if subset > latent {
		return nil, errors.Errorf("subset %d exceeds n_latent %d", subset, latent)
	}
	weights := CombinedWeights(res)
	_, units := weights.Dims()
	spectra, psds := ComponentSpectra(res)
	ch, _ := res.Patterns.Dims()

	out := &Combined{
		Weights: weights,
		Topo:    mat.NewDense(ch, units, nil),
		Spectra: mat.NewDense(NFreqs, units, nil),
		PSD:     mat.NewDense(NFreqs, units, nil),
		Freqs:   Freqs(res.FS),
	}
	pw := make([]float64, latent)
	for u := 0; u < units; u++ {
		mat.Col(pw, u, weights)
		selected := argsort(pw)
		if subset > 0 {
			selected = selected[latent-subset:]
		}
		for _, l := range selected {
			w := pw[l]
			if w == 0 {
				continue
			}
			addScaledCol(out.Topo, u, res.Patterns, l, w)
			addScaledCol(out.Spectra, u, spectra, l, w)
			addScaledCol(out.PSD, u, psds, l, w)
		}
	}
	return out, nil
}

func addScaledCol(dst *mat.Dense, j int, src mat.Matrix, l int, w float64) {
	r, _ := dst.Dims()
	for i := 0; i < r; i++ {
		dst.Set(i, j, dst.At(i, j)+w*src.At(i, l))
	}
}

func demean(values []float64) {
	if len(values) == 0 {
		return
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for i := range values {
		values[i] -= mean
	}
}
