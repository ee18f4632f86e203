package patterns

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/dataset"
	"neurodecode/internal/ndarray"
	"neurodecode/internal/network"
	"neurodecode/internal/stats"
)

var ErrNoData = errors.New("patterns: no model or data to compute patterns from")

// Output selects what Result.Patterns holds.
type Output string

const (
	OutputPatterns Output = "patterns"
	OutputFilters  Output = "filters"
)

type Options struct {
	Output Output
	// FS overrides the sampling rate from the model metadata.
	FS float64
}

// Result is the latent component set of one model state on one batch. It is
// only valid for the weights and batch it was computed from.
type Result struct {
	// Patterns is dcov·W_demix (or W_demix in filters mode), [n_ch, n_latent].
	Patterns *mat.Dense
	// Filters is W_demix, [n_ch, n_latent].
	Filters *mat.Dense
	// TemporalFilters is the convolution bank, [filter_length, n_latent].
	TemporalFilters *mat.Dense
	// DCov is the channel covariance of the batch, [n_ch, n_ch].
	DCov *mat.Dense
	// LatentTimeCourses is W_demixᵀ·X, [n_latent, batch*n_seq*n_t].
	LatentTimeCourses *mat.Dense
	// Waveforms is the trial mean of LatentTimeCourses, [n_latent, n_seq*n_t].
	Waveforms *mat.Dense
	// TrueEvoked is the per-class (or grand) input mean, [classes, n_seq*n_t, n_ch].
	TrueEvoked *ndarray.Array3
	// OutWeights is the readout reshaped to [n_seq*time_bins, n_latent, n_out].
	OutWeights *ndarray.Array3
	OutBiases  []float64
	// Activations is the pooled temporal-conv output, [batch, n_seq*time_bins, n_latent].
	Activations *ndarray.Array3
	// CorrToOutput relates every activation feature to every output, [n_seq*time_bins, n_latent, n_out].
	CorrToOutput *ndarray.Array3
	// CompwiseLoss is baseline minus ablated loss, [n_latent, n_out].
	CompwiseLoss *mat.Dense
	FS           float64
}

func (r *Result) Latent() int {
	_, l := r.Filters.Dims()
	return l
}

func (r *Result) Units() int {
	return r.OutWeights.Shape[2]
}

// Draw takes the next batch from src as the held-out batch for Compute.
func Draw(src dataset.Source) (dataset.Batch, error) {
	if src == nil {
		return dataset.Batch{}, ErrNoData
	}
	batch, err := src.Next()
	if err != nil {
		return dataset.Batch{}, errors.Wrap(err, "draw held-out batch")
	}
	return batch, nil
}

// Compute reconstructs spatial patterns, latent time courses and output
// relevance of m on one held-out batch.
func Compute(ctx context.Context, m network.Interpretable, batch dataset.Batch, opts Options) (*Result, error) {
	if m == nil || batch.Size() == 0 || batch.Y == nil {
		return nil, ErrNoData
	}
	if opts.Output == "" {
		opts.Output = OutputPatterns
	}
	if opts.Output != OutputPatterns && opts.Output != OutputFilters {
		return nil, errors.Errorf("unsupported pattern output %q", opts.Output)
	}
	fs := opts.FS
	if fs <= 0 {
		fs = m.Meta().FS
	}

	latent := m.Spec().NLatent
	wFlat, bias := m.OutputLayer()
	_, units := wFlat.Dims()
	outWeights, err := ndarray.Reshape3(wFlat.RawMatrix().Data, -1, latent, units)
	if err != nil {
		return nil, errors.Wrap(err, "reshape output weights")
	}

	compwise, err := ComponentwiseLoss(ctx, m, batch)
	if err != nil {
		return nil, err
	}

	act, err := m.LatentActivations(ctx, batch.X)
	if err != nil {
		return nil, errors.Wrap(err, "latent activations")
	}

	xflat := channelsFirst(batch.X)
	dcov := covariance(xflat)
	demix := m.DemixingWeights()

	var lat mat.Dense
	lat.Mul(demix.T(), xflat)

	trials := batch.Size()
	samples := batch.X.Shape[1] * batch.X.Shape[2]
	waveforms := mat.NewDense(latent, samples, nil)
	for l := 0; l < latent; l++ {
		for b := 0; b < trials; b++ {
			for s := 0; s < samples; s++ {
				waveforms.Set(l, s, waveforms.At(l, s)+lat.At(l, b*samples+s))
			}
		}
	}
	waveforms.Scale(1/float64(trials), waveforms)

	var pats mat.Dense
	if opts.Output == OutputPatterns {
		pats.Mul(dcov, demix)
	} else {
		pats.CloneFrom(demix)
	}

	corr, err := outputCorrelations(m.Objective(), act, batch.Y)
	if err != nil {
		return nil, err
	}

	return &Result{
		Patterns:          &pats,
		Filters:           demix,
		TemporalFilters:   m.TemporalFilters(),
		DCov:              dcov,
		LatentTimeCourses: &lat,
		Waveforms:         waveforms,
		TrueEvoked:        trueEvoked(batch, m.Objective().Discrete()),
		OutWeights:        outWeights,
		OutBiases:         bias,
		Activations:       act,
		CorrToOutput:      corr,
		CompwiseLoss:      compwise,
		FS:                fs,
	}, nil
}

// channelsFirst demeans every trial and sequence element over time and
// returns X as [n_ch, batch*n_seq*n_t].
func channelsFirst(x *ndarray.Array4) *mat.Dense {
	b, s, t, ch := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := mat.NewDense(ch, b*s*t, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < s; j++ {
			col := (i*s + j) * t
			for c := 0; c < ch; c++ {
				mean := 0.0
				for k := 0; k < t; k++ {
					mean += x.At(i, j, k, c)
				}
				mean /= float64(t)
				for k := 0; k < t; k++ {
					out.Set(c, col+k, x.At(i, j, k, c)-mean)
				}
			}
		}
	}
	return out
}

// covariance is X·Xᵀ/(T-1) for X shaped [n_ch, T].
func covariance(x *mat.Dense) *mat.Dense {
	ch, n := x.Dims()
	out := mat.NewDense(ch, ch, nil)
	out.Mul(x, x.T())
	if n > 1 {
		out.Scale(1/float64(n-1), out)
	}
	return out
}

func trueEvoked(batch dataset.Batch, discrete bool) *ndarray.Array3 {
	x := batch.X
	samples := x.Shape[1] * x.Shape[2]
	ch := x.Shape[3]
	_, units := batch.Y.Dims()
	groups := 1
	if discrete {
		groups = units
	}
	out := ndarray.NewArray3(groups, samples, ch)
	counts := make([]int, groups)
	row := make([]float64, units)
	for i := 0; i < batch.Size(); i++ {
		g := 0
		if discrete {
			mat.Row(row, i, batch.Y)
			g = stats.ArgMax(row)
		}
		counts[g]++
		sample := x.Sample(i)
		for k, v := range sample {
			out.Data[g*samples*ch+k] += v
		}
	}
	for g, n := range counts {
		if n == 0 {
			continue
		}
		block := out.Data[g*samples*ch : (g+1)*samples*ch]
		for k := range block {
			block[k] /= float64(n)
		}
	}
	return out
}

// outputCorrelations relates every pooled activation feature to every target
// column with the objective's relevance measure. NaNs become 0.
func outputCorrelations(obj network.Objective, act *ndarray.Array3, y mat.Matrix) (*ndarray.Array3, error) {
	b, bins, latent := act.Shape[0], act.Shape[1], act.Shape[2]
	features := mat.NewDense(b, bins*latent, act.Data)
	rel, err := obj.FeatureRelevance(features, y)
	if err != nil {
		return nil, errors.Wrap(err, "output correlations")
	}
	_, units := rel.Dims()
	corr, err := ndarray.Reshape3(rel.RawMatrix().Data, bins, latent, units)
	if err != nil {
		return nil, err
	}
	stats.ScrubNaN(corr.Data)
	return corr, nil
}
