package network

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/dataset"
	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

type Evaluation struct {
	Loss   float64
	Metric float64
}

// Model is the trainable function driven by the cross-validation controller.
// One instance is reused across folds; its parameters are the only state.
type Model interface {
	Weighted
	Spec() model.ModelSpec
	Meta() model.DatasetMeta
	Objective() Objective
	// FitEpoch runs steps optimizer updates on batches from src and returns
	// the mean training loss including regularization.
	FitEpoch(ctx context.Context, src dataset.Source, steps int, classWeight []float64) (float64, error)
	// Evaluate averages loss and metric over steps batches without regularization.
	Evaluate(ctx context.Context, src dataset.Source, steps int) (Evaluation, error)
	Predict(ctx context.Context, x *ndarray.Array4) (*mat.Dense, error)
}

// Interpretable exposes the named layers pattern extraction reads and the
// output-layer mutation used by componentwise ablation.
type Interpretable interface {
	Model
	// DemixingWeights is the spatial filter bank [n_ch, n_latent].
	DemixingWeights() *mat.Dense
	// TemporalFilters is the depthwise convolution bank [filter_length, n_latent].
	TemporalFilters() *mat.Dense
	// TimeBins is the pooled time length per sequence element.
	TimeBins() int
	// OutputLayer returns the flattened readout [n_seq*time_bins*n_latent, n_out]
	// and its bias.
	OutputLayer() (*mat.Dense, []float64)
	SetOutputLayer(w mat.Matrix, b []float64) error
	// LatentActivations is the pooled temporal-conv output [batch, n_seq*time_bins, n_latent].
	LatentActivations(ctx context.Context, x *ndarray.Array4) (*ndarray.Array3, error)
	// Loss is the unregularized objective loss on one batch.
	Loss(ctx context.Context, x *ndarray.Array4, y mat.Matrix) (float64, error)
}
