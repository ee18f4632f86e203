package patterns

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/dataset"
	"neurodecode/internal/network"
)

// ComponentwiseLoss ablates each latent component's contribution to each
// output unit in turn and records baseline loss minus ablated loss, so more
// negative means more important. The readout is restored on every exit path.
func ComponentwiseLoss(ctx context.Context, m network.Interpretable, batch dataset.Batch) (rel *mat.Dense, err error) {
	if m == nil || batch.Size() == 0 {
		return nil, ErrNoData
	}
	base, err := m.Loss(ctx, batch.X, batch.Y)
	if err != nil {
		return nil, errors.Wrap(err, "baseline loss")
	}

	store := network.NewParamStore(m)
	snap := store.Snapshot()
	defer func() {
		if rerr := store.Restore(snap); rerr != nil && err == nil {
			err = errors.Wrap(rerr, "restore weights after ablation")
		}
	}()

	w, bias := m.OutputLayer()
	rows, units := w.Dims()
	latent := m.Spec().NLatent
	rel = mat.NewDense(latent, units, nil)
	ablated := mat.NewDense(rows, units, nil)
	b := make([]float64, len(bias))
	for i := 0; i < latent; i++ {
		for j := 0; j < units; j++ {
			ablated.Copy(w)
			for r := i; r < rows; r += latent {
				ablated.Set(r, j, 0)
			}
			copy(b, bias)
			b[j] = 0
			if err := m.SetOutputLayer(ablated, b); err != nil {
				return nil, errors.Wrapf(err, "ablate component %d unit %d", i, j)
			}
			loss, err := m.Loss(ctx, batch.X, batch.Y)
			if err != nil {
				return nil, errors.Wrapf(err, "ablated loss component %d unit %d", i, j)
			}
			rel.Set(i, j, base-loss)
		}
	}
	return rel, nil
}
