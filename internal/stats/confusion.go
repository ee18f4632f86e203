package stats

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix counts predicted-vs-true classes as onehot(argmax(pred))ᵀ · true.
// Rows index predicted classes and columns true classes.
func ConfusionMatrix(pred, yTrue mat.Matrix) (*mat.Dense, error) {
	rp, cp := pred.Dims()
	rt, ct := yTrue.Dims()
	if rp != rt {
		return nil, errors.Errorf("confusion matrix: %d predictions for %d targets", rp, rt)
	}
	if rp == 0 {
		return mat.NewDense(cp, ct, nil), nil
	}
	onehot := mat.NewDense(rp, cp, nil)
	row := make([]float64, cp)
	for i := 0; i < rp; i++ {
		mat.Row(row, i, pred)
		onehot.Set(i, ArgMax(row), 1)
	}
	var cm mat.Dense
	cm.Mul(onehot.T(), yTrue)
	return &cm, nil
}

// AccumulateConfusion adds contribution into total; a nil total starts a new matrix.
func AccumulateConfusion(total *mat.Dense, contribution mat.Matrix) (*mat.Dense, error) {
	if total == nil {
		return mat.DenseCopyOf(contribution), nil
	}
	r0, c0 := total.Dims()
	r1, c1 := contribution.Dims()
	if r0 != r1 || c0 != c1 {
		return nil, errors.Errorf("confusion matrix: cannot add %dx%d to %dx%d", r1, c1, r0, c0)
	}
	total.Add(total, contribution)
	return total, nil
}

// Accuracy is the trace share of a confusion matrix.
func Accuracy(cm mat.Matrix) float64 {
	r, c := cm.Dims()
	total, diag := 0.0, 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := cm.At(i, j)
			total += v
			if i == j {
				diag += v
			}
		}
	}
	if total == 0 {
		return 0
	}
	return diag / total
}

func DenseRows(m mat.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}
