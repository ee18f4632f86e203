package network

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/model"
	"neurodecode/internal/stats"
)

// Objective is the target-type strategy of a model: how logits become
// predictions, how they are scored and how features relate to targets.
type Objective interface {
	Name() string
	Discrete() bool
	MetricName() string
	// Output maps raw logits [batch, out] to predictions.
	Output(logits mat.Matrix) *mat.Dense
	// Loss is the mean per-sample loss of logits against y. classWeight may be nil.
	Loss(logits, y mat.Matrix, classWeight []float64) float64
	// Gradient is dLoss/dlogits for Loss.
	Gradient(logits, y mat.Matrix, classWeight []float64) *mat.Dense
	// Metric scores predictions (as returned by Output) against y.
	Metric(pred, y mat.Matrix) float64
	// FeatureRelevance relates each feature column [batch, n_feat] to each
	// target column, returning [n_feat, out] with NaNs replaced by 0.
	FeatureRelevance(features, y mat.Matrix) (*mat.Dense, error)
	// FoldStats returns the confusion contribution (discrete) or regression
	// statistics (continuous) of one evaluated split.
	FoldStats(pred, y mat.Matrix) (*mat.Dense, *model.RegressionStats, error)
}

// ObjectiveFor selects the objective once from the dataset target type.
func ObjectiveFor(t model.TargetType) (Objective, error) {
	switch t {
	case model.TargetInt:
		return Classification{}, nil
	case model.TargetFloat, model.TargetSignal:
		return Regression{}, nil
	default:
		return nil, errors.Errorf("unsupported target_type: %q", t)
	}
}

// Classification is softmax cross-entropy over one-hot targets.
type Classification struct{}

func (Classification) Name() string       { return "classification" }
func (Classification) Discrete() bool     { return true }
func (Classification) MetricName() string { return "accuracy" }

func (Classification) Output(logits mat.Matrix) *mat.Dense {
	return softmax(logits)
}

func (c Classification) Loss(logits, y mat.Matrix, classWeight []float64) float64 {
	p := softmax(logits)
	n, out := p.Dims()
	if n == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		ce := 0.0
		for j := 0; j < out; j++ {
			if t := y.At(i, j); t != 0 {
				ce -= t * math.Log(math.Max(p.At(i, j), 1e-12))
			}
		}
		total += sampleWeight(y, i, classWeight) * ce
	}
	return total / float64(n)
}

func (c Classification) Gradient(logits, y mat.Matrix, classWeight []float64) *mat.Dense {
	p := softmax(logits)
	n, out := p.Dims()
	grad := mat.NewDense(n, out, nil)
	for i := 0; i < n; i++ {
		mass := 0.0
		for j := 0; j < out; j++ {
			mass += y.At(i, j)
		}
		w := sampleWeight(y, i, classWeight) / float64(n)
		for j := 0; j < out; j++ {
			grad.Set(i, j, w*(p.At(i, j)*mass-y.At(i, j)))
		}
	}
	return grad
}

func (Classification) Metric(pred, y mat.Matrix) float64 {
	n, _ := pred.Dims()
	if n == 0 {
		return 0
	}
	hits := 0
	for i := 0; i < n; i++ {
		if stats.ArgMax(row(pred, i)) == stats.ArgMax(row(y, i)) {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

// FeatureRelevance scores 2 - sum|f - y| between L1-normalized feature and
// target columns, so identical profiles score 2 and disjoint ones 0.
func (Classification) FeatureRelevance(features, y mat.Matrix) (*mat.Dense, error) {
	n, nFeat := features.Dims()
	ny, out := y.Dims()
	if n != ny {
		return nil, errors.Errorf("feature rows %d do not match target rows %d", n, ny)
	}
	rel := mat.NewDense(nFeat, out, nil)
	ff := make([]float64, n)
	yy := make([]float64, n)
	for j := 0; j < out; j++ {
		mat.Col(yy, j, y)
		ynorm := l1Normalize(yy)
		for f := 0; f < nFeat; f++ {
			mat.Col(ff, f, features)
			fnorm := l1Normalize(ff)
			if !fnorm || !ynorm {
				rel.Set(f, j, 0)
				continue
			}
			dist := 0.0
			for i := 0; i < n; i++ {
				dist += math.Abs(ff[i] - yy[i])
			}
			rel.Set(f, j, 2-dist)
		}
	}
	stats.ScrubNaN(rel.RawMatrix().Data)
	return rel, nil
}

func (Classification) FoldStats(pred, y mat.Matrix) (*mat.Dense, *model.RegressionStats, error) {
	cm, err := stats.ConfusionMatrix(pred, y)
	if err != nil {
		return nil, nil, err
	}
	return cm, nil, nil
}

// Regression is mean squared error over continuous targets.
type Regression struct{}

func (Regression) Name() string       { return "regression" }
func (Regression) Discrete() bool     { return false }
func (Regression) MetricName() string { return "mae" }

func (Regression) Output(logits mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(logits)
}

// Loss is the mean absolute error, so for regression it coincides with Metric.
func (r Regression) Loss(logits, y mat.Matrix, _ []float64) float64 {
	return r.Metric(logits, y)
}

func (Regression) Gradient(logits, y mat.Matrix, _ []float64) *mat.Dense {
	n, out := logits.Dims()
	grad := mat.NewDense(n, out, nil)
	if n == 0 || out == 0 {
		return grad
	}
	scale := 1 / float64(n*out)
	for i := 0; i < n; i++ {
		for j := 0; j < out; j++ {
			grad.Set(i, j, scale*sign(logits.At(i, j)-y.At(i, j)))
		}
	}
	return grad
}

func (Regression) Metric(pred, y mat.Matrix) float64 {
	n, out := pred.Dims()
	if n == 0 || out == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < out; j++ {
			total += math.Abs(pred.At(i, j) - y.At(i, j))
		}
	}
	return total / float64(n*out)
}

// FeatureRelevance is the Spearman rank correlation of each feature with each target.
func (Regression) FeatureRelevance(features, y mat.Matrix) (*mat.Dense, error) {
	n, nFeat := features.Dims()
	ny, out := y.Dims()
	if n != ny {
		return nil, errors.Errorf("feature rows %d do not match target rows %d", n, ny)
	}
	rel := mat.NewDense(nFeat, out, nil)
	ff := make([]float64, n)
	yy := make([]float64, n)
	for j := 0; j < out; j++ {
		mat.Col(yy, j, y)
		for f := 0; f < nFeat; f++ {
			mat.Col(ff, f, features)
			rel.Set(f, j, stats.Spearman(ff, yy))
		}
	}
	stats.ScrubNaN(rel.RawMatrix().Data)
	return rel, nil
}

func (Regression) FoldStats(pred, y mat.Matrix) (*mat.Dense, *model.RegressionStats, error) {
	rs, err := stats.RegressionMetrics(y, pred)
	if err != nil {
		return nil, nil, err
	}
	return nil, &rs, nil
}

func softmax(logits mat.Matrix) *mat.Dense {
	n, out := logits.Dims()
	p := mat.NewDense(n, out, nil)
	for i := 0; i < n; i++ {
		maxv := math.Inf(-1)
		for j := 0; j < out; j++ {
			maxv = math.Max(maxv, logits.At(i, j))
		}
		sum := 0.0
		for j := 0; j < out; j++ {
			e := math.Exp(logits.At(i, j) - maxv)
			p.Set(i, j, e)
			sum += e
		}
		for j := 0; j < out; j++ {
			p.Set(i, j, p.At(i, j)/sum)
		}
	}
	return p
}

// sampleWeight is the class weight of the (soft) label in row i.
func sampleWeight(y mat.Matrix, i int, classWeight []float64) float64 {
	if len(classWeight) == 0 {
		return 1
	}
	_, out := y.Dims()
	w := 0.0
	for j := 0; j < out && j < len(classWeight); j++ {
		w += y.At(i, j) * classWeight[j]
	}
	return w
}

func row(m mat.Matrix, i int) []float64 {
	_, c := m.Dims()
	out := make([]float64, c)
	for j := range out {
		out[j] = m.At(i, j)
	}
	return out
}

// l1Normalize scales values in place to unit L1 norm and reports false when the norm is zero.
func l1Normalize(values []float64) bool {
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return false
	}
	for i := range values {
		values[i] /= sum
	}
	return true
}
