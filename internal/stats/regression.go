package stats

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"neurodecode/internal/model"
)

// RegressionMetrics scores continuous predictions column by column and averages
// over output units:
//   - cc: Pearson correlation of true and predicted values
//   - r2: 1 - SSres/SStot
//   - cs, bias: slope and intercept of true regressed on predicted (calibration)
//   - pve: 1 - var(true - pred)/var(true)
func RegressionMetrics(yTrue, yPred mat.Matrix) (model.RegressionStats, error) {
	rt, ct := yTrue.Dims()
	rp, cp := yPred.Dims()
	if rt != rp || ct != cp {
		return model.RegressionStats{}, errors.Errorf("regression metrics: shape mismatch true=%dx%d pred=%dx%d", rt, ct, rp, cp)
	}
	if rt == 0 || ct == 0 {
		return model.RegressionStats{}, errors.New("regression metrics: empty input")
	}

	var out model.RegressionStats
	truth := make([]float64, rt)
	pred := make([]float64, rt)
	resid := make([]float64, rt)
	for j := 0; j < ct; j++ {
		mat.Col(truth, j, yTrue)
		mat.Col(pred, j, yPred)
		ssRes := 0.0
		for i := range truth {
			resid[i] = truth[i] - pred[i]
			ssRes += resid[i] * resid[i]
		}
		_, varTrue := stat.PopMeanVariance(truth, nil)
		ssTot := varTrue * float64(rt)

		out.CC += Pearson(truth, pred)
		out.R2 += 1 - ssRes/ssTot
		intercept, slope := stat.LinearRegression(pred, truth, nil, false)
		out.Slope += slope
		out.Bias += intercept
		_, varResid := stat.PopMeanVariance(resid, nil)
		out.PVE += 1 - varResid/varTrue
	}
	n := float64(ct)
	out.CC /= n
	out.R2 /= n
	out.Slope /= n
	out.Bias /= n
	out.PVE /= n
	return out, nil
}

// RegressionMap is the keyed form used in summaries and run logs.
func RegressionMap(s model.RegressionStats) map[string]float64 {
	return map[string]float64{
		"cc":   s.CC,
		"r2":   s.R2,
		"cs":   s.Slope,
		"bias": s.Bias,
		"pve":  s.PVE,
	}
}

// RegressionLogKeys lists every regression summary column with its "_std" twin, sorted.
func RegressionLogKeys() []string {
	base := RegressionMap(model.RegressionStats{})
	keys := make([]string, 0, 2*len(base))
	for k := range base {
		keys = append(keys, k, k+"_std")
	}
	sort.Strings(keys)
	return keys
}

// AverageRegression averages per-fold statistics, adding "<key>_std" entries.
func AverageRegression(folds []model.RegressionStats) map[string]float64 {
	if len(folds) == 0 {
		return nil
	}
	series := make(map[string][]float64)
	for _, fold := range folds {
		for k, v := range RegressionMap(fold) {
			series[k] = append(series[k], v)
		}
	}
	out := make(map[string]float64, 2*len(series))
	for k, values := range series {
		mean, std := MeanStd(values)
		out[k] = mean
		out[k+"_std"] = std
	}
	return out
}

// Finite reports whether every regression statistic is a finite number.
func Finite(s model.RegressionStats) bool {
	for _, v := range []float64{s.CC, s.R2, s.Slope, s.Bias, s.PVE} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
