package model

import (
	"neurodecode/internal/ndarray"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type Mode string

const (
	ModeSingleFold Mode = "single_fold"
	ModeCV         Mode = "cv"
	ModeLOSO       Mode = "loso"
)

type RegressionStats struct {
	CC    float64 `json:"cc"`
	R2    float64 `json:"r2"`
	Slope float64 `json:"cs"`
	Bias  float64 `json:"bias"`
	PVE   float64 `json:"pve"`
}

// FoldResult is the outcome of one train/validation(/held-out subject) partition.
// For loso runs Loss/Metric describe the held-out subject and CVLoss/CVMetric the
// internal validation slice; for other modes the two pairs are equal.
type FoldResult struct {
	Fold       int              `json:"fold"`
	Epochs     int              `json:"epochs"`
	StoppedAt  int              `json:"stopped_at,omitempty"`
	Loss       float64          `json:"loss"`
	Metric     float64          `json:"metric"`
	CVLoss     float64          `json:"cv_loss"`
	CVMetric   float64          `json:"cv_metric"`
	Confusion  [][]float64      `json:"confusion,omitempty"`
	Regression *RegressionStats `json:"regression,omitempty"`

	// TopComponents maps a sorting heuristic to the selected components per output unit.
	TopComponents map[string][][]int `json:"top_components,omitempty"`
}

// Summary holds fold-aggregated scores. Regression keys carry a matching
// "<key>_std" entry.
type Summary struct {
	LossMean     float64            `json:"loss_mean"`
	LossStd      float64            `json:"loss_std"`
	MetricMean   float64            `json:"metric_mean"`
	MetricStd    float64            `json:"metric_std"`
	CVLossMean   float64            `json:"cv_loss_mean"`
	CVLossStd    float64            `json:"cv_loss_std"`
	CVMetricMean float64            `json:"cv_metric_mean"`
	CVMetricStd  float64            `json:"cv_metric_std"`
	Regression   map[string]float64 `json:"regression,omitempty"`
}

// Pattern stack names inside an AggregateResult.
const (
	StackPatterns         = "cv_patterns"
	StackFilters          = "cv_filters"
	StackPSDs             = "cv_psds"
	StackPatternsWeight   = "cv_patterns_weight"
	StackFiltersWeight    = "cv_filters_weight"
	StackPatternsCompwise = "cv_patterns_compwise"
	StackFiltersCompwise  = "cv_filters_compwise"
)

// AggregateResult is everything persisted at the end of a multi-fold run.
// Stacks are shaped [rows, n_output_units, n_folds].
type AggregateResult struct {
	VersionedRecord
	RunID     string                     `json:"run_id"`
	Scope     string                     `json:"scope"`
	DataID    string                     `json:"data_id"`
	Mode      Mode                       `json:"mode"`
	Folds     []FoldResult               `json:"folds"`
	Summary   Summary                    `json:"summary"`
	Stacks    map[string]*ndarray.Array3 `json:"stacks,omitempty"`
	Freqs     []float64                  `json:"freqs,omitempty"`
	Confusion [][]float64                `json:"cm,omitempty"`
	Specs     map[string]any             `json:"specs"`
	Meta      map[string]any             `json:"meta"`
	Log       map[string]any             `json:"log"`
}

// Key identifies an aggregate in a store.
func (r AggregateResult) Key() string {
	return ResultKey(r.Scope, r.DataID)
}

func ResultKey(scope, dataID string) string {
	return scope + "_" + dataID
}
