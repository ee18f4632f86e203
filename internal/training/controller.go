package training

import (
	"context"
	"io"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/dataset"
	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
	"neurodecode/internal/network"
	"neurodecode/internal/patterns"
	"neurodecode/internal/stats"
	"neurodecode/internal/storage"
)

// Early stopping defaults applied when Patience or MinDelta is left at zero.
const (
	DefaultPatience = 3
	DefaultMinDelta = 1e-6
)

// Config controls one training run. SortModes lists extra ranking heuristics
// whose selections are recorded per fold; unknown names are logged and skipped.
// A negative Patience disables early stopping and a negative MinDelta counts
// any decrease of the validation loss as an improvement.
type Config struct {
	Mode            model.Mode
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
	Patience        int
	MinDelta        float64
	ClassWeight     []float64
	CollectPatterns bool
	SortModes       []string
	NComp           int
	PatternOutput   patterns.Output
	Seed            int64
	Logger          *log.Logger
	OnEpoch         func(EpochReport)
}

type EpochReport struct {
	Fold      int
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	ValMetric float64
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = model.ModeSingleFold
	}
	if c.Epochs <= 0 {
		c.Epochs = 10
	}
	switch {
	case c.Patience == 0:
		c.Patience = DefaultPatience
	case c.Patience < 0:
		c.Patience = 0
	}
	switch {
	case c.MinDelta == 0:
		c.MinDelta = DefaultMinDelta
	case c.MinDelta < 0:
		c.MinDelta = 0
	}
	if c.NComp <= 0 {
		c.NComp = 1
	}
	if c.PatternOutput == "" {
		c.PatternOutput = patterns.OutputPatterns
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}

// Controller drives one model instance through the folds of a run. Folds run
// sequentially and share the model's parameters.
type Controller struct {
	model       network.Model
	data        dataset.Dataset
	cfg         Config
	params      *network.ParamStore
	rng         *rand.Rand
	log         *log.Logger
	classWeight []float64
}

func New(m network.Model, data dataset.Dataset, cfg Config) (*Controller, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	if data == nil {
		return nil, ErrNoDataset
	}
	if err := data.Meta().Validate(); err != nil {
		return nil, errors.Wrap(ErrNoDataset, err.Error())
	}
	if strings.TrimSpace(m.Spec().ModelPath) == "" {
		return nil, ErrMissingModelPath
	}
	cfg = cfg.withDefaults()
	switch cfg.Mode {
	case model.ModeSingleFold, model.ModeCV, model.ModeLOSO:
	default:
		return nil, errors.Errorf("unsupported training mode: %s", cfg.Mode)
	}
	weights, err := BalanceClassWeights(cfg.ClassWeight)
	if err != nil {
		return nil, err
	}
	return &Controller{
		model:       m,
		data:        data,
		cfg:         cfg,
		params:      network.NewParamStore(m),
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		log:         cfg.Logger,
		classWeight: weights,
	}, nil
}

// BalanceClassWeights rescales weights by 1/min so the smallest is 1.
func BalanceClassWeights(weights []float64) ([]float64, error) {
	if len(weights) == 0 {
		return nil, nil
	}
	lowest := weights[0]
	for _, w := range weights[1:] {
		if w < lowest {
			lowest = w
		}
	}
	if lowest <= 0 {
		return nil, errors.Errorf("class weights must be > 0, got %v", weights)
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / lowest
	}
	return out, nil
}

// Train runs every fold of the configured mode and aggregates the results.
// Between cv and loso folds all weights are shuffled in place; the model is
// left untouched after the last fold.
func (c *Controller) Train(ctx context.Context) (model.AggregateResult, error) {
	started := time.Now()
	run := newRunState()
	meta := c.data.Meta()

	switch c.cfg.Mode {
	case model.ModeSingleFold:
		split, err := c.data.Default(ctx)
		if err != nil {
			return model.AggregateResult{}, errors.Wrap(err, "build default split")
		}
		if err := c.runFold(ctx, 0, split, run); err != nil {
			return model.AggregateResult{}, err
		}
	case model.ModeCV:
		for j := 0; j < meta.Folds; j++ {
			split, err := c.data.Fold(ctx, j)
			if err != nil {
				return model.AggregateResult{}, errors.Wrapf(err, "build fold %d", j)
			}
			if err := c.runFold(ctx, j, split, run); err != nil {
				return model.AggregateResult{}, err
			}
			if j < meta.Folds-1 {
				if err := c.params.Shuffle(c.rng); err != nil {
					return model.AggregateResult{}, errors.Wrapf(err, "shuffle after fold %d", j)
				}
			}
		}
	case model.ModeLOSO:
		subjects := c.data.Subjects()
		if len(subjects) < 2 {
			return model.AggregateResult{}, errors.Errorf("loso needs at least 2 subjects, got %d", len(subjects))
		}
		for j, subject := range subjects {
			split, err := c.data.LeaveSubjectOut(ctx, subject)
			if err != nil {
				return model.AggregateResult{}, errors.Wrapf(err, "hold out subject %d", subject)
			}
			if err := c.runFold(ctx, j, split, run); err != nil {
				return model.AggregateResult{}, err
			}
			if j < len(subjects)-1 {
				if err := c.params.Shuffle(c.rng); err != nil {
					return model.AggregateResult{}, errors.Wrapf(err, "shuffle after subject %d", subject)
				}
			}
		}
	}

	result := c.aggregate(run)
	result.Log["train_time"] = time.Since(started).Seconds()
	c.log.Printf("%s run %s finished: loss %.4f±%.4f %s %.4f±%.4f",
		c.cfg.Mode, result.RunID, result.Summary.LossMean, result.Summary.LossStd,
		c.model.Objective().MetricName(), result.Summary.MetricMean, result.Summary.MetricStd)
	return result, nil
}

func (c *Controller) runFold(ctx context.Context, index int, split dataset.Split, run *runState) error {
	if split.Train == nil || split.Val == nil {
		return errors.Wrapf(ErrNoDataset, "fold %d has no train or validation data", index)
	}
	es := NewEarlyStopping(c.cfg.Patience, c.cfg.MinDelta)
	fold := model.FoldResult{Fold: index}
	for epoch := 0; epoch < c.cfg.Epochs; epoch++ {
		trainLoss, err := c.model.FitEpoch(ctx, split.Train, c.cfg.StepsPerEpoch, c.classWeight)
		if err != nil {
			return errors.Wrapf(err, "fold %d epoch %d", index, epoch)
		}
		eval, err := c.model.Evaluate(ctx, split.Val, c.cfg.ValidationSteps)
		if err != nil {
			return errors.Wrapf(err, "fold %d epoch %d validation", index, epoch)
		}
		fold.Epochs = epoch + 1
		if c.cfg.OnEpoch != nil {
			c.cfg.OnEpoch(EpochReport{Fold: index, Epoch: epoch, TrainLoss: trainLoss, ValLoss: eval.Loss, ValMetric: eval.Metric})
		}
		if es.Observe(epoch, eval.Loss, c.params) {
			fold.StoppedAt = epoch + 1
			best, loss := es.Best()
			c.log.Printf("fold %d: early stop at epoch %d, restoring epoch %d (val loss %.4f)", index, epoch+1, best+1, loss)
			if err := es.RestoreBest(c.params); err != nil {
				return errors.Wrapf(err, "fold %d restore best weights", index)
			}
			break
		}
	}

	cv, err := c.model.Evaluate(ctx, split.Val, c.cfg.ValidationSteps)
	if err != nil {
		return errors.Wrapf(err, "fold %d evaluate", index)
	}
	fold.CVLoss, fold.CVMetric = cv.Loss, cv.Metric
	held := split.Val
	fold.Loss, fold.Metric = cv.Loss, cv.Metric
	if split.Test != nil {
		held = split.Test
		test, err := c.model.Evaluate(ctx, held, c.cfg.ValidationSteps)
		if err != nil {
			return errors.Wrapf(err, "fold %d evaluate held-out subject", index)
		}
		fold.Loss, fold.Metric = test.Loss, test.Metric
	}

	batch, err := patterns.Draw(held)
	if err != nil {
		return errors.Wrapf(err, "fold %d", index)
	}
	pred, err := c.model.Predict(ctx, batch.X)
	if err != nil {
		return errors.Wrapf(err, "fold %d predict", index)
	}
	cm, rs, err := c.model.Objective().FoldStats(pred, batch.Y)
	if err != nil {
		return errors.Wrapf(err, "fold %d statistics", index)
	}
	if cm != nil {
		fold.Confusion = stats.DenseRows(cm)
		if run.confusion, err = stats.AccumulateConfusion(run.confusion, cm); err != nil {
			return err
		}
	}
	if rs != nil {
		fold.Regression = rs
		run.regression = append(run.regression, *rs)
	}

	if c.cfg.CollectPatterns {
		top, err := c.collectPatterns(ctx, index, batch, run)
		if err != nil {
			return errors.Wrapf(err, "fold %d patterns", index)
		}
		fold.TopComponents = top
	}

	c.log.Printf("fold %d: loss %.4f %s %.4f (internal val loss %.4f) after %d epochs",
		index, fold.Loss, c.model.Objective().MetricName(), fold.Metric, fold.CVLoss, fold.Epochs)
	run.folds = append(run.folds, fold)
	return nil
}

// stackSources pairs a ranking heuristic with the stacks its top components feed.
var stackSources = []struct {
	mode     patterns.SortMode
	patterns string
	filters  string
}{
	{patterns.SortWeight, model.StackPatternsWeight, model.StackFiltersWeight},
	{patterns.SortCompwiseLoss, model.StackPatternsCompwise, model.StackFiltersCompwise},
}

func (c *Controller) collectPatterns(ctx context.Context, index int, batch dataset.Batch, run *runState) (map[string][][]int, error) {
	im, ok := c.model.(network.Interpretable)
	if !ok {
		return nil, errors.New("model does not expose interpretable layers")
	}
	res, err := patterns.Compute(ctx, im, batch, patterns.Options{Output: c.cfg.PatternOutput})
	if err != nil {
		return nil, err
	}
	combined, err := patterns.CombinedPattern(res, 0)
	if err != nil {
		return nil, err
	}
	run.add(model.StackPatterns, combined.Topo)
	run.add(model.StackFilters, combined.Spectra)
	run.add(model.StackPSDs, combined.PSD)
	run.freqs = combined.Freqs

	top := make(map[string][][]int)
	for _, src := range stackSources {
		ranking, err := patterns.Rank(res, src.mode, c.cfg.NComp)
		if err != nil {
			return nil, err
		}
		selected, err := patterns.Select(res, ranking)
		if err != nil {
			return nil, err
		}
		run.add(src.patterns, selected.Topo)
		run.add(src.filters, selected.Spectra)
		top[string(src.mode)] = ranking.Order
	}
	for _, name := range c.cfg.SortModes {
		mode, err := patterns.ParseSortMode(name)
		if err != nil {
			c.log.Printf("fold %d: %v; skipping", index, err)
			continue
		}
		if _, done := top[string(mode)]; done {
			continue
		}
		ranking, err := patterns.Rank(res, mode, c.cfg.NComp)
		if err != nil {
			c.log.Printf("fold %d: %v; skipping", index, err)
			continue
		}
		top[string(mode)] = ranking.Order
	}
	return top, nil
}

func (c *Controller) aggregate(run *runState) model.AggregateResult {
	spec := c.model.Spec()
	meta := c.model.Meta()
	result := model.AggregateResult{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:     uuid.NewString(),
		Scope:     spec.Scope,
		DataID:    meta.DataID,
		Mode:      c.cfg.Mode,
		Folds:     run.folds,
		Summary:   run.summary(),
		Stacks:    run.stacked(),
		Freqs:     run.freqs,
		Specs:     spec.AsMap(),
		Meta:      meta.AsMap(),
	}
	if run.confusion != nil {
		result.Confusion = stats.DenseRows(run.confusion)
	}

	s := result.Summary
	logRow := map[string]any{
		"mode":           string(c.cfg.Mode),
		"n_folds":        len(run.folds),
		"epochs":         c.cfg.Epochs,
		"patience":       c.cfg.Patience,
		"min_delta":      c.cfg.MinDelta,
		"metric":         c.model.Objective().MetricName(),
		"loss_mean":      s.LossMean,
		"loss_std":       s.LossStd,
		"metric_mean":    s.MetricMean,
		"metric_std":     s.MetricStd,
		"cv_loss_mean":   s.CVLossMean,
		"cv_loss_std":    s.CVLossStd,
		"cv_metric_mean": s.CVMetricMean,
		"cv_metric_std":  s.CVMetricStd,
	}
	for k, v := range s.Regression {
		logRow[k] = v
	}
	result.Log = logRow
	return result
}

// Evaluate scores the model on src without regularization.
func (c *Controller) Evaluate(ctx context.Context, src dataset.Source) (network.Evaluation, error) {
	if src == nil {
		return network.Evaluation{}, ErrNoDataset
	}
	return c.model.Evaluate(ctx, src, c.cfg.ValidationSteps)
}

// Predict checks that x matches the model input before running it.
func (c *Controller) Predict(ctx context.Context, x *ndarray.Array4) (*mat.Dense, error) {
	meta := c.model.Meta()
	if x == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil input")
	}
	if x.Shape[1] != meta.NSeq || x.Shape[2] != meta.NT || x.Shape[3] != meta.NCh {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected (n_seq, n_t, n_ch) = (%d, %d, %d), got (%d, %d, %d)",
			meta.NSeq, meta.NT, meta.NCh, x.Shape[1], x.Shape[2], x.Shape[3])
	}
	return c.model.Predict(ctx, x)
}

// PredictTrial predicts one trial shaped [n_seq, n_t, n_ch].
func (c *Controller) PredictTrial(ctx context.Context, trial *ndarray.Array3) (*mat.Dense, error) {
	meta := c.model.Meta()
	if trial == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil trial")
	}
	if trial.Shape[1] != meta.NT || trial.Shape[2] != meta.NCh {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected (n_t, n_ch) = (%d, %d), got (%d, %d)",
			meta.NT, meta.NCh, trial.Shape[1], trial.Shape[2])
	}
	x := &ndarray.Array4{Shape: [4]int{1, trial.Shape[0], trial.Shape[1], trial.Shape[2]}, Data: trial.Data}
	return c.Predict(ctx, x)
}

type runState struct {
	folds      []model.FoldResult
	confusion  *mat.Dense
	regression []model.RegressionStats
	stacks     map[string][]*mat.Dense
	order      []string
	freqs      []float64
}

func newRunState() *runState {
	return &runState{stacks: make(map[string][]*mat.Dense)}
}

func (r *runState) add(name string, m *mat.Dense) {
	if _, ok := r.stacks[name]; !ok {
		r.order = append(r.order, name)
	}
	r.stacks[name] = append(r.stacks[name], m)
}

// stacked lays every per-fold [rows, units] matrix along a trailing fold axis.
func (r *runState) stacked() map[string]*ndarray.Array3 {
	if len(r.order) == 0 {
		return nil
	}
	out := make(map[string]*ndarray.Array3, len(r.order))
	for _, name := range r.order {
		mats := r.stacks[name]
		rows, units := mats[0].Dims()
		stack := ndarray.NewArray3(rows, units, len(mats))
		for f, m := range mats {
			for i := 0; i < rows; i++ {
				for j := 0; j < units; j++ {
					stack.Set(i, j, f, m.At(i, j))
				}
			}
		}
		out[name] = stack
	}
	return out
}

func (r *runState) summary() model.Summary {
	var losses, metrics, cvLosses, cvMetrics []float64
	for _, f := range r.folds {
		losses = append(losses, f.Loss)
		metrics = append(metrics, f.Metric)
		cvLosses = append(cvLosses, f.CVLoss)
		cvMetrics = append(cvMetrics, f.CVMetric)
	}
	var s model.Summary
	s.LossMean, s.LossStd = stats.MeanStd(losses)
	s.MetricMean, s.MetricStd = stats.MeanStd(metrics)
	s.CVLossMean, s.CVLossStd = stats.MeanStd(cvLosses)
	s.CVMetricMean, s.CVMetricStd = stats.MeanStd(cvMetrics)
	s.Regression = stats.AverageRegression(r.regression)
	return s
}
