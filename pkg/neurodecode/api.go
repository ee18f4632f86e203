package neurodecode

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"neurodecode/internal/dataset"
	"neurodecode/internal/model"
	"neurodecode/internal/network"
	"neurodecode/internal/patterns"
	"neurodecode/internal/stats"
	"neurodecode/internal/storage"
	"neurodecode/internal/training"
)

const (
	defaultModelPath  = "models"
	defaultExportsDir = "exports"
	defaultDBPath     = "neurodecode.db"
	defaultScope      = "lfcnn"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ModelPath  string
	ExportsDir string
	Logger     *log.Logger
}

type Client struct {
	store      storage.Store
	modelPath  string
	exportsDir string
	logger     *log.Logger
}

// RunRequest trains the reference LF-CNN on a trial table when TablePath is
// set and on a synthetic recording otherwise. For synthetic data Classes == 0
// requests a regression target.
type RunRequest struct {
	Mode       string
	DataID     string
	TablePath  string
	Trials     int
	NSeq       int
	NT         int
	NCh        int
	FS         float64
	Classes    int
	Subjects   int
	Noise      float64
	Folds      int
	TrainBatch int

	Scope        string
	NLatent      int
	FilterLength int
	Pooling      int
	Stride       int
	PoolType     string
	Padding      string
	Nonlin       string
	L1           float64
	L2           float64
	Dropout      float64
	LearnRate    float64

	// Patience and MinDelta use the training defaults when zero; negative
	// values disable early stopping and the improvement threshold.
	Epochs        int
	StepsPerEpoch int
	Patience      int
	MinDelta      float64
	ClassWeight   []float64

	Patterns      bool
	PatternOutput string
	SortModes     []string
	NComp         int

	Seed    int64
	OnEpoch func(EpochProgress)
}

type EpochProgress struct {
	Fold      int
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	ValMetric float64
}

type FoldSummary struct {
	Fold          int
	Epochs        int
	StoppedAt     int
	Loss          float64
	Metric        float64
	CVLoss        float64
	CVMetric      float64
	TopComponents map[string][][]int
}

type RunSummary struct {
	RunID        string
	Key          string
	Scope        string
	DataID       string
	Mode         string
	MetricName   string
	Folds        []FoldSummary
	LossMean     float64
	LossStd      float64
	MetricMean   float64
	MetricStd    float64
	Regression   map[string]float64
	Confusion    [][]float64
	Stacks       map[string][3]int
	LogPath      string
	ArchiveBytes int
	Elapsed      time.Duration
}

type RunsRequest struct {
	Scope string
	Limit int
}

type RunItem struct {
	RunID      string
	Timestamp  string
	DataID     string
	Mode       string
	Metric     string
	LossMean   float64
	MetricMean float64
}

type ResultItem struct {
	Key   string
	RunID string
	Mode  string
	Folds int
	Bytes int
}

type ShowRequest struct {
	Scope  string
	DataID string
}

type ExportRequest struct {
	Scope  string
	DataID string
	OutDir string
}

type ExportSummary struct {
	Key       string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	modelPath := opts.ModelPath
	if modelPath == "" {
		modelPath = defaultModelPath
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	storePath := dbPath
	if storeKind == "file" {
		storePath = modelPath
	}
	store, err := storage.NewStore(storeKind, storePath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		modelPath:  modelPath,
		exportsDir: exportsDir,
		logger:     logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Run builds a dataset and model from req, trains every fold, appends the
// run log and saves the aggregate under <scope>_<data_id>.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	started := time.Now()
	if req.Mode == "" {
		req.Mode = string(model.ModeSingleFold)
	}
	if req.Mode == string(model.ModeLOSO) && req.TablePath == "" && req.Subjects < 2 {
		return RunSummary{}, errors.New("loso needs at least 2 subjects")
	}
	if err := c.store.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	data, err := loadDataset(req)
	if err != nil {
		return RunSummary{}, err
	}

	spec := model.ModelSpec{
		ModelPath:    c.modelPath,
		Scope:        req.Scope,
		NLatent:      req.NLatent,
		FilterLength: req.FilterLength,
		Pooling:      req.Pooling,
		Stride:       req.Stride,
		PoolType:     model.PoolType(req.PoolType),
		Padding:      model.Padding(req.Padding),
		Nonlin:       req.Nonlin,
		L1:           req.L1,
		L2:           req.L2,
		Dropout:      req.Dropout,
		LearnRate:    req.LearnRate,
		Seed:         req.Seed,
	}
	m, err := network.NewLFCNN(spec, data.Meta())
	if err != nil {
		return RunSummary{}, err
	}

	cfg := training.Config{
		Mode:            model.Mode(req.Mode),
		Epochs:          req.Epochs,
		StepsPerEpoch:   req.StepsPerEpoch,
		Patience:        req.Patience,
		MinDelta:        req.MinDelta,
		ClassWeight:     req.ClassWeight,
		CollectPatterns: req.Patterns,
		SortModes:       req.SortModes,
		NComp:           req.NComp,
		PatternOutput:   patterns.Output(req.PatternOutput),
		Seed:            req.Seed,
		Logger:          c.logger,
	}
	if req.OnEpoch != nil {
		cfg.OnEpoch = func(r training.EpochReport) {
			req.OnEpoch(EpochProgress(r))
		}
	}
	ctrl, err := training.New(m, data, cfg)
	if err != nil {
		return RunSummary{}, err
	}
	result, err := ctrl.Train(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	logPath, err := training.UpdateLog(c.modelPath, result)
	if err != nil {
		return RunSummary{}, err
	}
	if err := training.Save(ctx, c.store, result); err != nil {
		return RunSummary{}, err
	}

	summary := summarize(result)
	summary.LogPath = logPath
	summary.Elapsed = time.Since(started)
	if size, ok := c.archiveSize(ctx, result.Key()); ok {
		summary.ArchiveBytes = size
	}
	return summary, nil
}

func loadDataset(req RunRequest) (*dataset.InMemory, error) {
	if req.TablePath != "" {
		return dataset.ReadTableFile(req.TablePath, dataset.TableOptions{
			DataID:     req.DataID,
			NSeq:       req.NSeq,
			NT:         req.NT,
			NCh:        req.NCh,
			FS:         req.FS,
			Folds:      req.Folds,
			TrainBatch: req.TrainBatch,
			Seed:       req.Seed,
		})
	}
	if req.Trials <= 0 {
		req.Trials = 100
	}
	if req.NT <= 0 {
		req.NT = 100
	}
	if req.NCh <= 0 {
		req.NCh = 8
	}
	if req.Classes < 0 {
		return nil, errors.Errorf("classes must be >= 0, got %d", req.Classes)
	}
	return dataset.Synthetic(dataset.SyntheticConfig{
		DataID:     req.DataID,
		Trials:     req.Trials,
		NSeq:       req.NSeq,
		NT:         req.NT,
		NCh:        req.NCh,
		FS:         req.FS,
		Classes:    req.Classes,
		Subjects:   req.Subjects,
		Noise:      req.Noise,
		Folds:      req.Folds,
		TrainBatch: req.TrainBatch,
		Seed:       req.Seed,
	})
}

// Runs lists logged runs of one scope, newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Scope == "" {
		req.Scope = defaultScope
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	rows, err := stats.ReadRunLog(stats.RunLogPath(c.modelPath, req.Scope))
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(rows))
	for i := len(rows) - 1; i >= 0 && len(out) < req.Limit; i-- {
		row := rows[i]
		out = append(out, RunItem{
			RunID:      row["run_id"],
			Timestamp:  row["timestamp"],
			DataID:     row["data_id"],
			Mode:       row["mode"],
			Metric:     row["metric"],
			LossMean:   parseFloat(row["loss_mean"]),
			MetricMean: parseFloat(row["metric_mean"]),
		})
	}
	return out, nil
}

func (c *Client) Results(ctx context.Context) ([]ResultItem, error) {
	infos, err := c.store.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResultItem, 0, len(infos))
	for _, info := range infos {
		out = append(out, ResultItem{
			Key:   info.Key,
			RunID: info.RunID,
			Mode:  string(info.Mode),
			Folds: info.Folds,
			Bytes: info.Bytes,
		})
	}
	return out, nil
}

func (c *Client) Show(ctx context.Context, req ShowRequest) (RunSummary, error) {
	result, err := c.restore(ctx, req.Scope, req.DataID)
	if err != nil {
		return RunSummary{}, err
	}
	summary := summarize(result)
	if size, ok := c.archiveSize(ctx, result.Key()); ok {
		summary.ArchiveBytes = size
	}
	return summary, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	result, err := c.restore(ctx, req.Scope, req.DataID)
	if err != nil {
		return ExportSummary{}, err
	}
	dir, err := stats.ExportRunArtifacts(req.OutDir, result)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{Key: result.Key(), Directory: filepath.Clean(dir)}, nil
}

func (c *Client) restore(ctx context.Context, scope, dataID string) (model.AggregateResult, error) {
	if scope == "" {
		scope = defaultScope
	}
	if dataID == "" {
		return model.AggregateResult{}, errors.New("data id is required")
	}
	return training.Restore(ctx, c.store, scope, dataID)
}

func (c *Client) archiveSize(ctx context.Context, key string) (int, bool) {
	infos, err := c.store.ListResults(ctx)
	if err != nil {
		return 0, false
	}
	for _, info := range infos {
		if info.Key == key {
			return info.Bytes, true
		}
	}
	return 0, false
}

func summarize(result model.AggregateResult) RunSummary {
	s := result.Summary
	out := RunSummary{
		RunID:      result.RunID,
		Key:        result.Key(),
		Scope:      result.Scope,
		DataID:     result.DataID,
		Mode:       string(result.Mode),
		LossMean:   s.LossMean,
		LossStd:    s.LossStd,
		MetricMean: s.MetricMean,
		MetricStd:  s.MetricStd,
		Regression: s.Regression,
		Confusion:  result.Confusion,
	}
	if name, ok := result.Log["metric"].(string); ok {
		out.MetricName = name
	}
	for _, f := range result.Folds {
		out.Folds = append(out.Folds, FoldSummary{
			Fold:          f.Fold,
			Epochs:        f.Epochs,
			StoppedAt:     f.StoppedAt,
			Loss:          f.Loss,
			Metric:        f.Metric,
			CVLoss:        f.CVLoss,
			CVMetric:      f.CVMetric,
			TopComponents: f.TopComponents,
		})
	}
	if len(result.Stacks) > 0 {
		out.Stacks = make(map[string][3]int, len(result.Stacks))
		for name, stack := range result.Stacks {
			out.Stacks[name] = stack.Shape
		}
	}
	return out
}

// StackNames returns the stack names of a summary in a stable order.
func (s RunSummary) StackNames() []string {
	names := make([]string, 0, len(s.Stacks))
	for name := range s.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
