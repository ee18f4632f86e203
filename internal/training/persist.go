package training

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"neurodecode/internal/model"
	"neurodecode/internal/stats"
	"neurodecode/internal/storage"
)

// LogRow flattens specs, dataset metadata and run log into one run-log row.
// Later maps win on key collisions. Regression columns are always present,
// blank for classification runs.
func LogRow(result model.AggregateResult, at time.Time) map[string]any {
	regression := stats.RegressionLogKeys()
	row := make(map[string]any, len(result.Specs)+len(result.Meta)+len(result.Log)+len(regression)+2)
	for _, key := range regression {
		row[key] = nil
	}
	for _, part := range []map[string]any{result.Specs, result.Meta, result.Log} {
		for k, v := range part {
			row[k] = v
		}
	}
	row["run_id"] = result.RunID
	row["timestamp"] = stats.FormatTimestamp(at)
	return row
}

// UpdateLog appends the run to <model_path>/<scope>_log.csv and returns the path.
func UpdateLog(modelPath string, result model.AggregateResult) (string, error) {
	if modelPath == "" {
		return "", ErrMissingModelPath
	}
	path := stats.RunLogPath(modelPath, result.Scope)
	if err := stats.AppendRunLog(path, LogRow(result, time.Now())); err != nil {
		return "", errors.Wrap(err, "update run log")
	}
	return path, nil
}

func Save(ctx context.Context, store storage.Store, result model.AggregateResult) error {
	if store == nil {
		return errors.New("store is required")
	}
	return store.SaveResult(ctx, result)
}

// Restore loads the aggregate saved for scope and dataID.
func Restore(ctx context.Context, store storage.Store, scope, dataID string) (model.AggregateResult, error) {
	if store == nil {
		return model.AggregateResult{}, errors.New("store is required")
	}
	key := model.ResultKey(scope, dataID)
	result, ok, err := store.GetResult(ctx, key)
	if err != nil {
		return model.AggregateResult{}, err
	}
	if !ok {
		return model.AggregateResult{}, errors.Errorf("no saved result for %s", key)
	}
	return result, nil
}
