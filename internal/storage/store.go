package storage

import (
	"context"

	"neurodecode/internal/model"
)

// ResultInfo is the listing view of a persisted aggregate.
type ResultInfo struct {
	Key    string
	RunID  string
	Scope  string
	DataID string
	Mode   model.Mode
	Folds  int
	Bytes  int
}

// Store persists one AggregateResult per "<scope>_<data_id>" key; saving the
// same key again replaces the earlier run.
type Store interface {
	Init(ctx context.Context) error
	SaveResult(ctx context.Context, result model.AggregateResult) error
	GetResult(ctx context.Context, key string) (model.AggregateResult, bool, error)
	ListResults(ctx context.Context) ([]ResultInfo, error)
}

func infoFor(result model.AggregateResult, size int) ResultInfo {
	return ResultInfo{
		Key:    result.Key(),
		RunID:  result.RunID,
		Scope:  result.Scope,
		DataID: result.DataID,
		Mode:   result.Mode,
		Folds:  len(result.Folds),
		Bytes:  size,
	}
}
