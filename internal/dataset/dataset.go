package dataset

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

// Batch is one draw of inputs [batch, seq, time, channels] and targets [batch, out].
type Batch struct {
	X *ndarray.Array4
	Y *mat.Dense
}

func (b Batch) Size() int {
	if b.X == nil {
		return 0
	}
	return b.X.Shape[0]
}

// Source yields batches indefinitely, reshuffling after each full pass.
type Source interface {
	Next() (Batch, error)
	Size() int
	Steps() int
}

// Split is one train/validation(/held-out) partition. Test is nil outside loso.
type Split struct {
	Train Source
	Val   Source
	Test  Source
}

type Dataset interface {
	Meta() model.DatasetMeta
	Default(ctx context.Context) (Split, error)
	Fold(ctx context.Context, fold int) (Split, error)
	LeaveSubjectOut(ctx context.Context, subject int) (Split, error)
	Subjects() []int
}
