package dataset

import (
	"context"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

type Options struct {
	Folds      int
	TrainBatch int
	Seed       int64
}

// InMemory keeps every trial resident. Trial i belongs to cross-validation fold
// i % folds; subjects are only used for leave-one-subject-out splits.
type InMemory struct {
	meta     model.DatasetMeta
	x        *ndarray.Array4
	y        *mat.Dense
	subjects []int
	folds    int
	batch    int
	seed     int64
}

func NewInMemory(meta model.DatasetMeta, x *ndarray.Array4, y *mat.Dense, subjects []int, opts Options) (*InMemory, error) {
	if x == nil || y == nil {
		return nil, errors.New("inputs and targets are required")
	}
	n := x.Shape[0]
	if r, _ := y.Dims(); r != n {
		return nil, errors.Errorf("%d targets for %d trials", r, n)
	}
	if subjects == nil {
		subjects = make([]int, n)
	}
	if len(subjects) != n {
		return nil, errors.Errorf("%d subject ids for %d trials", len(subjects), n)
	}
	if opts.Folds <= 1 {
		opts.Folds = 5
	}
	if opts.Folds > n {
		return nil, errors.Errorf("%d folds requested for %d trials", opts.Folds, n)
	}
	if opts.TrainBatch <= 0 {
		opts.TrainBatch = 100
	}

	_, out := y.Dims()
	meta.NSeq, meta.NT, meta.NCh = x.Shape[1], x.Shape[2], x.Shape[3]
	if meta.OutDim() != out {
		meta.YShape = []int{out}
	}
	meta.Folds = opts.Folds
	meta.TrainBatch = opts.TrainBatch
	meta.Subjects = len(uniqueInts(subjects))
	meta.ValSize = countFold(n, opts.Folds, 0)
	meta.TrainSize = n - meta.ValSize
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	return &InMemory{
		meta:     meta,
		x:        x,
		y:        y,
		subjects: subjects,
		folds:    opts.Folds,
		batch:    opts.TrainBatch,
		seed:     opts.Seed,
	}, nil
}

func (d *InMemory) Meta() model.DatasetMeta {
	return d.meta
}

func (d *InMemory) Subjects() []int {
	return uniqueInts(d.subjects)
}

func (d *InMemory) Default(ctx context.Context) (Split, error) {
	return d.Fold(ctx, 0)
}

func (d *InMemory) Fold(ctx context.Context, fold int) (Split, error) {
	if err := ctx.Err(); err != nil {
		return Split{}, err
	}
	if fold < 0 || fold >= d.folds {
		return Split{}, errors.Errorf("fold %d out of range [0, %d)", fold, d.folds)
	}
	all := make([]int, d.x.Shape[0])
	for i := range all {
		all[i] = i
	}
	train, val := partition(all, d.folds, fold)
	return Split{
		Train: d.source(train, d.batch, int64(fold)),
		Val:   d.source(val, len(val), int64(fold)),
	}, nil
}

// LeaveSubjectOut holds out every trial of one subject as Test and uses fold 0
// of the remaining trials as Val.
func (d *InMemory) LeaveSubjectOut(ctx context.Context, subject int) (Split, error) {
	if err := ctx.Err(); err != nil {
		return Split{}, err
	}
	var rest, held []int
	for i, s := range d.subjects {
		if s == subject {
			held = append(held, i)
		} else {
			rest = append(rest, i)
		}
	}
	if len(held) == 0 {
		return Split{}, errors.Errorf("subject %d has no trials", subject)
	}
	if len(rest) < d.folds {
		return Split{}, errors.Errorf("subject %d leaves %d trials for %d folds", subject, len(rest), d.folds)
	}
	train, val := partition(rest, d.folds, 0)
	seed := int64(1000 + subject)
	return Split{
		Train: d.source(train, d.batch, seed),
		Val:   d.source(val, len(val), seed),
		Test:  d.source(held, len(held), seed),
	}, nil
}

func (d *InMemory) source(idx []int, batch int, salt int64) *sliceSource {
	if batch > len(idx) {
		batch = len(idx)
	}
	return &sliceSource{
		data:  d,
		idx:   idx,
		batch: batch,
		rng:   rand.New(rand.NewSource(d.seed + salt)),
	}
}

// partition splits positions p of idx into validation (p % folds == fold) and training.
func partition(idx []int, folds, fold int) (train, val []int) {
	for p, i := range idx {
		if p%folds == fold {
			val = append(val, i)
		} else {
			train = append(train, i)
		}
	}
	return train, val
}

func countFold(n, folds, fold int) int {
	c := 0
	for p := 0; p < n; p++ {
		if p%folds == fold {
			c++
		}
	}
	return c
}

func uniqueInts(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

type sliceSource struct {
	data  *InMemory
	idx   []int
	order []int
	pos   int
	batch int
	rng   *rand.Rand
}

func (s *sliceSource) Size() int {
	return len(s.idx)
}

func (s *sliceSource) Steps() int {
	if s.batch == 0 {
		return 0
	}
	return (len(s.idx) + s.batch - 1) / s.batch
}

// Next returns the next batch. Full-size sources keep trial order so that a
// validation draw is stable; smaller batches are drawn from a reshuffled pass.
func (s *sliceSource) Next() (Batch, error) {
	if len(s.idx) == 0 {
		return Batch{}, errors.New("empty source")
	}
	if s.batch >= len(s.idx) {
		return s.take(s.idx), nil
	}
	if s.order == nil || s.pos >= len(s.order) {
		s.order = make([]int, len(s.idx))
		copy(s.order, s.idx)
		s.rng.Shuffle(len(s.order), func(i, j int) { s.order[i], s.order[j] = s.order[j], s.order[i] })
		s.pos = 0
	}
	end := s.pos + s.batch
	if end > len(s.order) {
		end = len(s.order)
	}
	batch := s.take(s.order[s.pos:end])
	s.pos = end
	return batch, nil
}

func (s *sliceSource) take(idx []int) Batch {
	_, out := s.data.y.Dims()
	y := mat.NewDense(len(idx), out, nil)
	for i, src := range idx {
		y.SetRow(i, s.data.y.RawRowView(src))
	}
	return Batch{X: s.data.x.Take(idx), Y: y}
}
