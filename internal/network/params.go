package network

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Param is one named parameter tensor, flattened row-major.
type Param struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func (p Param) Clone() Param {
	shape := make([]int, len(p.Shape))
	copy(shape, p.Shape)
	data := make([]float64, len(p.Data))
	copy(data, p.Data)
	return Param{Name: p.Name, Shape: shape, Data: data}
}

func CloneParams(params []Param) []Param {
	out := make([]Param, len(params))
	for i, p := range params {
		out[i] = p.Clone()
	}
	return out
}

// EqualParams reports bit-identical names, shapes and values.
func EqualParams(a, b []Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || len(a[i].Shape) != len(b[i].Shape) || len(a[i].Data) != len(b[i].Data) {
			return false
		}
		for j := range a[i].Shape {
			if a[i].Shape[j] != b[i].Shape[j] {
				return false
			}
		}
		for j := range a[i].Data {
			if a[i].Data[j] != b[i].Data[j] {
				return false
			}
		}
	}
	return true
}

// Snapshot is an immutable copy of a model's parameters.
type Snapshot struct {
	params []Param
}

func (s Snapshot) Params() []Param {
	return CloneParams(s.params)
}

// ParamStore wraps the single mutable parameter set of a model with explicit
// snapshot, restore and shuffle operations.
type ParamStore struct {
	model Weighted
}

// Weighted is the parameter surface of a model.
type Weighted interface {
	Weights() []Param
	SetWeights(params []Param) error
}

func NewParamStore(m Weighted) *ParamStore {
	return &ParamStore{model: m}
}

func (s *ParamStore) Snapshot() Snapshot {
	return Snapshot{params: CloneParams(s.model.Weights())}
}

func (s *ParamStore) Restore(snap Snapshot) error {
	if len(snap.params) == 0 {
		return errors.New("restore: empty snapshot")
	}
	return s.model.SetWeights(snap.Params())
}

// Shuffle permutes the flattened values of every parameter independently and
// installs the result with a single SetWeights call.
func (s *ParamStore) Shuffle(rng *rand.Rand) error {
	if rng == nil {
		return errors.New("shuffle: random source is required")
	}
	params := CloneParams(s.model.Weights())
	for i := range params {
		params[i].Data = permute(rng, params[i].Data)
	}
	return s.model.SetWeights(params)
}

func permute(rng *rand.Rand, values []float64) []float64 {
	perm := rng.Perm(len(values))
	out := make([]float64, len(values))
	for i, j := range perm {
		out[i] = values[j]
	}
	return out
}
