// Package ndarray holds the dense row-major 3-D and 4-D float64 arrays that
// carry EEG/MEG batches ([batch, seq, time, channels]) and per-fold stacks
// ([rows, units, folds]) between packages.
package ndarray

import (
	"github.com/pkg/errors"
)

type Array3 struct {
	Shape [3]int    `json:"shape"`
	Data  []float64 `json:"data"`
}

func NewArray3(d0, d1, d2 int) *Array3 {
	return &Array3{Shape: [3]int{d0, d1, d2}, Data: make([]float64, d0*d1*d2)}
}

func (a *Array3) Index(i, j, k int) int {
	return (i*a.Shape[1]+j)*a.Shape[2] + k
}

func (a *Array3) At(i, j, k int) float64 {
	return a.Data[a.Index(i, j, k)]
}

func (a *Array3) Set(i, j, k int, v float64) {
	a.Data[a.Index(i, j, k)] = v
}

func (a *Array3) Len() int {
	return a.Shape[0] * a.Shape[1] * a.Shape[2]
}

// Validate reports whether Data length agrees with Shape.
func (a *Array3) Validate() error {
	if a == nil {
		return errors.Errorf("nil array")
	}
	if len(a.Data) != a.Len() {
		return errors.Errorf("array data length %d does not match shape %v", len(a.Data), a.Shape)
	}
	return nil
}

func (a *Array3) Clone() *Array3 {
	if a == nil {
		return nil
	}
	out := &Array3{Shape: a.Shape, Data: make([]float64, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}

// Reshape3 reinterprets flat row-major data as [d0, d1, d2]. A d0 of -1 is inferred.
func Reshape3(flat []float64, d0, d1, d2 int) (*Array3, error) {
	if d1 <= 0 || d2 <= 0 {
		return nil, errors.Errorf("invalid trailing dims %d x %d", d1, d2)
	}
	if d0 < 0 {
		if len(flat)%(d1*d2) != 0 {
			return nil, errors.Errorf("cannot reshape %d values into [-1, %d, %d]", len(flat), d1, d2)
		}
		d0 = len(flat) / (d1 * d2)
	}
	if d0*d1*d2 != len(flat) {
		return nil, errors.Errorf("cannot reshape %d values into [%d, %d, %d]", len(flat), d0, d1, d2)
	}
	data := make([]float64, len(flat))
	copy(data, flat)
	return &Array3{Shape: [3]int{d0, d1, d2}, Data: data}, nil
}

type Array4 struct {
	Shape [4]int    `json:"shape"`
	Data  []float64 `json:"data"`
}

func NewArray4(d0, d1, d2, d3 int) *Array4 {
	return &Array4{Shape: [4]int{d0, d1, d2, d3}, Data: make([]float64, d0*d1*d2*d3)}
}

func (a *Array4) Index(i, j, k, l int) int {
	return ((i*a.Shape[1]+j)*a.Shape[2]+k)*a.Shape[3] + l
}

func (a *Array4) At(i, j, k, l int) float64 {
	return a.Data[a.Index(i, j, k, l)]
}

func (a *Array4) Set(i, j, k, l int, v float64) {
	a.Data[a.Index(i, j, k, l)] = v
}

func (a *Array4) Len() int {
	return a.Shape[0] * a.Shape[1] * a.Shape[2] * a.Shape[3]
}

// SampleSize is the number of values in one entry along the leading axis.
func (a *Array4) SampleSize() int {
	return a.Shape[1] * a.Shape[2] * a.Shape[3]
}

// Sample returns a view of entry i along the leading axis.
func (a *Array4) Sample(i int) []float64 {
	n := a.SampleSize()
	return a.Data[i*n : (i+1)*n]
}

// Take copies the listed entries along the leading axis into a new array.
func (a *Array4) Take(idx []int) *Array4 {
	out := NewArray4(len(idx), a.Shape[1], a.Shape[2], a.Shape[3])
	n := a.SampleSize()
	for i, src := range idx {
		copy(out.Data[i*n:(i+1)*n], a.Sample(src))
	}
	return out
}

func (a *Array4) Clone() *Array4 {
	if a == nil {
		return nil
	}
	out := &Array4{Shape: a.Shape, Data: make([]float64, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}
