package network

import (
	"math/rand"
	"sort"
	"testing"
)

type countingModel struct {
	params []Param
	sets   int
}

func (m *countingModel) Weights() []Param { return CloneParams(m.params) }

func (m *countingModel) SetWeights(params []Param) error {
	m.sets++
	m.params = CloneParams(params)
	return nil
}

func TestParamStoreShufflePermutesEachParameter(t *testing.T) {
	m := &countingModel{params: []Param{
		{Name: "a", Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, 6}},
		{Name: "b", Shape: []int{2}, Data: []float64{-1, 7}},
	}}
	store := NewParamStore(m)
	before := store.Snapshot()

	if err := store.Shuffle(rand.New(rand.NewSource(3))); err != nil {
		t.Fatalf("shuffle: %v", err)
	}
	if m.sets != 1 {
		t.Fatalf("expected one SetWeights call per shuffle, got %d", m.sets)
	}
	after := m.Weights()
	for i, p := range before.Params() {
		if len(after[i].Shape) != len(p.Shape) || after[i].Shape[0] != p.Shape[0] {
			t.Fatalf("shape changed for %s: %v -> %v", p.Name, p.Shape, after[i].Shape)
		}
		want := append([]float64(nil), p.Data...)
		got := append([]float64(nil), after[i].Data...)
		sort.Float64s(want)
		sort.Float64s(got)
		for j := range want {
			if want[j] != got[j] {
				t.Fatalf("shuffle of %s is not a permutation: %v -> %v", p.Name, p.Data, after[i].Data)
			}
		}
	}

	if err := store.Restore(before); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !EqualParams(m.Weights(), before.Params()) {
		t.Fatal("restore did not reproduce the snapshot")
	}
}

func TestSnapshotIsIsolatedFromModel(t *testing.T) {
	m := &countingModel{params: []Param{{Name: "w", Shape: []int{2}, Data: []float64{1, 2}}}}
	store := NewParamStore(m)
	snap := store.Snapshot()
	m.params[0].Data[0] = 42
	if snap.Params()[0].Data[0] != 1 {
		t.Fatal("snapshot aliases model parameters")
	}
	if err := store.Restore(Snapshot{}); err == nil {
		t.Fatal("expected empty snapshot error")
	}
	if err := store.Shuffle(nil); err == nil {
		t.Fatal("expected nil rng error")
	}
}
