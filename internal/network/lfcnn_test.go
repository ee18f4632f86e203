package network

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/dataset"
	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

func testMeta(target model.TargetType, out int) model.DatasetMeta {
	return model.DatasetMeta{
		DataID:     "unit",
		NSeq:       2,
		NT:         9,
		NCh:        3,
		FS:         100,
		TargetType: target,
		YShape:     []int{out},
	}
}

func randomBatch(m *LFCNN, n int) (*ndarray.Array4, *mat.Dense) {
	x := ndarray.NewArray4(n, m.nSeq, m.nT, m.nCh)
	for i := range x.Data {
		x.Data[i] = m.rng.NormFloat64()
	}
	y := mat.NewDense(n, m.out, nil)
	for i := 0; i < n; i++ {
		y.Set(i, i%m.out, 1)
	}
	return x, y
}

func TestLFCNNShapes(t *testing.T) {
	cases := []struct {
		padding model.Padding
		pool    int
		stride  int
		bins    int
	}{
		{model.PaddingSame, 2, 2, 5},
		{model.PaddingSame, 3, 2, 5},
		{model.PaddingValid, 2, 2, 3},
		{model.PaddingValid, 3, 1, 5},
	}
	for _, tc := range cases {
		spec := model.ModelSpec{ModelPath: "out", NLatent: 4, FilterLength: 3, Pooling: tc.pool, Stride: tc.stride, Padding: tc.padding}
		m, err := NewLFCNN(spec, testMeta(model.TargetInt, 2))
		if err != nil {
			t.Fatalf("new lfcnn %+v: %v", tc, err)
		}
		if m.TimeBins() != tc.bins {
			t.Fatalf("%s pool=%d stride=%d: bins=%d want %d", tc.padding, tc.pool, tc.stride, m.TimeBins(), tc.bins)
		}
		w, b := m.OutputLayer()
		if r, c := w.Dims(); r != 2*tc.bins*4 || c != 2 || len(b) != 2 {
			t.Fatalf("output layer %dx%d bias %d", r, c, len(b))
		}
		x, _ := randomBatch(m, 3)
		lat, err := m.LatentActivations(context.Background(), x)
		if err != nil {
			t.Fatalf("latent activations: %v", err)
		}
		if lat.Shape != [3]int{3, 2 * tc.bins, 4} {
			t.Fatalf("latent shape %v", lat.Shape)
		}
	}
}

func TestLFCNNOutputLayerRoundTrip(t *testing.T) {
	m, err := NewLFCNN(model.ModelSpec{ModelPath: "out", NLatent: 3, FilterLength: 3}, testMeta(model.TargetInt, 2))
	if err != nil {
		t.Fatalf("new lfcnn: %v", err)
	}
	before := m.Weights()
	w, b := m.OutputLayer()
	flat, err := ndarray.Reshape3(w.RawMatrix().Data, -1, 3, 2)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if flat.Shape != [3]int{2 * m.TimeBins(), 3, 2} {
		t.Fatalf("out_weights shape %v", flat.Shape)
	}
	if err := m.SetOutputLayer(mat.NewDense(flat.Shape[0]*3, 2, flat.Data), b); err != nil {
		t.Fatalf("set output layer: %v", err)
	}
	if !EqualParams(before, m.Weights()) {
		t.Fatal("output layer round trip changed weights")
	}
	if err := m.SetOutputLayer(mat.NewDense(2, 2, nil), b); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestLFCNNGradientMatchesFiniteDifference(t *testing.T) {
	for _, pool := range []model.PoolType{model.PoolAvg, model.PoolMax} {
		spec := model.ModelSpec{
			ModelPath:    "out",
			NLatent:      2,
			FilterLength: 3,
			Pooling:      2,
			Stride:       2,
			PoolType:     pool,
			Nonlin:       "tanh",
			Seed:         7,
		}
		m, err := NewLFCNN(spec, testMeta(model.TargetInt, 3))
		if err != nil {
			t.Fatalf("new lfcnn: %v", err)
		}
		x, y := randomBatch(m, 4)
		lossAt := func() float64 {
			return m.obj.Loss(m.forward(x, false).logits, y, nil)
		}
		tr := m.forward(x, false)
		grads := m.backward(x, tr, m.obj.Gradient(tr.logits, y, nil))

		const h = 1e-6
		for pi, p := range m.params {
			for j := 0; j < len(p.data); j += 3 {
				orig := p.data[j]
				p.data[j] = orig + h
				up := lossAt()
				p.data[j] = orig - h
				down := lossAt()
				p.data[j] = orig
				numeric := (up - down) / (2 * h)
				if math.Abs(numeric-grads[pi][j]) > 1e-5*math.Max(1, math.Abs(numeric)) {
					t.Fatalf("%s pool %s[%d]: analytic=%g numeric=%g", pool, p.name, j, grads[pi][j], numeric)
				}
			}
		}
	}
}

func TestLFCNNFitReducesLoss(t *testing.T) {
	data, err := dataset.Synthetic(dataset.SyntheticConfig{
		Trials: 40, NT: 40, NCh: 4, Classes: 2, Noise: 0.1, Folds: 4, TrainBatch: 10, Seed: 1,
	})
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	m, err := NewLFCNN(model.ModelSpec{ModelPath: "out", NLatent: 3, LearnRate: 0.01, Seed: 1}, data.Meta())
	if err != nil {
		t.Fatalf("new lfcnn: %v", err)
	}
	ctx := context.Background()
	split, err := data.Default(ctx)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	first, err := m.Evaluate(ctx, split.Train, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for epoch := 0; epoch < 40; epoch++ {
		if _, err := m.FitEpoch(ctx, split.Train, 0, nil); err != nil {
			t.Fatalf("fit epoch %d: %v", epoch, err)
		}
	}
	last, err := m.Evaluate(ctx, split.Train, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if last.Loss >= first.Loss {
		t.Fatalf("training did not reduce loss: %f -> %f", first.Loss, last.Loss)
	}
}

func TestLFCNNRejectsMismatchedInput(t *testing.T) {
	m, err := NewLFCNN(model.ModelSpec{ModelPath: "out", NLatent: 2}, testMeta(model.TargetFloat, 1))
	if err != nil {
		t.Fatalf("new lfcnn: %v", err)
	}
	if _, err := m.Predict(context.Background(), ndarray.NewArray4(1, 2, 8, 3)); err == nil {
		t.Fatal("expected input shape error")
	}
	if _, err := NewLFCNN(model.ModelSpec{NLatent: 2}, testMeta(model.TargetFloat, 1)); err == nil {
		t.Fatal("expected missing model_path error")
	}
}
