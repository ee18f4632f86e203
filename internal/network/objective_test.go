package network

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/model"
)

func TestObjectiveFor(t *testing.T) {
	cases := map[model.TargetType]bool{
		model.TargetInt:    true,
		model.TargetFloat:  false,
		model.TargetSignal: false,
	}
	for target, discrete := range cases {
		obj, err := ObjectiveFor(target)
		if err != nil {
			t.Fatalf("objective for %s: %v", target, err)
		}
		if obj.Discrete() != discrete {
			t.Fatalf("%s: discrete=%t want %t", target, obj.Discrete(), discrete)
		}
	}
	if _, err := ObjectiveFor("ordinal"); err == nil {
		t.Fatal("expected unsupported target error")
	}
}

func TestClassificationLossAndGradient(t *testing.T) {
	obj := Classification{}
	logits := mat.NewDense(2, 3, nil)
	y := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 0, 1})
	if got := obj.Loss(logits, y, nil); math.Abs(got-math.Log(3)) > 1e-12 {
		t.Fatalf("uniform logits loss: got=%f want=%f", got, math.Log(3))
	}
	weighted := obj.Loss(logits, y, []float64{2, 1, 1})
	if math.Abs(weighted-1.5*math.Log(3)) > 1e-12 {
		t.Fatalf("class weighted loss: got=%f want=%f", weighted, 1.5*math.Log(3))
	}

	logits = mat.NewDense(2, 3, []float64{0.2, -1, 0.5, 1.5, 0.1, -0.3})
	grad := obj.Gradient(logits, y, nil)
	const h = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			up := mat.DenseCopyOf(logits)
			up.Set(i, j, up.At(i, j)+h)
			down := mat.DenseCopyOf(logits)
			down.Set(i, j, down.At(i, j)-h)
			numeric := (obj.Loss(up, y, nil) - obj.Loss(down, y, nil)) / (2 * h)
			if math.Abs(numeric-grad.At(i, j)) > 1e-6 {
				t.Fatalf("grad[%d,%d]: analytic=%f numeric=%f", i, j, grad.At(i, j), numeric)
			}
		}
	}

	pred := obj.Output(logits)
	if got := obj.Metric(pred, y); got != 0 {
		t.Fatalf("accuracy: got=%f want=0", got)
	}
}

func TestClassificationFeatureRelevance(t *testing.T) {
	y := mat.NewDense(4, 2, []float64{1, 0, 0, 1, 1, 0, 0, 1})
	features := mat.NewDense(4, 3, []float64{
		2, 0, 1,
		0, 3, 1,
		2, 0, 1,
		0, 3, 1,
	})
	rel, err := Classification{}.FeatureRelevance(features, y)
	if err != nil {
		t.Fatalf("relevance: %v", err)
	}
	if r, c := rel.Dims(); r != 3 || c != 2 {
		t.Fatalf("unexpected relevance shape %dx%d", r, c)
	}
	if math.Abs(rel.At(0, 0)-2) > 1e-12 || math.Abs(rel.At(0, 1)) > 1e-12 {
		t.Fatalf("feature 0: got %f/%f want 2/0", rel.At(0, 0), rel.At(0, 1))
	}
	if math.Abs(rel.At(2, 0)-1) > 1e-12 {
		t.Fatalf("constant feature: got %f want 1", rel.At(2, 0))
	}
}

func TestRegressionFeatureRelevanceScrubsNaN(t *testing.T) {
	y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	features := mat.NewDense(4, 2, []float64{
		10, 5,
		20, 5,
		40, 5,
		80, 5,
	})
	rel, err := Regression{}.FeatureRelevance(features, y)
	if err != nil {
		t.Fatalf("relevance: %v", err)
	}
	if math.Abs(rel.At(0, 0)-1) > 1e-12 {
		t.Fatalf("monotonic feature: got %f want 1", rel.At(0, 0))
	}
	if rel.At(1, 0) != 0 {
		t.Fatalf("constant feature should scrub to 0, got %f", rel.At(1, 0))
	}
}

func TestRegressionLossMetricAndStats(t *testing.T) {
	obj := Regression{}
	y := mat.NewDense(3, 1, []float64{1, 2, 4})
	pred := mat.NewDense(3, 1, []float64{1, 3, 2})
	if got := obj.Loss(pred, y, nil); math.Abs(got-1) > 1e-12 {
		t.Fatalf("mae loss: got=%f want=1", got)
	}
	if got := obj.Metric(pred, y); math.Abs(got-1) > 1e-12 {
		t.Fatalf("mae: got=%f want=1", got)
	}
	cm, rs, err := obj.FoldStats(y, y)
	if err != nil {
		t.Fatalf("fold stats: %v", err)
	}
	if cm != nil || rs == nil {
		t.Fatalf("expected regression stats only, got cm=%v rs=%v", cm, rs)
	}
	if math.Abs(rs.CC-1) > 1e-9 || math.Abs(rs.R2-1) > 1e-9 {
		t.Fatalf("perfect prediction: cc=%f r2=%f", rs.CC, rs.R2)
	}
}

func TestRegressionGradientMatchesMAE(t *testing.T) {
	obj := Regression{}
	y := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	logits := mat.NewDense(2, 2, []float64{1.5, 1, 3.25, 2})
	grad := obj.Gradient(logits, y, nil)
	const h = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			orig := logits.At(i, j)
			logits.Set(i, j, orig+h)
			up := obj.Loss(logits, y, nil)
			logits.Set(i, j, orig-h)
			down := obj.Loss(logits, y, nil)
			logits.Set(i, j, orig)
			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-grad.At(i, j)) > 1e-6 {
				t.Fatalf("grad[%d,%d]: analytic=%g numeric=%g", i, j, grad.At(i, j), numeric)
			}
		}
	}
	if grad.At(0, 0) != 0.25 || grad.At(0, 1) != -0.25 {
		t.Fatalf("expected sign(d)/4 entries, got %v", mat.Formatted(grad))
	}
}
