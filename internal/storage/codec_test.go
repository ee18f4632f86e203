package storage

import (
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

func sampleResult() model.AggregateResult {
	stack := ndarray.NewArray3(4, 2, 3)
	for i := range stack.Data {
		stack.Data[i] = float64(i) / 7
	}
	return model.AggregateResult{
		RunID:  "run-1",
		Scope:  "lfcnn",
		DataID: "synthetic",
		Mode:   model.ModeCV,
		Folds: []model.FoldResult{
			{
				Fold: 0, Epochs: 5, StoppedAt: 3, Loss: 0.5, Metric: 0.75, CVLoss: 0.5, CVMetric: 0.75,
				Confusion:     [][]float64{{3, 1}, {0, 4}},
				TopComponents: map[string][][]int{"weight": {{2}, {0, 1}}},
			},
			{
				Fold: 1, Epochs: 5, Loss: math.NaN(), Metric: 0.5,
				Regression: &model.RegressionStats{CC: 0.9, R2: 0.8, Slope: 1.1, Bias: -0.2, PVE: 0.79},
			},
		},
		Summary: model.Summary{
			LossMean: 0.5, LossStd: 0.1, MetricMean: 0.6, MetricStd: 0.05,
			Regression: map[string]float64{"cc": 0.9, "cc_std": 0},
		},
		Stacks:    map[string]*ndarray.Array3{model.StackPatterns: stack},
		Freqs:     []float64{0, 0.5, 1},
		Confusion: [][]float64{{3, 1}, {0, 4}},
		Specs:     map[string]any{"n_latent": 3, "scope": "lfcnn", "l1": 3e-4},
		Meta:      map[string]any{"data_id": "synthetic", "fs": 100.0},
		Log:       map[string]any{"loss_mean": 0.5},
	}
}

func TestResultRoundTrip(t *testing.T) {
	in := sampleResult()
	payload, err := EncodeResult(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeResult(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SchemaVersion != CurrentSchemaVersion || out.CodecVersion != CurrentCodecVersion {
		t.Fatalf("versions not stamped: %+v", out.VersionedRecord)
	}
	if out.Key() != "lfcnn_synthetic" || out.Mode != model.ModeCV || out.RunID != "run-1" {
		t.Fatalf("identity mismatch: %+v", out)
	}
	if len(out.Folds) != 2 {
		t.Fatalf("folds: %d", len(out.Folds))
	}
	f0 := out.Folds[0]
	if f0.Epochs != 5 || f0.StoppedAt != 3 || f0.Metric != 0.75 || f0.Confusion[1][1] != 4 {
		t.Fatalf("fold 0 mismatch: %+v", f0)
	}
	if units := f0.TopComponents["weight"]; len(units) != 2 || units[0][0] != 2 || units[1][1] != 1 {
		t.Fatalf("top components mismatch: %+v", f0.TopComponents)
	}
	f1 := out.Folds[1]
	if !math.IsNaN(f1.Loss) || f1.Regression == nil || f1.Regression.PVE != 0.79 {
		t.Fatalf("fold 1 mismatch: %+v", f1)
	}
	if out.Summary.MetricStd != 0.05 || out.Summary.Regression["cc"] != 0.9 {
		t.Fatalf("summary mismatch: %+v", out.Summary)
	}
	stack := out.Stacks[model.StackPatterns]
	if stack == nil || stack.Shape != [3]int{4, 2, 3} || stack.Data[23] != in.Stacks[model.StackPatterns].Data[23] {
		t.Fatalf("stack mismatch: %+v", stack)
	}
	if len(out.Freqs) != 3 || out.Freqs[1] != 0.5 {
		t.Fatalf("freqs mismatch: %v", out.Freqs)
	}
	if out.Confusion[0][1] != 1 {
		t.Fatalf("confusion mismatch: %v", out.Confusion)
	}
	if out.Specs["n_latent"] != 3.0 || out.Specs["scope"] != "lfcnn" || out.Meta["fs"] != 100.0 {
		t.Fatalf("dictionaries mismatch: specs=%v meta=%v", out.Specs, out.Meta)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	payload, err := EncodeResult(sampleResult())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload = protowire.AppendTag(payload, 99, protowire.BytesType)
	payload = protowire.AppendString(payload, "from a newer writer")
	payload = protowire.AppendTag(payload, 100, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 42)

	out, err := DecodeResult(payload)
	if err != nil {
		t.Fatalf("decode with unknown fields: %v", err)
	}
	if out.Scope != "lfcnn" || len(out.Folds) != 2 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestDecodeVersionMismatch(t *testing.T) {
	in := sampleResult()
	in.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeResult(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeResult(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	payload, err := EncodeResult(sampleResult())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeResult(payload[:len(payload)-3]); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestEncodeRejectsInvalidStack(t *testing.T) {
	in := sampleResult()
	in.Stacks["broken"] = &ndarray.Array3{Shape: [3]int{2, 2, 2}, Data: []float64{1}}
	if _, err := EncodeResult(in); err == nil {
		t.Fatal("expected invalid stack error")
	}
}
