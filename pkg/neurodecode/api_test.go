package neurodecode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"neurodecode/internal/stats"
)

func smallRun(mode string) RunRequest {
	return RunRequest{
		Mode:         mode,
		DataID:       "demo",
		Trials:       24,
		NT:           32,
		NCh:          4,
		Classes:      2,
		Subjects:     3,
		Noise:        0.1,
		Folds:        3,
		TrainBatch:   8,
		NLatent:      3,
		FilterLength: 5,
		LearnRate:    0.01,
		Epochs:       2,
		Patterns:     true,
		Seed:         7,
	}
}

func TestClientRunShowAndExport(t *testing.T) {
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:  "memory",
		ModelPath:  filepath.Join(base, "models"),
		ExportsDir: filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	ctx := context.Background()
	if err := client.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	var progress int
	req := smallRun("cv")
	req.OnEpoch = func(EpochProgress) { progress++ }
	summary, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || summary.Key != "lfcnn_demo" {
		t.Fatalf("unexpected run identity: %+v", summary)
	}
	if len(summary.Folds) != 3 || progress != 6 {
		t.Fatalf("expected 3 folds and 6 epoch reports, got %d and %d", len(summary.Folds), progress)
	}
	if summary.MetricName != "accuracy" {
		t.Fatalf("unexpected metric name %q", summary.MetricName)
	}
	if got := summary.Stacks["cv_patterns"]; got != [3]int{4, 2, 3} {
		t.Fatalf("cv_patterns shape: got %v", got)
	}
	if summary.ArchiveBytes <= 0 {
		t.Fatalf("expected archive size, got %d", summary.ArchiveBytes)
	}
	if _, err := os.Stat(summary.LogPath); err != nil {
		t.Fatalf("run log missing: %v", err)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Mode != "cv" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	shown, err := client.Show(ctx, ShowRequest{DataID: "demo"})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if shown.RunID != summary.RunID || len(shown.Confusion) != 2 {
		t.Fatalf("unexpected restored summary: %+v", shown)
	}
	if len(shown.Folds[0].TopComponents["weight"]) != 2 {
		t.Fatalf("top components not restored: %+v", shown.Folds[0])
	}

	exported, err := client.Export(ctx, ExportRequest{DataID: "demo"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	folds, ok, err := stats.ReadFoldResults(exported.Directory)
	if err != nil || !ok || len(folds) != 3 {
		t.Fatalf("exported folds: ok=%v len=%d err=%v", ok, len(folds), err)
	}

	results, err := client.Results(ctx)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 || results[0].Key != "lfcnn_demo" || results[0].Folds != 3 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestClientFileStorePersistsAcrossClients(t *testing.T) {
	modelPath := t.TempDir()
	ctx := context.Background()

	first, err := New(Options{ModelPath: modelPath})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	req := smallRun("loso")
	req.Patterns = false
	summary, err := first.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Folds) != 3 {
		t.Fatalf("expected one fold per subject, got %d", len(summary.Folds))
	}
	_ = first.Close()

	second, err := New(Options{ModelPath: modelPath})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})
	shown, err := second.Show(ctx, ShowRequest{Scope: "lfcnn", DataID: "demo"})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if shown.RunID != summary.RunID || shown.Mode != "loso" {
		t.Fatalf("unexpected restored run: %+v", shown)
	}
	if _, err := os.Stat(filepath.Join(modelPath, "lfcnn_demo", "patterns.pb")); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestClientRunValidation(t *testing.T) {
	client, err := New(Options{StoreKind: "memory", ModelPath: t.TempDir()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	req := smallRun("loso")
	req.Subjects = 1
	if _, err := client.Run(ctx, req); err == nil {
		t.Fatal("expected loso subject error")
	}
	req = smallRun("bootstrap")
	if _, err := client.Run(ctx, req); err == nil {
		t.Fatal("expected unsupported mode error")
	}
	if _, err := client.Show(ctx, ShowRequest{}); err == nil {
		t.Fatal("expected data id error")
	}
	if _, err := New(Options{StoreKind: "nope"}); err == nil {
		t.Fatal("expected unsupported store error")
	}
}
