package training

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"neurodecode/internal/model"
	"neurodecode/internal/stats"
	"neurodecode/internal/storage"
)

func sampleResult() model.AggregateResult {
	return model.AggregateResult{
		RunID:  "run-1",
		Scope:  "lfcnn",
		DataID: "demo",
		Mode:   model.ModeCV,
		Folds:  []model.FoldResult{{Fold: 0, Loss: 0.4, Metric: 0.8}, {Fold: 1, Loss: 0.6, Metric: 0.7}},
		Summary: model.Summary{
			LossMean:   0.5,
			LossStd:    0.1,
			MetricMean: 0.75,
			MetricStd:  0.05,
		},
		Specs: map[string]any{"model_path": "out", "n_latent": 4, "scope": "lfcnn"},
		Meta:  map[string]any{"data_id": "demo", "n_ch": 8},
		Log:   map[string]any{"mode": "cv", "metric_mean": 0.75},
	}
}

func TestLogRowMergesSections(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	row := LogRow(sampleResult(), at)
	if row["n_latent"] != 4 || row["n_ch"] != 8 || row["metric_mean"] != 0.75 {
		t.Fatalf("missing merged values: %v", row)
	}
	if row["run_id"] != "run-1" || row["timestamp"] != "2024-03-05 14:07:09" {
		t.Fatalf("unexpected identity columns: %v", row)
	}
}

func TestUpdateLogWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	result := sampleResult()
	for i := 0; i < 2; i++ {
		path, err := UpdateLog(dir, result)
		if err != nil {
			t.Fatalf("update log: %v", err)
		}
		if path != stats.RunLogPath(dir, "lfcnn") {
			t.Fatalf("unexpected log path %s", path)
		}
	}
	raw, err := os.ReadFile(stats.RunLogPath(dir, "lfcnn"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if strings.Count(string(raw), "run_id") != 1 {
		t.Fatalf("header written more than once:\n%s", raw)
	}
	rows, err := stats.ReadRunLog(stats.RunLogPath(dir, "lfcnn"))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 || rows[1]["data_id"] != "demo" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if _, err := UpdateLog("", result); err != ErrMissingModelPath {
		t.Fatalf("expected ErrMissingModelPath, got %v", err)
	}
}

func TestUpdateLogKeepsMetricColumnsAcrossTargets(t *testing.T) {
	classification := sampleResult()
	classification.Log = map[string]any{"mode": "cv", "metric": "accuracy", "loss_mean": 0.5}
	regression := sampleResult()
	regression.RunID = "run-2"
	regression.Log = map[string]any{"mode": "cv", "metric": "mae", "loss_mean": 2.0, "cc": 0.9, "r2": 0.8, "cc_std": 0.01}

	for _, order := range [][]model.AggregateResult{
		{classification, regression},
		{regression, classification},
	} {
		dir := t.TempDir()
		for _, result := range order {
			if _, err := UpdateLog(dir, result); err != nil {
				t.Fatalf("update log: %v", err)
			}
		}
		rows, err := stats.ReadRunLog(stats.RunLogPath(dir, "lfcnn"))
		if err != nil {
			t.Fatalf("read rows: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rows))
		}
		for _, key := range stats.RegressionLogKeys() {
			for i, row := range rows {
				if _, ok := row[key]; !ok {
					t.Fatalf("row %d lacks column %s: %v", i, key, row)
				}
			}
		}
		for _, row := range rows {
			switch row["metric"] {
			case "mae":
				if row["cc"] != "0.9" || row["r2"] != "0.8" || row["cc_std"] != "0.01" {
					t.Fatalf("regression metrics dropped: %v", row)
				}
			case "accuracy":
				if row["cc"] != "" || row["loss_mean"] != "0.5" {
					t.Fatalf("unexpected classification row: %v", row)
				}
			default:
				t.Fatalf("unexpected metric column: %v", row)
			}
		}
	}
}

func TestUpdateLogWidensForNewColumns(t *testing.T) {
	dir := t.TempDir()
	first := sampleResult()
	second := sampleResult()
	second.RunID = "run-2"
	second.Log = map[string]any{"mode": "loso", "n_subjects_held_out": 1}
	for _, result := range []model.AggregateResult{first, second} {
		if _, err := UpdateLog(dir, result); err != nil {
			t.Fatalf("update log: %v", err)
		}
	}
	rows, err := stats.ReadRunLog(stats.RunLogPath(dir, "lfcnn"))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 || rows[0]["n_subjects_held_out"] != "" || rows[1]["n_subjects_held_out"] != "1" {
		t.Fatalf("unexpected rows after widening: %v", rows)
	}
	if rows[0]["run_id"] != "run-1" || rows[0]["metric_mean"] != "0.75" {
		t.Fatalf("earlier row damaged by widening: %v", rows[0])
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStore("memory", "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Save(ctx, store, sampleResult()); err != nil {
		t.Fatalf("save: %v", err)
	}
	restored, err := Restore(ctx, store, "lfcnn", "demo")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.RunID != "run-1" || len(restored.Folds) != 2 || restored.Summary.MetricMean != 0.75 {
		t.Fatalf("unexpected restored result: %+v", restored)
	}
	if _, err := Restore(ctx, store, "lfcnn", "other"); err == nil {
		t.Fatal("expected missing result error")
	}
}
