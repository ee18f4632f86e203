package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"neurodecode/internal/model"
)

func TestAppendRunLogWidensHeader(t *testing.T) {
	dir := t.TempDir()
	path := RunLogPath(dir, "lfcnn")
	if path != filepath.Join(dir, "lfcnn_log.csv") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := AppendRunLog(path, map[string]any{"b": 2, "a": "x", "c": 0.5}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendRunLog(path, map[string]any{"a": "y", "b": int64(3), "extra": true}); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 || lines[0] != "a,b,c,extra" {
		t.Fatalf("unexpected log:\n%s", raw)
	}
	rows, err := ReadRunLog(path)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0]["c"] != "0.5" || rows[1]["b"] != "3" || rows[1]["c"] != "" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if rows[0]["extra"] != "" || rows[1]["extra"] != "true" {
		t.Fatalf("new key should widen the header: %v", rows)
	}
	if err := AppendRunLog(path, nil); err == nil {
		t.Fatal("expected empty row error")
	}
}

func TestReadRunLogMissingFile(t *testing.T) {
	rows, err := ReadRunLog(filepath.Join(t.TempDir(), "none.csv"))
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows, got %v %v", rows, err)
	}
	ts := FormatTimestamp(time.Date(2023, 11, 2, 8, 5, 1, 0, time.UTC))
	if ts != "2023-11-02 08:05:01" {
		t.Fatalf("unexpected timestamp %s", ts)
	}
}

func TestExportRunArtifacts(t *testing.T) {
	result := model.AggregateResult{
		RunID:     "r1",
		Scope:     "lfcnn",
		DataID:    "demo",
		Mode:      model.ModeCV,
		Folds:     []model.FoldResult{{Fold: 0, Loss: 0.3}, {Fold: 1, Loss: 0.4}},
		Confusion: [][]float64{{3, 1}, {0, 4}},
	}
	dir, err := ExportRunArtifacts(t.TempDir(), result)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	folds, ok, err := ReadFoldResults(dir)
	if err != nil || !ok || len(folds) != 2 || folds[1].Loss != 0.4 {
		t.Fatalf("unexpected folds: %v %v %v", folds, ok, err)
	}
	cm, err := os.ReadFile(filepath.Join(dir, "confusion.csv"))
	if err != nil {
		t.Fatalf("read confusion: %v", err)
	}
	if string(cm) != "3,1\n0,4\n" {
		t.Fatalf("unexpected confusion csv %q", cm)
	}
	if _, err := ExportRunArtifacts(t.TempDir(), model.AggregateResult{}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, ok, err := ReadFoldResults(t.TempDir()); ok || err != nil {
		t.Fatalf("missing folds should report not found, got %v %v", ok, err)
	}
}
