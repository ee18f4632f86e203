package stats

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"neurodecode/internal/model"
)

// ExportRunArtifacts writes a human-readable copy of an aggregate next to the
// binary archive: config, per-fold results, summary and confusion matrix.
func ExportRunArtifacts(outDir string, result model.AggregateResult) (string, error) {
	if result.Scope == "" || result.DataID == "" {
		return "", errors.New("scope and data id are required")
	}

	dir := filepath.Join(outDir, result.Key())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	config := map[string]any{
		"run_id": result.RunID,
		"mode":   result.Mode,
		"specs":  result.Specs,
		"meta":   result.Meta,
	}
	if err := writeJSON(filepath.Join(dir, "config.json"), config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "folds.json"), result.Folds); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "summary.json"), result.Summary); err != nil {
		return "", err
	}
	if len(result.Confusion) > 0 {
		if err := writeMatrixCSV(filepath.Join(dir, "confusion.csv"), result.Confusion); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func ReadFoldResults(dir string) ([]model.FoldResult, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, "folds.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var folds []model.FoldResult
	if err := json.Unmarshal(data, &folds); err != nil {
		return nil, false, err
	}
	return folds, true, nil
}

func writeMatrixCSV(path string, rows [][]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
