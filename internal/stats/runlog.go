package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/pkg/errors"
)

const timestampLayout = "%Y-%m-%d %H:%M:%S"

// RunLogPath is the append-only log shared by every run of one architecture scope.
func RunLogPath(modelPath, scope string) string {
	return filepath.Join(modelPath, scope+"_log.csv")
}

func FormatTimestamp(t time.Time) string {
	return strftime.Format(timestampLayout, t)
}

// AppendRunLog appends one row. The header is the sorted key set of the first
// row; a later row carrying new keys widens the header, and earlier rows get
// blank cells in the added columns.
func AppendRunLog(path string, row map[string]any) error {
	if len(row) == 0 {
		return errors.New("run log row is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create run log directory")
	}

	header, err := readHeader(path)
	if err != nil {
		return err
	}
	writeHeader := header == nil
	if added := missingKeys(header, row); len(added) > 0 {
		if writeHeader {
			header = added
		} else {
			header = append(header, added...)
			if err := widenRunLog(path, header); err != nil {
				return err
			}
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open run log")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	record := make([]string, len(header))
	for i, key := range header {
		record[i] = formatValue(row[key])
	}
	if err := writer.Write(record); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// ReadRunLog returns every logged row keyed by header; a missing file yields no rows.
func ReadRunLog(path string) ([]map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []map[string]string{}, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "read run log header")
	}

	rows := make([]map[string]string, 0, 16)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read run log row %d", len(rows)+1)
		}
		row := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(record) {
				row[key] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func missingKeys(header []string, row map[string]any) []string {
	known := make(map[string]struct{}, len(header))
	for _, key := range header {
		known[key] = struct{}{}
	}
	var out []string
	for key := range row {
		if _, ok := known[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// widenRunLog rewrites the log under a wider header, padding existing rows.
func widenRunLog(path string, header []string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open run log")
	}
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	file.Close()
	if err != nil {
		return errors.Wrap(err, "read run log")
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create run log")
	}
	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		out.Close()
		return err
	}
	if len(records) > 0 {
		records = records[1:]
	}
	for _, record := range records {
		padded := make([]string, len(header))
		copy(padded, record)
		if err := writer.Write(padded); err != nil {
			out.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "close run log")
	}
	return errors.Wrap(os.Rename(tmp, path), "install run log")
}

func readHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open run log")
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read run log header")
	}
	return header, nil
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'g', -1, 32)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}
