package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

// TableOptions describes how the columns of a trial table map onto a recording.
// Every row is one trial: "class*" columns hold one-hot labels, "target*"
// columns continuous targets, an optional "subject" column the subject id, and
// "t" is ignored. The remaining columns are the trial flattened as
// [n_seq, n_t, n_ch]; NCh is inferred when zero.
type TableOptions struct {
	DataID     string
	NSeq       int
	NT         int
	NCh        int
	FS         float64
	Folds      int
	TrainBatch int
	Seed       int64
}

// ReadTableFile loads a trial table from path.
func ReadTableFile(path string, opts TableOptions) (*InMemory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("table file path is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTable(file, opts)
}

func ReadTable(in io.Reader, opts TableOptions) (*InMemory, error) {
	if opts.NT <= 0 {
		return nil, errors.Errorf("n_t must be > 0, got %d", opts.NT)
	}
	if opts.NSeq <= 0 {
		opts.NSeq = 1
	}
	if opts.FS <= 0 {
		opts.FS = 100
	}
	if opts.DataID == "" {
		opts.DataID = "table"
	}

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("trial table is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read trial table header")
	}

	var (
		inputs   [][]float64
		targets  [][]float64
		subjects []int
		kind     model.TargetType
	)
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read trial table row %d", rowIndex)
		}
		if blankRecord(record) {
			continue
		}
		row, err := parseTableRow(header, record, rowIndex)
		if err != nil {
			return nil, err
		}
		if rowIndex == 1 {
			kind = row.kind
		}
		if row.kind != kind || len(row.targets) == 0 {
			return nil, errors.Errorf("trial table row %d: targets must be all class* or all target* columns", rowIndex)
		}
		if len(inputs) > 0 && (len(row.inputs) != len(inputs[0]) || len(row.targets) != len(targets[0])) {
			return nil, errors.Errorf("trial table row %d: %d inputs and %d targets, want %d and %d",
				rowIndex, len(row.inputs), len(row.targets), len(inputs[0]), len(targets[0]))
		}
		inputs = append(inputs, row.inputs)
		targets = append(targets, row.targets)
		subjects = append(subjects, row.subject)
		rowIndex++
	}
	if len(inputs) == 0 {
		return nil, errors.New("trial table has no rows")
	}

	width := len(inputs[0])
	nCh := opts.NCh
	if nCh <= 0 {
		if width%(opts.NSeq*opts.NT) != 0 {
			return nil, errors.Errorf("%d input columns do not split into n_seq=%d x n_t=%d", width, opts.NSeq, opts.NT)
		}
		nCh = width / (opts.NSeq * opts.NT)
	}
	if opts.NSeq*opts.NT*nCh != width {
		return nil, errors.Errorf("%d input columns, want n_seq*n_t*n_ch = %d", width, opts.NSeq*opts.NT*nCh)
	}

	x := ndarray.NewArray4(len(inputs), opts.NSeq, opts.NT, nCh)
	y := mat.NewDense(len(targets), len(targets[0]), nil)
	for i := range inputs {
		copy(x.Sample(i), inputs[i])
		y.SetRow(i, targets[i])
	}
	meta := model.DatasetMeta{
		DataID:     opts.DataID,
		FS:         opts.FS,
		TargetType: kind,
		YShape:     []int{len(targets[0])},
		TestBatch:  len(inputs),
	}
	return NewInMemory(meta, x, y, subjects, Options{Folds: opts.Folds, TrainBatch: opts.TrainBatch, Seed: opts.Seed})
}

type tableRow struct {
	inputs  []float64
	targets []float64
	subject int
	kind    model.TargetType
}

func parseTableRow(header, record []string, index int) (tableRow, error) {
	row := tableRow{
		inputs: make([]float64, 0, len(record)),
	}
	for i, raw := range record {
		key := ""
		if i < len(header) {
			key = strings.ToLower(strings.TrimSpace(header[i]))
		}
		if key == "t" {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return tableRow{}, errors.Wrapf(err, "parse trial table row %d column %d", index, i)
		}
		switch {
		case key == "subject":
			row.subject = int(value)
		case strings.HasPrefix(key, "class"):
			if row.kind == model.TargetFloat {
				return tableRow{}, errors.Errorf("trial table row %d mixes class and target columns", index)
			}
			row.kind = model.TargetInt
			row.targets = append(row.targets, value)
		case strings.HasPrefix(key, "target"):
			if row.kind == model.TargetInt {
				return tableRow{}, errors.Errorf("trial table row %d mixes class and target columns", index)
			}
			row.kind = model.TargetFloat
			row.targets = append(row.targets, value)
		default:
			row.inputs = append(row.inputs, value)
		}
	}
	return row, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
