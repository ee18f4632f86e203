package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type TargetType string

const (
	TargetFloat  TargetType = "float"
	TargetSignal TargetType = "signal"
	TargetInt    TargetType = "int"
)

func ParseTargetType(s string) (TargetType, error) {
	switch TargetType(strings.ToLower(strings.TrimSpace(s))) {
	case TargetFloat:
		return TargetFloat, nil
	case TargetSignal:
		return TargetSignal, nil
	case TargetInt:
		return TargetInt, nil
	default:
		return "", errors.Errorf("unsupported target_type: %q", s)
	}
}

// Discrete reports whether targets are one-hot class labels.
func (t TargetType) Discrete() bool {
	return t == TargetInt
}

// DatasetMeta describes the data a model is trained on.
type DatasetMeta struct {
	DataID     string     `json:"data_id"`
	NSeq       int        `json:"n_seq"`
	NT         int        `json:"n_t"`
	NCh        int        `json:"n_ch"`
	FS         float64    `json:"fs"`
	TargetType TargetType `json:"target_type"`
	YShape     []int      `json:"y_shape"`
	TrainSize  int        `json:"train_size"`
	ValSize    int        `json:"val_size"`
	TrainBatch int        `json:"train_batch"`
	TestBatch  int        `json:"test_batch"`
	Folds      int        `json:"folds"`
	Subjects   int        `json:"n_subjects"`
	SavePath   string     `json:"savepath"`
	TrainPaths []string   `json:"train_paths,omitempty"`
	TestPaths  []string   `json:"test_paths,omitempty"`
}

// OutDim is the number of output units, the product of YShape.
func (m DatasetMeta) OutDim() int {
	if len(m.YShape) == 0 {
		return 0
	}
	n := 1
	for _, d := range m.YShape {
		n *= d
	}
	return n
}

func (m DatasetMeta) Validate() error {
	if m.NSeq <= 0 || m.NT <= 0 || m.NCh <= 0 {
		return errors.Errorf("invalid input shape (n_seq=%d, n_t=%d, n_ch=%d)", m.NSeq, m.NT, m.NCh)
	}
	if _, err := ParseTargetType(string(m.TargetType)); err != nil {
		return err
	}
	if m.OutDim() <= 0 {
		return errors.Errorf("invalid y_shape %v", m.YShape)
	}
	return nil
}

func (m DatasetMeta) AsMap() map[string]any {
	return map[string]any{
		"data_id":     m.DataID,
		"n_seq":       m.NSeq,
		"n_t":         m.NT,
		"n_ch":        m.NCh,
		"fs":          m.FS,
		"target_type": string(m.TargetType),
		"y_shape":     joinInts(m.YShape),
		"train_size":  m.TrainSize,
		"val_size":    m.ValSize,
		"train_batch": m.TrainBatch,
		"test_batch":  m.TestBatch,
		"folds":       m.Folds,
		"n_subjects":  m.Subjects,
		"savepath":    m.SavePath,
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "x")
}
