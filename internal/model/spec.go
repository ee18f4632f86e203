package model

import (
	"strings"

	"github.com/pkg/errors"
)

type PoolType string

const (
	PoolMax PoolType = "max"
	PoolAvg PoolType = "avg"
)

type Padding string

const (
	PaddingSame  Padding = "same"
	PaddingValid Padding = "valid"
)

var ErrMissingModelPath = errors.New("specs must include model_path")

// ModelSpec is the hyperparameter record of one architecture instance. It is
// treated as immutable once a model has been built from it.
type ModelSpec struct {
	ModelPath    string   `json:"model_path"`
	Scope        string   `json:"scope"`
	NLatent      int      `json:"n_latent"`
	FilterLength int      `json:"filter_length"`
	Pooling      int      `json:"pooling"`
	Stride       int      `json:"stride"`
	PoolType     PoolType `json:"pool_type"`
	Padding      Padding  `json:"padding"`
	Nonlin       string   `json:"nonlin"`
	L1           float64  `json:"l1"`
	L2           float64  `json:"l2"`
	L1Scope      []string `json:"l1_scope"`
	L2Scope      []string `json:"l2_scope"`
	Dropout      float64  `json:"dropout"`
	LearnRate    float64  `json:"learn_rate"`
	Seed         int64    `json:"seed"`
}

// WithDefaults fills unset hyperparameters with the LF-CNN defaults.
func (s ModelSpec) WithDefaults() ModelSpec {
	if s.Scope == "" {
		s.Scope = "lfcnn"
	}
	if s.NLatent <= 0 {
		s.NLatent = 32
	}
	if s.FilterLength <= 0 {
		s.FilterLength = 7
	}
	if s.Pooling <= 0 {
		s.Pooling = 2
	}
	if s.Stride <= 0 {
		s.Stride = 2
	}
	if s.PoolType == "" {
		s.PoolType = PoolMax
	}
	if s.Padding == "" {
		s.Padding = PaddingSame
	}
	if s.Nonlin == "" {
		s.Nonlin = "relu"
	}
	if s.L1Scope == nil {
		s.L1Scope = []string{"fc", "demix", "lf_conv"}
	}
	if s.L2Scope == nil {
		s.L2Scope = []string{}
	}
	if s.LearnRate <= 0 {
		s.LearnRate = 3e-4
	}
	return s
}

func (s ModelSpec) Validate() error {
	if strings.TrimSpace(s.ModelPath) == "" {
		return ErrMissingModelPath
	}
	if s.NLatent <= 0 {
		return errors.Errorf("n_latent must be > 0, got %d", s.NLatent)
	}
	if s.FilterLength <= 0 {
		return errors.Errorf("filter_length must be > 0, got %d", s.FilterLength)
	}
	if s.Pooling <= 0 || s.Stride <= 0 {
		return errors.Errorf("pooling and stride must be > 0, got %d/%d", s.Pooling, s.Stride)
	}
	switch s.PoolType {
	case PoolMax, PoolAvg:
	default:
		return errors.Errorf("unsupported pool_type: %s", s.PoolType)
	}
	switch s.Padding {
	case PaddingSame, PaddingValid:
	default:
		return errors.Errorf("unsupported padding: %s", s.Padding)
	}
	if s.Dropout < 0 || s.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %g", s.Dropout)
	}
	return nil
}

func (s ModelSpec) InL1Scope(layer string) bool {
	for _, name := range s.L1Scope {
		if name == layer {
			return true
		}
	}
	return false
}

func (s ModelSpec) InL2Scope(layer string) bool {
	for _, name := range s.L2Scope {
		if name == layer {
			return true
		}
	}
	return false
}

// AsMap flattens the spec for run logs and archives.
func (s ModelSpec) AsMap() map[string]any {
	return map[string]any{
		"model_path":    s.ModelPath,
		"scope":         s.Scope,
		"n_latent":      s.NLatent,
		"filter_length": s.FilterLength,
		"pooling":       s.Pooling,
		"stride":        s.Stride,
		"pool_type":     string(s.PoolType),
		"padding":       string(s.Padding),
		"nonlin":        s.Nonlin,
		"l1":            s.L1,
		"l2":            s.L2,
		"l1_scope":      strings.Join(s.L1Scope, "|"),
		"l2_scope":      strings.Join(s.L2Scope, "|"),
		"dropout":       s.Dropout,
		"learn_rate":    s.LearnRate,
		"seed":          s.Seed,
	}
}
