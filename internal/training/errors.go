package training

import (
	"github.com/pkg/errors"

	"neurodecode/internal/model"
)

var (
	ErrMissingModelPath = model.ErrMissingModelPath
	ErrNoDataset        = errors.New("no dataset or dataset metadata to train on")
	ErrShapeMismatch    = errors.New("input shape mismatch")
)
