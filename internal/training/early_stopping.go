package training

import (
	"math"

	"neurodecode/internal/network"
)

// EarlyStopping watches validation loss. An epoch improves when its loss is
// below best-MinDelta; after Patience epochs without improvement training
// stops and the best weights are restored. Patience <= 0 disables stopping.
type EarlyStopping struct {
	Patience int
	MinDelta float64

	best      float64
	bestEpoch int
	wait      int
	snapshot  network.Snapshot
	seen      bool
}

func NewEarlyStopping(patience int, minDelta float64) *EarlyStopping {
	return &EarlyStopping{Patience: patience, MinDelta: math.Abs(minDelta), best: math.Inf(1)}
}

// Observe records one epoch and reports whether training should stop.
func (e *EarlyStopping) Observe(epoch int, loss float64, store *network.ParamStore) bool {
	if !e.seen || loss < e.best-e.MinDelta {
		e.best = loss
		e.bestEpoch = epoch
		e.wait = 0
		e.seen = true
		if store != nil && e.Patience > 0 {
			e.snapshot = store.Snapshot()
		}
		return false
	}
	if e.Patience <= 0 {
		return false
	}
	e.wait++
	return e.wait >= e.Patience
}

// RestoreBest reinstalls the weights of the best epoch.
func (e *EarlyStopping) RestoreBest(store *network.ParamStore) error {
	if len(e.snapshot.Params()) == 0 {
		return nil
	}
	return store.Restore(e.snapshot)
}

func (e *EarlyStopping) Best() (epoch int, loss float64) {
	return e.bestEpoch, e.best
}
