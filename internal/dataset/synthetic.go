package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

// SyntheticConfig describes a generated recording. Classes == 0 produces a
// single continuous target.
type SyntheticConfig struct {
	DataID     string
	Trials     int
	NSeq       int
	NT         int
	NCh        int
	FS         float64
	Classes    int
	Subjects   int
	Noise      float64
	Folds      int
	TrainBatch int
	Seed       int64
}

func (c SyntheticConfig) withDefaults() SyntheticConfig {
	if c.DataID == "" {
		c.DataID = "synthetic"
	}
	if c.NSeq <= 0 {
		c.NSeq = 1
	}
	if c.FS <= 0 {
		c.FS = 100
	}
	if c.Subjects <= 0 {
		c.Subjects = 1
	}
	if c.Noise < 0 {
		c.Noise = 0
	}
	return c
}

// Synthetic mixes oscillatory latent sources into sensors. Each class drives
// its own source with a fixed spatial pattern and frequency; for regression
// the target scales the amplitude of source 0.
func Synthetic(cfg SyntheticConfig) (*InMemory, error) {
	cfg = cfg.withDefaults()
	if cfg.Trials <= 0 || cfg.NT <= 0 || cfg.NCh <= 0 {
		return nil, errors.Errorf("invalid synthetic shape (trials=%d, n_t=%d, n_ch=%d)", cfg.Trials, cfg.NT, cfg.NCh)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	nSources := cfg.Classes
	if nSources < 1 {
		nSources = 1
	}
	nSources++ // background source shared by all trials
	patterns := make([][]float64, nSources)
	freqs := make([]float64, nSources)
	for k := range patterns {
		patterns[k] = make([]float64, cfg.NCh)
		for ch := range patterns[k] {
			patterns[k][ch] = rng.NormFloat64()
		}
		freqs[k] = math.Min(4+3*float64(k), cfg.FS/4)
	}

	outDim := 1
	target := model.TargetFloat
	if cfg.Classes > 0 {
		outDim = cfg.Classes
		target = model.TargetInt
	}

	x := ndarray.NewArray4(cfg.Trials, cfg.NSeq, cfg.NT, cfg.NCh)
	y := mat.NewDense(cfg.Trials, outDim, nil)
	subjects := make([]int, cfg.Trials)
	amps := make([]float64, nSources)
	for trial := 0; trial < cfg.Trials; trial++ {
		subjects[trial] = trial % cfg.Subjects
		gain := 1 + 0.1*float64(subjects[trial])
		for k := range amps {
			amps[k] = 0
		}
		amps[nSources-1] = 0.5
		if cfg.Classes > 0 {
			class := trial % cfg.Classes
			amps[class] = 1
			y.Set(trial, class, 1)
		} else {
			v := rng.NormFloat64()
			amps[0] = v
			y.Set(trial, 0, v)
		}
		for s := 0; s < cfg.NSeq; s++ {
			phase := rng.Float64() * 2 * math.Pi
			for t := 0; t < cfg.NT; t++ {
				tt := float64(t) / cfg.FS
				for ch := 0; ch < cfg.NCh; ch++ {
					v := 0.0
					for k := 0; k < nSources; k++ {
						if amps[k] == 0 {
							continue
						}
						v += amps[k] * math.Sin(2*math.Pi*freqs[k]*tt+phase) * patterns[k][ch]
					}
					x.Set(trial, s, t, ch, gain*v+cfg.Noise*rng.NormFloat64())
				}
			}
		}
	}

	meta := model.DatasetMeta{
		DataID:     cfg.DataID,
		FS:         cfg.FS,
		TargetType: target,
		YShape:     []int{outDim},
		TestBatch:  cfg.Trials,
	}
	return NewInMemory(meta, x, y, subjects, Options{Folds: cfg.Folds, TrainBatch: cfg.TrainBatch, Seed: cfg.Seed})
}
