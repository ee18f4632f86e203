package patterns

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var ErrUnsupportedSortMode = errors.New("unsupported sorting mode")

// SortMode is a component relevance heuristic.
type SortMode string

const (
	SortL2           SortMode = "l2"
	SortCombined     SortMode = "combined"
	SortCompwiseLoss SortMode = "compwise_loss"
	SortWeightCorr   SortMode = "weight_corr"
	SortWeight       SortMode = "weight"
	SortOutputCorr   SortMode = "output_corr"
)

func SortModes() []SortMode {
	return []SortMode{SortL2, SortCombined, SortCompwiseLoss, SortWeightCorr, SortWeight, SortOutputCorr}
}

func ParseSortMode(s string) (SortMode, error) {
	mode := SortMode(strings.ToLower(strings.TrimSpace(s)))
	for _, m := range SortModes() {
		if m == mode {
			return m, nil
		}
	}
	return "", errors.Wrap(ErrUnsupportedSortMode, s)
}

// Ranking is the per-output-unit component selection of one heuristic.
// Times is nil for l2 and combined; otherwise Times[u][k] is the time bin
// paired with Order[u][k].
type Ranking struct {
	Mode  SortMode
	Order [][]int
	Times [][]int
	// Scores[u] is the score matrix the selection was made from: [n_latent, time_bins]
	// for the tie-returning modes and [n_latent, 1] otherwise.
	Scores []*mat.Dense
}

// Unique flattens Order keeping the first occurrence of every component.
func (r Ranking) Unique() []int {
	seen := make(map[int]struct{})
	var out []int
	for _, unit := range r.Order {
		for _, c := range unit {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Rank orders the latent components of res for every output unit. nComp
// applies to l2 and compwise_loss and defaults to 1.
func Rank(res *Result, mode SortMode, nComp int) (Ranking, error) {
	if res == nil {
		return Ranking{}, ErrNoData
	}
	if nComp <= 0 {
		nComp = 1
	}
	if latent := res.Latent(); nComp > latent {
		nComp = latent
	}
	switch mode {
	case SortL2:
		return rankL2(res, nComp), nil
	case SortCombined:
		return rankCombined(res), nil
	case SortCompwiseLoss:
		return rankCompwise(res, nComp), nil
	case SortWeightCorr:
		return rankTies(res, mode, func(r, l, u int) float64 {
			return math.Abs(res.OutWeights.At(r, l, u) * res.CorrToOutput.At(r, l, u))
		}), nil
	case SortWeight:
		return rankTies(res, mode, func(r, l, u int) float64 {
			return res.OutWeights.At(r, l, u)
		}), nil
	case SortOutputCorr:
		return rankTies(res, mode, func(r, l, u int) float64 {
			return res.CorrToOutput.At(r, l, u)
		}), nil
	default:
		return Ranking{}, errors.Wrap(ErrUnsupportedSortMode, string(mode))
	}
}

func rankL2(res *Result, nComp int) Ranking {
	bins, latent, units := res.OutWeights.Shape[0], res.OutWeights.Shape[1], res.OutWeights.Shape[2]
	out := Ranking{Mode: SortL2, Order: make([][]int, units), Scores: make([]*mat.Dense, units)}
	for u := 0; u < units; u++ {
		score := make([]float64, latent)
		for l := 0; l < latent; l++ {
			ss := 0.0
			for r := 0; r < bins; r++ {
				v := res.OutWeights.At(r, l, u)
				ss += v * v
			}
			score[l] = math.Sqrt(ss)
		}
		idx := argsort(score)
		out.Order[u] = append([]int(nil), idx[latent-nComp:]...)
		out.Scores[u] = mat.NewDense(latent, 1, score)
	}
	return out
}

func rankCombined(res *Result) Ranking {
	weights := CombinedWeights(res)
	latent, units := weights.Dims()
	out := Ranking{Mode: SortCombined, Order: make([][]int, units), Scores: make([]*mat.Dense, units)}
	col := make([]float64, latent)
	for u := 0; u < units; u++ {
		mat.Col(col, u, weights)
		best := 0
		for l := 1; l < latent; l++ {
			if col[l] > col[best] {
				best = l
			}
		}
		out.Order[u] = []int{best}
		out.Scores[u] = mat.NewDense(latent, 1, append([]float64(nil), col...))
	}
	return out
}

// rankCompwise keeps the nComp most negative ablation scores. The paired time
// bin is where the readout weight of that component peaks.
func rankCompwise(res *Result, nComp int) Ranking {
	latent, units := res.CompwiseLoss.Dims()
	bins := res.OutWeights.Shape[0]
	out := Ranking{
		Mode:   SortCompwiseLoss,
		Order:  make([][]int, units),
		Times:  make([][]int, units),
		Scores: make([]*mat.Dense, units),
	}
	for u := 0; u < units; u++ {
		score := make([]float64, latent)
		mat.Col(score, u, res.CompwiseLoss)
		idx := argsort(score)
		out.Order[u] = append([]int(nil), idx[:nComp]...)
		out.Times[u] = make([]int, nComp)
		for k, l := range out.Order[u] {
			best := 0
			for r := 1; r < bins; r++ {
				if res.OutWeights.At(r, l, u) > res.OutWeights.At(best, l, u) {
					best = r
				}
			}
			out.Times[u][k] = best
		}
		out.Scores[u] = mat.NewDense(latent, 1, score)
	}
	return out
}

// rankTies returns every (component, time bin) whose score equals the unit's
// maximum exactly, scanning components then time bins.
func rankTies(res *Result, mode SortMode, score func(r, l, u int) float64) Ranking {
	bins, latent, units := res.OutWeights.Shape[0], res.OutWeights.Shape[1], res.OutWeights.Shape[2]
	out := Ranking{
		Mode:   mode,
		Order:  make([][]int, units),
		Times:  make([][]int, units),
		Scores: make([]*mat.Dense, units),
	}
	for u := 0; u < units; u++ {
		f := mat.NewDense(latent, bins, nil)
		maxv := math.Inf(-1)
		for l := 0; l < latent; l++ {
			for r := 0; r < bins; r++ {
				v := score(r, l, u)
				f.Set(l, r, v)
				if v > maxv {
					maxv = v
				}
			}
		}
		for l := 0; l < latent; l++ {
			for r := 0; r < bins; r++ {
				if f.At(l, r) == maxv {
					out.Order[u] = append(out.Order[u], l)
					out.Times[u] = append(out.Times[u], r)
				}
			}
		}
		out.Scores[u] = f
	}
	return out
}

// argsort returns indices that sort values ascending; ties keep index order.
func argsort(values []float64) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })
	return idx
}
