package patterns

import (
	"gonum.org/v1/gonum/mat"
)

// Selected holds, per output unit, the spatial pattern, filter frequency
// response and PSD of the top-ranked component of a Ranking.
type Selected struct {
	Topo    *mat.Dense // [n_ch, n_out]
	Spectra *mat.Dense // [NFreqs, n_out]
	PSD     *mat.Dense // [NFreqs, n_out]
}

// Select picks the first component of every unit in r. Units without a
// selection are left at zero.
func Select(res *Result, r Ranking) (*Selected, error) {
	if res == nil {
		return nil, ErrNoData
	}
	spectra, psds := ComponentSpectra(res)
	ch, _ := res.Patterns.Dims()
	units := len(r.Order)
	out := &Selected{
		Topo:    mat.NewDense(ch, units, nil),
		Spectra: mat.NewDense(NFreqs, units, nil),
		PSD:     mat.NewDense(NFreqs, units, nil),
	}
	for u, order := range r.Order {
		if len(order) == 0 {
			continue
		}
		l := order[0]
		addScaledCol(out.Topo, u, res.Patterns, l, 1)
		addScaledCol(out.Spectra, u, spectra, l, 1)
		addScaledCol(out.PSD, u, psds, l, 1)
	}
	return out, nil
}
