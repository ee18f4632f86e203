package network

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"neurodecode/internal/dataset"
	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

// Parameter names of the LF-CNN, in Weights() order.
const (
	ParamDemixW = "dmx/w"
	ParamDemixB = "dmx/b"
	ParamConvW  = "tconv/w"
	ParamConvB  = "tconv/b"
	ParamOutW   = "fc/w"
	ParamOutB   = "fc/b"
)

// Layer names used by ModelSpec.L1Scope and L2Scope.
const (
	LayerDemix = "demix"
	LayerConv  = "lf_conv"
	LayerOut   = "fc"
)

// LFCNN is the linear-finite-impulse-response CNN: spatial demixing, a
// depthwise temporal convolution per latent component, a nonlinearity,
// temporal pooling and a dense readout.
type LFCNN struct {
	spec model.ModelSpec
	meta model.DatasetMeta
	obj  Objective
	act  Activation

	nSeq, nT, nCh int
	latent        int
	kernel        int
	convLen       int
	bins          int
	padL          int
	features      int
	out           int

	params []*tensor
	adam   *adam
	rng    *rand.Rand
}

type tensor struct {
	name  string
	layer string
	bias  bool
	shape []int
	data  []float64
}

// NewLFCNN builds and initializes an LF-CNN for data described by meta.
func NewLFCNN(spec model.ModelSpec, meta model.DatasetMeta) (*LFCNN, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	obj, err := ObjectiveFor(meta.TargetType)
	if err != nil {
		return nil, err
	}
	act, err := GetActivation(spec.Nonlin)
	if err != nil {
		return nil, errors.Wrapf(err, "nonlin %q", spec.Nonlin)
	}

	m := &LFCNN{
		spec:   spec,
		meta:   meta,
		obj:    obj,
		act:    act,
		nSeq:   meta.NSeq,
		nT:     meta.NT,
		nCh:    meta.NCh,
		latent: spec.NLatent,
		kernel: spec.FilterLength,
		out:    meta.OutDim(),
		rng:    rand.New(rand.NewSource(spec.Seed)),
	}
	switch spec.Padding {
	case model.PaddingValid:
		m.convLen = m.nT - m.kernel + 1
		if m.convLen < spec.Pooling {
			return nil, errors.Errorf("n_t=%d too short for filter_length=%d and pooling=%d", m.nT, m.kernel, spec.Pooling)
		}
		m.bins = (m.convLen-spec.Pooling)/spec.Stride + 1
	default:
		m.convLen = m.nT
		m.padL = (m.kernel - 1) / 2
		m.bins = (m.convLen + spec.Stride - 1) / spec.Stride
	}
	m.features = m.nSeq * m.bins * m.latent

	m.params = []*tensor{
		{name: ParamDemixW, layer: LayerDemix, shape: []int{m.nCh, m.latent}},
		{name: ParamDemixB, layer: LayerDemix, bias: true, shape: []int{m.latent}},
		{name: ParamConvW, layer: LayerConv, shape: []int{m.kernel, m.latent}},
		{name: ParamConvB, layer: LayerConv, bias: true, shape: []int{m.latent}},
		{name: ParamOutW, layer: LayerOut, shape: []int{m.features, m.out}},
		{name: ParamOutB, layer: LayerOut, bias: true, shape: []int{m.out}},
	}
	for _, p := range m.params {
		p.data = make([]float64, shapeSize(p.shape))
		if p.bias {
			continue
		}
		limit := math.Sqrt(6 / float64(p.shape[0]+p.shape[1]))
		for i := range p.data {
			p.data[i] = (2*m.rng.Float64() - 1) * limit
		}
	}
	m.adam = newAdam(m.params, spec.LearnRate)
	return m, nil
}

func (m *LFCNN) Spec() model.ModelSpec   { return m.spec }
func (m *LFCNN) Meta() model.DatasetMeta { return m.meta }
func (m *LFCNN) Objective() Objective    { return m.obj }
func (m *LFCNN) TimeBins() int           { return m.bins }

func (m *LFCNN) Weights() []Param {
	out := make([]Param, len(m.params))
	for i, p := range m.params {
		out[i] = Param{Name: p.name, Shape: p.shape, Data: p.data}.Clone()
	}
	return out
}

// SetWeights installs params by position. Names and shapes must match.
func (m *LFCNN) SetWeights(params []Param) error {
	if len(params) != len(m.params) {
		return errors.Errorf("expected %d parameters, got %d", len(m.params), len(params))
	}
	for i, p := range params {
		dst := m.params[i]
		if p.Name != dst.name {
			return errors.Errorf("parameter %d: expected %s, got %s", i, dst.name, p.Name)
		}
		if len(p.Data) != len(dst.data) {
			return errors.Errorf("parameter %s: expected %d values, got %d", dst.name, len(dst.data), len(p.Data))
		}
	}
	for i, p := range params {
		copy(m.params[i].data, p.Data)
	}
	return nil
}

func (m *LFCNN) DemixingWeights() *mat.Dense {
	return mat.NewDense(m.nCh, m.latent, cloneFloats(m.params[0].data))
}

func (m *LFCNN) TemporalFilters() *mat.Dense {
	return mat.NewDense(m.kernel, m.latent, cloneFloats(m.params[2].data))
}

func (m *LFCNN) OutputLayer() (*mat.Dense, []float64) {
	return mat.NewDense(m.features, m.out, cloneFloats(m.params[4].data)), cloneFloats(m.params[5].data)
}

func (m *LFCNN) SetOutputLayer(w mat.Matrix, b []float64) error {
	r, c := w.Dims()
	if r != m.features || c != m.out {
		return errors.Errorf("output weights: expected %dx%d, got %dx%d", m.features, m.out, r, c)
	}
	if len(b) != m.out {
		return errors.Errorf("output bias: expected %d values, got %d", m.out, len(b))
	}
	dst := m.params[4].data
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst[i*c+j] = w.At(i, j)
		}
	}
	copy(m.params[5].data, b)
	return nil
}

func (m *LFCNN) checkInput(x *ndarray.Array4) error {
	if x == nil || x.Shape[0] == 0 {
		return errors.New("empty input batch")
	}
	if x.Shape[1] != m.nSeq || x.Shape[2] != m.nT || x.Shape[3] != m.nCh {
		return errors.Errorf("input shape [%d %d %d] does not match model input [%d %d %d]",
			x.Shape[1], x.Shape[2], x.Shape[3], m.nSeq, m.nT, m.nCh)
	}
	return nil
}

// trace keeps the intermediates of one forward pass over a batch.
type trace struct {
	batch  int
	z      []float64 // [b, s, t, l]
	conv   []float64 // [b, s, tc, l] pre-activation
	argmax []int     // [b, f] source conv time for max pooling
	feat   []float64 // [b, f]
	mask   []float64 // [b, f] inverted dropout scale, nil when inactive
	logits *mat.Dense
}

func (m *LFCNN) forward(x *ndarray.Array4, train bool) *trace {
	b := x.Shape[0]
	L := m.latent
	tr := &trace{
		batch:  b,
		z:      make([]float64, b*m.nSeq*m.nT*L),
		conv:   make([]float64, b*m.nSeq*m.convLen*L),
		argmax: make([]int, b*m.features),
		feat:   make([]float64, b*m.features),
	}
	w, bd := m.params[0].data, m.params[1].data
	k, bc := m.params[2].data, m.params[3].data

	for i := 0; i < b; i++ {
		for s := 0; s < m.nSeq; s++ {
			zOff := (i*m.nSeq + s) * m.nT * L
			for t := 0; t < m.nT; t++ {
				for l := 0; l < L; l++ {
					v := bd[l]
					for ch := 0; ch < m.nCh; ch++ {
						v += x.At(i, s, t, ch) * w[ch*L+l]
					}
					tr.z[zOff+t*L+l] = v
				}
			}
			cOff := (i*m.nSeq + s) * m.convLen * L
			for tc := 0; tc < m.convLen; tc++ {
				for l := 0; l < L; l++ {
					v := bc[l]
					for j := 0; j < m.kernel; j++ {
						t := tc - m.padL + j
						if t < 0 || t >= m.nT {
							continue
						}
						v += tr.z[zOff+t*L+l] * k[j*L+l]
					}
					tr.conv[cOff+tc*L+l] = v
				}
			}
			for tau := 0; tau < m.bins; tau++ {
				start, end := m.window(tau)
				for l := 0; l < L; l++ {
					f := (s*m.bins+tau)*L + l
					var v float64
					arg := start
					if m.spec.PoolType == model.PoolAvg {
						for tc := start; tc < end; tc++ {
							v += m.act.Func(tr.conv[cOff+tc*L+l])
						}
						v /= float64(end - start)
					} else {
						v = math.Inf(-1)
						for tc := start; tc < end; tc++ {
							if a := m.act.Func(tr.conv[cOff+tc*L+l]); a > v {
								v, arg = a, tc
							}
						}
					}
					tr.feat[i*m.features+f] = v
					tr.argmax[i*m.features+f] = arg
				}
			}
		}
	}

	feat := tr.feat
	if train && m.spec.Dropout > 0 {
		keep := 1 - m.spec.Dropout
		tr.mask = make([]float64, len(feat))
		feat = make([]float64, len(tr.feat))
		for i := range feat {
			if m.rng.Float64() < keep {
				tr.mask[i] = 1 / keep
			}
			feat[i] = tr.feat[i] * tr.mask[i]
		}
	}
	fw := mat.NewDense(m.features, m.out, m.params[4].data)
	logits := mat.NewDense(b, m.out, nil)
	logits.Mul(mat.NewDense(b, m.features, feat), fw)
	fb := m.params[5].data
	for i := 0; i < b; i++ {
		for j := 0; j < m.out; j++ {
			logits.Set(i, j, logits.At(i, j)+fb[j])
		}
	}
	tr.logits = logits
	return tr
}

// window is the conv-time range [start, end) pooled into bin tau.
func (m *LFCNN) window(tau int) (int, int) {
	start := tau * m.spec.Stride
	end := start + m.spec.Pooling
	if end > m.convLen {
		end = m.convLen
	}
	return start, end
}

func (m *LFCNN) backward(x *ndarray.Array4, tr *trace, dlogits *mat.Dense) [][]float64 {
	L := m.latent
	grads := make([][]float64, len(m.params))
	for i, p := range m.params {
		grads[i] = make([]float64, len(p.data))
	}
	gw, gbd, gk, gbc, gfw, gfb := grads[0], grads[1], grads[2], grads[3], grads[4], grads[5]
	k := m.params[2].data
	fw := m.params[4].data

	feat := tr.feat
	if tr.mask != nil {
		feat = make([]float64, len(tr.feat))
		for i := range feat {
			feat[i] = tr.feat[i] * tr.mask[i]
		}
	}

	dfeat := make([]float64, m.features)
	dconv := make([]float64, m.convLen*L)
	dz := make([]float64, m.nT*L)
	for i := 0; i < tr.batch; i++ {
		for j := 0; j < m.out; j++ {
			g := dlogits.At(i, j)
			gfb[j] += g
			if g == 0 {
				continue
			}
			for f := 0; f < m.features; f++ {
				gfw[f*m.out+j] += feat[i*m.features+f] * g
			}
		}
		for f := 0; f < m.features; f++ {
			v := 0.0
			for j := 0; j < m.out; j++ {
				v += fw[f*m.out+j] * dlogits.At(i, j)
			}
			if tr.mask != nil {
				v *= tr.mask[i*m.features+f]
			}
			dfeat[f] = v
		}

		for s := 0; s < m.nSeq; s++ {
			zOff := (i*m.nSeq + s) * m.nT * L
			cOff := (i*m.nSeq + s) * m.convLen * L
			clear(dconv)
			clear(dz)
			for tau := 0; tau < m.bins; tau++ {
				start, end := m.window(tau)
				for l := 0; l < L; l++ {
					f := (s*m.bins+tau)*L + l
					g := dfeat[f]
					if g == 0 {
						continue
					}
					if m.spec.PoolType == model.PoolAvg {
						share := g / float64(end-start)
						for tc := start; tc < end; tc++ {
							dconv[tc*L+l] += share * m.act.Deriv(tr.conv[cOff+tc*L+l])
						}
					} else {
						tc := tr.argmax[i*m.features+f]
						dconv[tc*L+l] += g * m.act.Deriv(tr.conv[cOff+tc*L+l])
					}
				}
			}
			for tc := 0; tc < m.convLen; tc++ {
				for l := 0; l < L; l++ {
					g := dconv[tc*L+l]
					if g == 0 {
						continue
					}
					gbc[l] += g
					for j := 0; j < m.kernel; j++ {
						t := tc - m.padL + j
						if t < 0 || t >= m.nT {
							continue
						}
						gk[j*L+l] += g * tr.z[zOff+t*L+l]
						dz[t*L+l] += g * k[j*L+l]
					}
				}
			}
			for t := 0; t < m.nT; t++ {
				for l := 0; l < L; l++ {
					g := dz[t*L+l]
					if g == 0 {
						continue
					}
					gbd[l] += g
					for ch := 0; ch < m.nCh; ch++ {
						gw[ch*L+l] += g * x.At(i, s, t, ch)
					}
				}
			}
		}
	}
	return grads
}

// penalty returns the L1/L2 regularization term and adds its gradient to grads.
func (m *LFCNN) penalty(grads [][]float64) float64 {
	total := 0.0
	for i, p := range m.params {
		if p.bias {
			continue
		}
		l1 := m.spec.L1 > 0 && m.spec.InL1Scope(p.layer)
		l2 := m.spec.L2 > 0 && m.spec.InL2Scope(p.layer)
		if !l1 && !l2 {
			continue
		}
		for j, v := range p.data {
			if l1 {
				total += m.spec.L1 * math.Abs(v)
				if grads != nil {
					grads[i][j] += m.spec.L1 * sign(v)
				}
			}
			if l2 {
				total += m.spec.L2 * v * v
				if grads != nil {
					grads[i][j] += 2 * m.spec.L2 * v
				}
			}
		}
	}
	return total
}

func (m *LFCNN) FitEpoch(ctx context.Context, src dataset.Source, steps int, classWeight []float64) (float64, error) {
	if src == nil {
		return 0, errors.New("fit: nil training source")
	}
	if steps <= 0 {
		steps = src.Steps()
	}
	total := 0.0
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := src.Next()
		if err != nil {
			return 0, errors.Wrap(err, "fit: next batch")
		}
		if err := m.checkInput(batch.X); err != nil {
			return 0, err
		}
		tr := m.forward(batch.X, true)
		loss := m.obj.Loss(tr.logits, batch.Y, classWeight)
		grads := m.backward(batch.X, tr, m.obj.Gradient(tr.logits, batch.Y, classWeight))
		loss += m.penalty(grads)
		m.adam.step(m.params, grads)
		total += loss
	}
	return total / float64(steps), nil
}

func (m *LFCNN) Evaluate(ctx context.Context, src dataset.Source, steps int) (Evaluation, error) {
	if src == nil {
		return Evaluation{}, errors.New("evaluate: nil source")
	}
	if steps <= 0 {
		steps = src.Steps()
	}
	var loss, metric float64
	n := 0
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return Evaluation{}, err
		}
		batch, err := src.Next()
		if err != nil {
			return Evaluation{}, errors.Wrap(err, "evaluate: next batch")
		}
		if err := m.checkInput(batch.X); err != nil {
			return Evaluation{}, err
		}
		tr := m.forward(batch.X, false)
		size := batch.Size()
		loss += m.obj.Loss(tr.logits, batch.Y, nil) * float64(size)
		metric += m.obj.Metric(m.obj.Output(tr.logits), batch.Y) * float64(size)
		n += size
	}
	if n == 0 {
		return Evaluation{}, errors.New("evaluate: no samples")
	}
	return Evaluation{Loss: loss / float64(n), Metric: metric / float64(n)}, nil
}

func (m *LFCNN) Predict(ctx context.Context, x *ndarray.Array4) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	return m.obj.Output(m.forward(x, false).logits), nil
}

func (m *LFCNN) Loss(ctx context.Context, x *ndarray.Array4, y mat.Matrix) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.checkInput(x); err != nil {
		return 0, err
	}
	return m.obj.Loss(m.forward(x, false).logits, y, nil), nil
}

func (m *LFCNN) LatentActivations(ctx context.Context, x *ndarray.Array4) (*ndarray.Array3, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	tr := m.forward(x, false)
	return ndarray.Reshape3(tr.feat, x.Shape[0], m.nSeq*m.bins, m.latent)
}

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(params []*tensor, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p.data))
		a.v[i] = make([]float64, len(p.data))
	}
	return a
}

func (a *adam) step(params []*tensor, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, p := range params {
		for j, g := range grads[i] {
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g*g
			p.data[j] -= a.lr * (a.m[i][j] / c1) / (math.Sqrt(a.v[i][j]/c2) + a.eps)
		}
	}
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func cloneFloats(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
