package patterns

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// NFreqs is the number of frequency bins between 0 and Nyquist.
	NFreqs = 128
	nfft   = 2 * NFreqs
	// WelchSegment is the Welch segment length in samples.
	WelchSegment = 256
)

// Freqs returns the bin centres k/NFreqs * fs/2 shared by spectra and PSDs.
func Freqs(fs float64) []float64 {
	out := make([]float64, NFreqs)
	for k := range out {
		out[k] = float64(k) / NFreqs * fs / 2
	}
	return out
}

// FrequencyResponse is |H(w)| of a demeaned FIR filter at NFreqs points in [0, pi).
func FrequencyResponse(filter []float64) []float64 {
	seq := make([]float64, nfft)
	n := len(filter)
	if n > nfft {
		n = nfft
	}
	mean := 0.0
	for _, v := range filter[:n] {
		mean += v
	}
	if n > 0 {
		mean /= float64(n)
	}
	for i := 0; i < n; i++ {
		seq[i] = filter[i] - mean
	}
	coeff := fourier.NewFFT(nfft).Coefficients(nil, seq)
	out := make([]float64, NFreqs)
	for k := range out {
		out[k] = cmplx.Abs(coeff[k])
	}
	return out
}

// Welch estimates the one-sided power spectral density of x with a periodic
// Hann window, 50% overlap, constant detrending and density scaling. The
// Nyquist bin is dropped so the result has NFreqs entries.
func Welch(x []float64, fs float64) []float64 {
	out := make([]float64, NFreqs)
	if len(x) == 0 {
		return out
	}
	if fs <= 0 {
		fs = 1
	}
	nperseg := WelchSegment
	if len(x) < nperseg {
		nperseg = len(x)
	}
	step := nperseg - nperseg/2
	window := make([]float64, nperseg)
	wss := 0.0
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nperseg))
		wss += window[i] * window[i]
	}
	if wss == 0 {
		return out
	}
	scale := 1 / (fs * wss)

	fft := fourier.NewFFT(nfft)
	seg := make([]float64, nfft)
	acc := make([]float64, nfft/2+1)
	var coeff []complex128
	segments := 0
	for start := 0; start+nperseg <= len(x); start += step {
		mean := 0.0
		for _, v := range x[start : start+nperseg] {
			mean += v
		}
		mean /= float64(nperseg)
		clear(seg)
		for i := 0; i < nperseg; i++ {
			seg[i] = (x[start+i] - mean) * window[i]
		}
		coeff = fft.Coefficients(coeff, seg)
		for k := range acc {
			p := real(coeff[k])*real(coeff[k]) + imag(coeff[k])*imag(coeff[k])
			if k > 0 && k < nfft/2 {
				p *= 2
			}
			acc[k] += p * scale
		}
		segments++
	}
	for k := range out {
		out[k] = acc[k] / float64(segments)
	}
	return out
}
