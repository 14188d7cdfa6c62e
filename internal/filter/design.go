// Package filter implements zero-phase FIR band-pass filtering of EEG signals.
//
// Kernels are Hamming-windowed sincs whose length follows the usual EEG
// defaults: the transition band is a quarter of the cutoff, clamped to
// [2 Hz, cutoff] at the low edge and to the Nyquist margin at the high edge,
// and the length is 3.3 / transition * sfreq taps.
package filter

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
)

var ErrInvalidBand = errors.New("invalid filter band")

// Band describes a pass band. A non-positive LFreq disables the high-pass
// edge and a non-positive HFreq disables the low-pass edge.
type Band struct {
	LFreq float64
	HFreq float64
}

func (b Band) String() string {
	switch {
	case b.LFreq > 0 && b.HFreq > 0:
		return fmt.Sprintf("%.3g-%.3g Hz band-pass", b.LFreq, b.HFreq)
	case b.LFreq > 0:
		return fmt.Sprintf("%.3g Hz high-pass", b.LFreq)
	default:
		return fmt.Sprintf("%.3g Hz low-pass", b.HFreq)
	}
}

func (b Band) validate(sfreq float64) error {
	nyq := sfreq / 2
	if sfreq <= 0 {
		return fmt.Errorf("%w: sampling rate %.3g", ErrInvalidBand, sfreq)
	}
	if b.LFreq <= 0 && b.HFreq <= 0 {
		return fmt.Errorf("%w: both edges disabled", ErrInvalidBand)
	}
	if b.HFreq >= nyq {
		return fmt.Errorf("%w: h_freq %.3g must be below Nyquist %.3g", ErrInvalidBand, b.HFreq, nyq)
	}
	if b.LFreq > 0 && b.HFreq > 0 && b.LFreq >= b.HFreq {
		return fmt.Errorf("%w: l_freq %.3g >= h_freq %.3g", ErrInvalidBand, b.LFreq, b.HFreq)
	}
	return nil
}

// transitions returns the low and high transition bandwidths (0 when the
// corresponding edge is disabled).
func (b Band) transitions(sfreq float64) (lTrans, hTrans float64) {
	nyq := sfreq / 2
	if b.LFreq > 0 {
		lTrans = math.Min(math.Max(0.25*b.LFreq, 2), b.LFreq)
	}
	if b.HFreq > 0 {
		hTrans = math.Min(math.Max(0.25*b.HFreq, 2), nyq-b.HFreq)
	}
	return lTrans, hTrans
}

// Design returns an odd-length linear-phase kernel for band at sfreq.
func Design(sfreq float64, band Band) ([]float64, error) {
	if err := band.validate(sfreq); err != nil {
		return nil, err
	}
	lTrans, hTrans := band.transitions(sfreq)

	minTrans := math.Inf(1)
	if lTrans > 0 {
		minTrans = lTrans
	}
	if hTrans > 0 && hTrans < minTrans {
		minTrans = hTrans
	}
	n := int(math.Round(3.3 / minTrans * sfreq))
	if n < 1 {
		n = 1
	}
	if n%2 == 0 {
		n++
	}

	mid := (n - 1) / 2
	h := make([]float64, n)
	switch {
	case band.LFreq > 0 && band.HFreq > 0:
		hi := lowpass(n, (band.HFreq+hTrans/2)/sfreq)
		lo := lowpass(n, (band.LFreq-lTrans/2)/sfreq)
		for i := range h {
			h[i] = hi[i] - lo[i]
		}
	case band.HFreq > 0:
		copy(h, lowpass(n, (band.HFreq+hTrans/2)/sfreq))
	default:
		lo := lowpass(n, (band.LFreq-lTrans/2)/sfreq)
		for i := range h {
			h[i] = -lo[i]
		}
		h[mid] += 1
	}

	win := window.Hamming(n)
	for i := range h {
		h[i] *= win[i]
	}
	return h, nil
}

// lowpass returns an unwindowed ideal low-pass kernel with normalized cutoff
// fc (cycles per sample).
func lowpass(n int, fc float64) []float64 {
	mid := (n - 1) / 2
	h := make([]float64, n)
	for i := range h {
		k := float64(i - mid)
		h[i] = 2 * fc * sinc(2*fc*k)
	}
	return h
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
