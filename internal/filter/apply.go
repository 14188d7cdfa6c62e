package filter

import (
	"context"
	"fmt"

	"github.com/himanishpuri/NeuroPrep/internal/parallel"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/mjibson/go-dsp/fft"
)

// Apply convolves x with the linear-phase kernel h, compensating the group
// delay so the output is aligned with the input. Edges are padded by
// reflection (zeros beyond one signal length). The FFT overlap-add path keeps
// long kernels affordable.
func Apply(x, h []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	m := (len(h) - 1) / 2
	ext := reflectPad(x, m)

	full := overlapAdd(ext, h)
	out := make([]float64, len(x))
	copy(out, full[2*m:2*m+len(x)])
	return out
}

func reflectPad(x []float64, m int) []float64 {
	n := len(x)
	ext := make([]float64, n+2*m)
	copy(ext[m:], x)
	for k := 0; k < m; k++ {
		if idx := m - k; idx < n {
			ext[k] = x[idx]
		}
		if idx := n - 2 - k; idx >= 0 {
			ext[m+n+k] = x[idx]
		}
	}
	return ext
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// overlapAdd returns the full linear convolution of x and h.
func overlapAdd(x, h []float64) []float64 {
	nfft := nextPow2(2 * len(h))
	if nfft < 256 {
		nfft = 256
	}
	block := nfft - len(h) + 1

	hp := make([]float64, nfft)
	copy(hp, h)
	hf := fft.FFTReal(hp)

	out := make([]float64, len(x)+len(h)-1)
	seg := make([]float64, nfft)
	for start := 0; start < len(x); start += block {
		for i := range seg {
			seg[i] = 0
		}
		end := min(start+block, len(x))
		copy(seg, x[start:end])

		sf := fft.FFTReal(seg)
		for i := range sf {
			sf[i] *= hf[i]
		}
		y := fft.IFFT(sf)
		for i := 0; i < nfft && start+i < len(out); i++ {
			out[start+i] += real(y[i])
		}
	}
	return out
}

// Rows filters every row of data, fanning out over the process worker pool.
// The input is not modified.
func Rows(ctx context.Context, data [][]float64, sfreq float64, band Band) ([][]float64, error) {
	h, err := Design(sfreq, band)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(data))
	err = parallel.ForEach(ctx, len(data), func(_ context.Context, i int) error {
		out[i] = Apply(data[i], h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recording band-passes the EEG channels of rec in place (bad channels
// included, other channel types untouched) and records the new pass band.
func Recording(ctx context.Context, rec *models.Recording, band Band) error {
	h, err := Design(rec.SFreq, band)
	if err != nil {
		return err
	}
	var picks []int
	for i, ch := range rec.Channels {
		if ch.Type == models.ChannelEEG {
			picks = append(picks, i)
		}
	}
	if len(picks) == 0 {
		return fmt.Errorf("no EEG channels to filter")
	}

	err = parallel.ForEach(ctx, len(picks), func(_ context.Context, i int) error {
		c := picks[i]
		rec.Data[c] = Apply(rec.Data[c], h)
		return nil
	})
	if err != nil {
		return err
	}

	if band.LFreq > 0 {
		rec.Highpass = band.LFreq
	}
	if band.HFreq > 0 {
		rec.Lowpass = band.HFreq
	}
	return nil
}
