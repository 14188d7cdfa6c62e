package ica

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/himanishpuri/NeuroPrep/internal/filter"
	"github.com/himanishpuri/NeuroPrep/internal/parallel"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/stat"
)

const (
	LabelEOG    = "eog"
	LabelMuscle = "muscle"
)

var ErrNoEOGChannels = errors.New("none of the EOG reference channels are present")

// DefaultEOGChannels are the frontal electrodes used as blink/saccade proxies
// when the montage has no dedicated EOG channels.
var DefaultEOGChannels = []string{"FP1", "FP2", "F8"}

var (
	eogBand = filter.Band{LFreq: 1, HFreq: 10}

	// log-log slope fit range for the muscle detector
	muscleFMin = 7.0
	muscleFMax = 45.0
)

const outlierMaxIter = 3

// FindBadsEOG correlates every component with each reference channel of rec
// after band-passing both to 1-10 Hz, and flags components whose correlation
// is an outlier (|z| > threshold, re-estimated up to three times with the
// flagged components excluded). Reference names are matched
// case-insensitively and missing ones are skipped.
//
// The result is the union over reference channels ordered by strongest
// absolute correlation. m.Labels["eog"] and m.Scores["eog"] are updated.
func FindBadsEOG(ctx context.Context, m *models.ICA, rec *models.Recording, refs []string, threshold float64) ([]int, error) {
	if len(refs) == 0 {
		refs = DefaultEOGChannels
	}
	var refRows [][]float64
	for _, name := range refs {
		if c := rec.ChannelIndex(name); c >= 0 {
			refRows = append(refRows, rec.Data[c])
		}
	}
	if len(refRows) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoEOGChannels, refs)
	}

	sources, err := Sources(m, rec)
	if err != nil {
		return nil, err
	}
	sources, err = filter.Rows(ctx, sources, rec.SFreq, eogBand)
	if err != nil {
		return nil, fmt.Errorf("filter sources: %w", err)
	}
	refRows, err = filter.Rows(ctx, refRows, rec.SFreq, eogBand)
	if err != nil {
		return nil, fmt.Errorf("filter references: %w", err)
	}

	best := make([]float64, m.NComponents)
	flagged := make(map[int]bool)
	for _, ref := range refRows {
		scores := make([]float64, m.NComponents)
		for k, src := range sources {
			r := stat.Correlation(src, ref, nil)
			if math.IsNaN(r) {
				r = 0
			}
			scores[k] = r
			best[k] = math.Max(best[k], math.Abs(r))
		}
		for _, k := range findOutliers(scores, threshold, outlierMaxIter) {
			flagged[k] = true
		}
	}

	idx := sortedByScore(flagged, best)
	setLabel(m, LabelEOG, idx, best)
	return idx, nil
}

// FindBadsMuscle scores each component on how flat its spectrum is between
// 7 and 45 Hz (slope of log power against log frequency) and how focal its
// scalp map is (excess kurtosis of the mixing column). Both features are
// z-scored across components and summed; components scoring above threshold
// are flagged, highest score first. m.Labels["muscle"] and
// m.Scores["muscle"] are updated.
func FindBadsMuscle(ctx context.Context, m *models.ICA, rec *models.Recording, threshold float64) ([]int, error) {
	sources, err := Sources(m, rec)
	if err != nil {
		return nil, err
	}

	slopes := make([]float64, m.NComponents)
	err = parallel.ForEach(ctx, len(sources), func(_ context.Context, k int) error {
		slopes[k] = spectralSlope(sources[k], rec.SFreq)
		return nil
	})
	if err != nil {
		return nil, err
	}

	focal := make([]float64, m.NComponents)
	col := make([]float64, m.NChannels())
	for k := range focal {
		for j := range col {
			col[j] = math.Abs(m.MixingAt(j, k))
		}
		focal[k] = stat.ExKurtosis(col, nil)
		if math.IsNaN(focal[k]) {
			focal[k] = 0
		}
	}

	zs, zf := zscore(slopes), zscore(focal)
	scores := make([]float64, m.NComponents)
	flagged := make(map[int]bool)
	for k := range scores {
		scores[k] = zs[k] + zf[k]
		if scores[k] > threshold {
			flagged[k] = true
		}
	}

	idx := sortedByScore(flagged, scores)
	setLabel(m, LabelMuscle, idx, scores)
	return idx, nil
}

// spectralSlope fits log10(power) against log10(frequency) over the muscle
// band using a Welch estimate with roughly 1 Hz resolution.
func spectralSlope(x []float64, sfreq float64) float64 {
	nfft := 1
	for nfft < int(sfreq) {
		nfft <<= 1
	}
	for nfft > len(x) && nfft > 8 {
		nfft >>= 1
	}
	pxx, freqs := spectral.Pwelch(x, sfreq, &spectral.PwelchOptions{
		NFFT:     nfft,
		Noverlap: nfft / 2,
		Window:   window.Hamming,
	})

	fmax := math.Min(muscleFMax, sfreq/2)
	var lf, lp []float64
	for i, f := range freqs {
		if f < muscleFMin || f > fmax || pxx[i] <= 0 {
			continue
		}
		lf = append(lf, math.Log10(f))
		lp = append(lp, math.Log10(pxx[i]))
	}
	if len(lf) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(lf, lp, nil, false)
	return beta
}

// findOutliers returns, in ascending order, the indices whose |z| exceeds
// threshold. The z-scores are recomputed on the remaining values until no new
// outlier appears or maxIter passes have run.
func findOutliers(x []float64, threshold float64, maxIter int) []int {
	bad := make([]bool, len(x))
	for iter := 0; iter < maxIter; iter++ {
		var keep []float64
		for i, v := range x {
			if !bad[i] {
				keep = append(keep, v)
			}
		}
		if len(keep) < 2 {
			break
		}
		mean, std := stat.PopMeanStdDev(keep, nil)
		if std == 0 {
			break
		}
		found := false
		for i, v := range x {
			if !bad[i] && math.Abs(v-mean)/std > threshold {
				bad[i] = true
				found = true
			}
		}
		if !found {
			break
		}
	}
	var out []int
	for i, b := range bad {
		if b {
			out = append(out, i)
		}
	}
	return out
}

func zscore(x []float64) []float64 {
	out := make([]float64, len(x))
	mean, std := stat.PopMeanStdDev(x, nil)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out
}

func sortedByScore(set map[int]bool, score []float64) []int {
	idx := make([]int, 0, len(set))
	for k := range set {
		idx = append(idx, k)
	}
	sort.Slice(idx, func(a, b int) bool {
		if score[idx[a]] == score[idx[b]] {
			return idx[a] < idx[b]
		}
		return score[idx[a]] > score[idx[b]]
	})
	return idx
}

func setLabel(m *models.ICA, label string, idx []int, scores []float64) {
	if m.Labels == nil {
		m.Labels = make(map[string][]int)
	}
	if m.Scores == nil {
		m.Scores = make(map[string][]float64)
	}
	m.Labels[label] = append([]int(nil), idx...)
	m.Scores[label] = append([]float64(nil), scores...)
}

// MergeExclude concatenates component lists in order, dropping repeats.
func MergeExclude(lists ...[]int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, l := range lists {
		for _, k := range l {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
