// Package ica decomposes EEG recordings into independent components with
// FastICA and flags components that carry eye or muscle artifacts.
package ica

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrTooFewChannels = errors.New("ica needs at least two good EEG channels")
	ErrNotConverged   = errors.New("fastica did not converge")
)

const (
	DefaultVariance = 0.999
	DefaultMaxIter  = 200
	DefaultTol      = 1e-4
	DefaultSeed     = 97

	// columns of whitened data processed per FastICA update step
	chunkSize = 8192
)

type Options struct {
	// NComponents selects the PCA dimension: a value in (0, 1) keeps the
	// smallest number of components explaining that share of the variance,
	// a value >= 1 is taken as a component count.
	NComponents float64
	MaxIter     int
	Tol         float64
	Seed        uint64
}

func (o Options) withDefaults() Options {
	if o.NComponents <= 0 {
		o.NComponents = DefaultVariance
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Tol <= 0 {
		o.Tol = DefaultTol
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	return o
}

// Fit runs PCA whitening followed by symmetric FastICA (logcosh contrast) on
// the good EEG channels of rec. When the iteration limit is hit the model is
// still returned, with Converged false, together with ErrNotConverged.
func Fit(ctx context.Context, rec *models.Recording, opts Options) (*models.ICA, error) {
	opts = opts.withDefaults()

	picks := rec.Picks(models.ChannelEEG)
	if len(picks) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewChannels, len(picks))
	}
	nch, T := len(picks), rec.NSamples()
	if T < nch {
		return nil, fmt.Errorf("ica: %d samples is too short for %d channels", T, nch)
	}

	m := &models.ICA{
		Method:   "fastica",
		Channels: make([]string, nch),
		Mean:     make([]float64, nch),
		Labels:   make(map[string][]int),
		Scores:   make(map[string][]float64),
	}
	for j, c := range picks {
		m.Channels[j] = rec.Channels[c].Name
		m.Mean[j] = stat.Mean(rec.Data[c], nil)
	}

	// a single scale for the whole channel type, as a pre-whitener
	var ss float64
	for j, c := range picks {
		for _, v := range rec.Data[c] {
			d := v - m.Mean[j]
			ss += d * d
		}
	}
	m.Scale = math.Sqrt(ss / float64(nch*T))
	if m.Scale == 0 {
		return nil, fmt.Errorf("ica: data is flat")
	}

	x := mat.NewDense(nch, T, nil)
	for j, c := range picks {
		row := x.RawRowView(j)
		for t, v := range rec.Data[c] {
			row[t] = (v - m.Mean[j]) / m.Scale
		}
	}

	k, white, dewhite, explained, err := whiten(x, opts.NComponents)
	if err != nil {
		return nil, err
	}
	m.NComponents = k
	m.ExplainedVariance = explained

	var z mat.Dense
	z.Mul(white, x)

	w, nIter, converged, err := fastICA(ctx, &z, k, opts)
	if err != nil {
		return nil, err
	}
	m.NIter = nIter
	m.Converged = converged

	var unmixing, mixing mat.Dense
	unmixing.Mul(w, white)
	mixing.Mul(dewhite, w.T())
	order(&unmixing, &mixing)

	m.Unmixing = append([]float64(nil), unmixing.RawMatrix().Data...)
	m.Mixing = append([]float64(nil), mixing.RawMatrix().Data...)

	if !converged {
		return m, fmt.Errorf("%w after %d iterations", ErrNotConverged, nIter)
	}
	return m, nil
}

// whiten returns the PCA whitening (k x n) and de-whitening (n x k) matrices
// for x (n x T, zero mean).
func whiten(x *mat.Dense, nComponents float64) (k int, white, dewhite *mat.Dense, explained float64, err error) {
	n, T := x.Dims()
	var cov mat.SymDense
	cov.SymOuterK(1/float64(T-1), x)

	var es mat.EigenSym
	if ok := es.Factorize(&cov, true); !ok {
		return 0, nil, nil, 0, fmt.Errorf("ica: eigendecomposition failed")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// descending
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })

	total := 0.0
	for _, v := range vals {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return 0, nil, nil, 0, fmt.Errorf("ica: covariance is zero")
	}
	rank := 0
	for _, i := range idx {
		if vals[i] > vals[idx[0]]*1e-10 {
			rank++
		}
	}

	switch {
	case nComponents >= 1:
		k = int(nComponents)
	default:
		cum := 0.0
		for _, i := range idx {
			k++
			cum += vals[i]
			if cum/total >= nComponents {
				break
			}
		}
	}
	k = max(1, min(k, rank))

	white = mat.NewDense(k, n, nil)
	dewhite = mat.NewDense(n, k, nil)
	for r := 0; r < k; r++ {
		i := idx[r]
		sd := math.Sqrt(vals[i])
		explained += vals[i]
		for c := 0; c < n; c++ {
			white.Set(r, c, vecs.At(c, i)/sd)
			dewhite.Set(c, r, vecs.At(c, i)*sd)
		}
	}
	return k, white, dewhite, explained / total, nil
}

// fastICA estimates an orthogonal rotation w (k x k) of the whitened data z.
func fastICA(ctx context.Context, z *mat.Dense, k int, opts Options) (*mat.Dense, int, bool, error) {
	_, T := z.Dims()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	w := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			w.Set(i, j, rng.NormFloat64())
		}
	}
	if err := symDecorrelate(w); err != nil {
		return nil, 0, false, err
	}

	gz := mat.NewDense(k, k, nil)
	gpMean := make([]float64, k)
	var wz, contrib mat.Dense

	for iter := 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, iter, false, err
		}

		gz.Zero()
		for i := range gpMean {
			gpMean[i] = 0
		}
		for start := 0; start < T; start += chunkSize {
			end := min(start+chunkSize, T)
			zc := z.Slice(0, k, start, end)
			wz.Reset()
			wz.Mul(w, zc)
			for i := 0; i < k; i++ {
				row := wz.RawRowView(i)
				for t, v := range row {
					g := math.Tanh(v)
					row[t] = g
					gpMean[i] += 1 - g*g
				}
			}
			contrib.Reset()
			contrib.Mul(&wz, zc.T())
			gz.Add(gz, &contrib)
		}

		w1 := mat.NewDense(k, k, nil)
		for i := 0; i < k; i++ {
			gp := gpMean[i] / float64(T)
			for j := 0; j < k; j++ {
				w1.Set(i, j, gz.At(i, j)/float64(T)-gp*w.At(i, j))
			}
		}
		if err := symDecorrelate(w1); err != nil {
			return nil, iter, false, err
		}

		// max change of direction of any unmixing vector
		var lim float64
		for i := 0; i < k; i++ {
			dot := 0.0
			for j := 0; j < k; j++ {
				dot += w1.At(i, j) * w.At(i, j)
			}
			lim = math.Max(lim, math.Abs(math.Abs(dot)-1))
		}
		w = w1
		if lim < opts.Tol {
			return w, iter, true, nil
		}
	}
	return w, opts.MaxIter, false, nil
}

// symDecorrelate replaces w with (w wᵀ)^(-1/2) w.
func symDecorrelate(w *mat.Dense) error {
	k, _ := w.Dims()
	var s mat.SymDense
	s.SymOuterK(1, w)

	var es mat.EigenSym
	if ok := es.Factorize(&s, true); !ok {
		return fmt.Errorf("ica: decorrelation failed")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	scaled := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			scaled.Set(i, j, vecs.At(i, j)/math.Sqrt(math.Max(vals[j], 1e-300)))
		}
	}
	var inv, out mat.Dense
	inv.Mul(scaled, vecs.T())
	out.Mul(&inv, w)
	w.Copy(&out)
	return nil
}

// order sorts components by the energy of their mixing column (largest
// first) and fixes each sign so the largest mixing weight is positive.
func order(unmixing, mixing *mat.Dense) {
	k, n := unmixing.Dims()
	energy := make([]float64, k)
	sign := make([]float64, k)
	for c := 0; c < k; c++ {
		peak := 0.0
		sign[c] = 1
		for j := 0; j < n; j++ {
			v := mixing.At(j, c)
			energy[c] += v * v
			if math.Abs(v) > peak {
				peak = math.Abs(v)
				sign[c] = math.Copysign(1, v)
			}
		}
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return energy[idx[a]] > energy[idx[b]] })

	u := mat.DenseCopyOf(unmixing)
	a := mat.DenseCopyOf(mixing)
	for dst, src := range idx {
		for j := 0; j < n; j++ {
			unmixing.Set(dst, j, sign[src]*u.At(src, j))
			mixing.Set(j, dst, sign[src]*a.At(j, src))
		}
	}
}
