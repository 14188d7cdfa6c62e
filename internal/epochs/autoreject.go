package epochs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/himanishpuri/NeuroPrep/internal/parallel"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

var ErrEmptyEpochs = errors.New("no epochs")

const (
	DefaultFolds      = 10
	DefaultNeighbours = 4
)

var (
	DefaultConsensus    = []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}
	DefaultNInterpolate = []int{1, 4, 32}
)

// Options tunes AutoReject. Zero values select the defaults.
type Options struct {
	// Consensus candidates: the fraction of bad channels above which an
	// epoch is dropped.
	Consensus []float64
	// NInterpolate candidates: the most bad channels repaired per epoch.
	NInterpolate []int
	Folds        int
	// Neighbours used to interpolate a channel.
	Neighbours int
}

func (o Options) withDefaults() Options {
	if len(o.Consensus) == 0 {
		o.Consensus = DefaultConsensus
	}
	if len(o.NInterpolate) == 0 {
		o.NInterpolate = DefaultNInterpolate
	}
	if o.Folds <= 0 {
		o.Folds = DefaultFolds
	}
	if o.Neighbours <= 0 {
		o.Neighbours = DefaultNeighbours
	}
	return o
}

// cell identifies (epoch, pick).
type cell struct{ e, p int }

type rejector struct {
	ep    *models.Epochs
	picks []int
	opts  Options
	ptp   [][]float64 // [epoch][pick]
	thr   []float64   // [pick]
	bad   [][]bool    // [epoch][pick]
	nbad  []int
}

// AutoReject learns a peak-to-peak threshold per good EEG channel by
// cross-validation, marks (epoch, channel) cells above it as bad, then picks
// the consensus and interpolation limits that best predict held-out epochs.
// Epochs with more than consensus x channels bad are dropped; in the others
// up to NInterp of the worst bad channels are interpolated from their
// nearest positioned neighbours. Other channels pass through untouched.
//
// The returned epochs never outnumber the input; the log is indexed like the
// input.
func AutoReject(ctx context.Context, ep *models.Epochs, opts Options) (*models.Epochs, *models.RejectLog, error) {
	opts = opts.withDefaults()
	if ep == nil || ep.Len() == 0 {
		return nil, nil, ErrEmptyEpochs
	}
	picks := ep.Picks(models.ChannelEEG)
	if len(picks) == 0 {
		return nil, nil, fmt.Errorf("autoreject: no good EEG channels")
	}

	r := &rejector{ep: ep, picks: picks, opts: opts}
	r.computePTP()
	if err := r.fitThresholds(ctx); err != nil {
		return nil, nil, err
	}
	r.markBad()

	rho, kappa, err := r.fitConsensus(ctx)
	if err != nil {
		return nil, nil, err
	}

	log := &models.RejectLog{
		Channels:   make([]string, len(picks)),
		BadEpochs:  make([]bool, ep.Len()),
		Labels:     make([][]int8, ep.Len()),
		Thresholds: make(map[string]float64, len(picks)),
		Consensus:  rho,
		NInterp:    kappa,
	}
	for p, c := range picks {
		log.Channels[p] = ep.Channels[c].Name
		log.Thresholds[ep.Channels[c].Name] = r.thr[p]
	}

	repaired := r.interpolate(kappa)
	var keep []int
	for e := range ep.Data {
		row := make([]int8, len(picks))
		for p := range picks {
			if r.bad[e][p] {
				row[p] = models.CellBad
			}
		}
		if r.dropped(e, rho) {
			log.BadEpochs[e] = true
		} else {
			keep = append(keep, e)
			for cl := range repaired {
				if cl.e == e {
					row[cl.p] = models.CellInterpolated
				}
			}
		}
		log.Labels[e] = row
	}

	out := ep.Subset(keep)
	for i, e := range keep {
		for p := range picks {
			if rep, ok := repaired[cell{e, p}]; ok {
				out.Data[i][picks[p]] = rep
			}
		}
	}
	return out, log, nil
}

func (r *rejector) computePTP() {
	r.ptp = make([][]float64, r.ep.Len())
	for e, data := range r.ep.Data {
		r.ptp[e] = make([]float64, len(r.picks))
		for p, c := range r.picks {
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, v := range data[c] {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			r.ptp[e][p] = hi - lo
		}
	}
}

func (r *rejector) folds() int {
	return min(r.opts.Folds, r.ep.Len())
}

func (r *rejector) fitThresholds(ctx context.Context) error {
	r.thr = make([]float64, len(r.picks))
	return parallel.ForEach(ctx, len(r.picks), func(_ context.Context, p int) error {
		r.thr[p] = r.fitThreshold(p)
		return nil
	})
}

// fitThreshold tries every observed peak-to-peak value of channel p as the
// threshold and keeps the one whose training mean best matches the median
// of the held-out epochs.
func (r *rejector) fitThreshold(p int) float64 {
	n := r.ep.Len()
	c := r.picks[p]
	cands := make([]float64, 0, n)
	for e := 0; e < n; e++ {
		cands = append(cands, r.ptp[e][p])
	}
	sort.Float64s(cands)
	cands = uniq(cands)

	k := r.folds()
	if k < 2 {
		return cands[len(cands)-1]
	}

	nt := r.ep.NTimes()
	errs := make([]float64, len(cands))
	sum := make([]float64, nt)
	mean := make([]float64, nt)
	for f := 0; f < k; f++ {
		var train, val []int
		for e := 0; e < n; e++ {
			if e%k == f {
				val = append(val, e)
			} else {
				train = append(train, e)
			}
		}
		target := median(r.ep.Data, val, c, nt)
		sort.Slice(train, func(a, b int) bool { return r.ptp[train[a]][p] < r.ptp[train[b]][p] })

		for i := range sum {
			sum[i] = 0
		}
		next := 0
		for ci, th := range cands {
			for next < len(train) && r.ptp[train[next]][p] <= th {
				for t, v := range r.ep.Data[train[next]][c] {
					sum[t] += v
				}
				next++
			}
			if next == 0 {
				errs[ci] = math.Inf(1)
				continue
			}
			for t := range mean {
				mean[t] = sum[t] / float64(next)
			}
			errs[ci] += rmse(mean, target)
		}
	}

	best := 0
	for ci, e := range errs {
		if e < errs[best] {
			best = ci
		}
	}
	return cands[best]
}

func (r *rejector) markBad() {
	r.bad = make([][]bool, r.ep.Len())
	r.nbad = make([]int, r.ep.Len())
	for e := range r.bad {
		r.bad[e] = make([]bool, len(r.picks))
		for p := range r.picks {
			if r.ptp[e][p] > r.thr[p] {
				r.bad[e][p] = true
				r.nbad[e]++
			}
		}
	}
}

func (r *rejector) dropped(e int, rho float64) bool {
	return float64(r.nbad[e]) > rho*float64(len(r.picks))
}

// fitConsensus grid-searches (consensus, n_interpolate) by cross-validation:
// the cleaned training mean is scored against the median of the raw held-out
// epochs over all picks.
func (r *rejector) fitConsensus(ctx context.Context) (float64, int, error) {
	rhos := append([]float64(nil), r.opts.Consensus...)
	sort.Float64s(rhos)
	kappas := r.opts.NInterpolate

	n, nt := r.ep.Len(), r.ep.NTimes()
	k := r.folds()
	if k < 2 {
		return rhos[len(rhos)-1], kappas[0], nil
	}

	errs := make([][]float64, len(kappas))
	err := parallel.ForEach(ctx, len(kappas), func(ctx context.Context, ki int) error {
		errs[ki] = make([]float64, len(rhos))
		repaired := r.interpolate(kappas[ki])
		sum := make([][]float64, len(r.picks))
		mean := make([][]float64, len(r.picks))
		for p := range sum {
			sum[p] = make([]float64, nt)
			mean[p] = make([]float64, nt)
		}
		target := make([][]float64, len(r.picks))

		for f := 0; f < k; f++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			var train, val []int
			for e := 0; e < n; e++ {
				if e%k == f {
					val = append(val, e)
				} else {
					train = append(train, e)
				}
			}
			for p, c := range r.picks {
				target[p] = median(r.ep.Data, val, c, nt)
				for t := range sum[p] {
					sum[p][t] = 0
				}
			}
			sort.SliceStable(train, func(a, b int) bool { return r.nbad[train[a]] < r.nbad[train[b]] })

			next := 0
			for ri, rho := range rhos {
				for next < len(train) && !r.dropped(train[next], rho) {
					e := train[next]
					for p, c := range r.picks {
						row := r.ep.Data[e][c]
						if rep, ok := repaired[cell{e, p}]; ok {
							row = rep
						}
						for t, v := range row {
							sum[p][t] += v
						}
					}
					next++
				}
				if next == 0 {
					errs[ki][ri] = math.Inf(1)
					continue
				}
				total := 0.0
				for p := range sum {
					for t := range mean[p] {
						mean[p][t] = sum[p][t] / float64(next)
					}
					e := rmse(mean[p], target[p])
					total += e * e
				}
				errs[ki][ri] += math.Sqrt(total / float64(len(r.picks)))
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	bestK, bestR := 0, 0
	for ki := range kappas {
		for ri := range rhos {
			if errs[ki][ri] < errs[bestK][bestR] {
				bestK, bestR = ki, ri
			}
		}
	}
	return rhos[bestR], kappas[bestK], nil
}

// interpolate repairs, in every epoch, the kappa bad channels with the
// largest threshold excess (all of them when fewer are bad). Channels
// without a position, or without positioned good neighbours, stay bad.
func (r *rejector) interpolate(kappa int) map[cell][]float64 {
	out := make(map[cell][]float64)
	for e := range r.ep.Data {
		if r.nbad[e] == 0 {
			continue
		}
		var bad []int
		for p := range r.picks {
			if r.bad[e][p] {
				bad = append(bad, p)
			}
		}
		sort.SliceStable(bad, func(a, b int) bool {
			return r.ptp[e][bad[a]]/r.thr[bad[a]] > r.ptp[e][bad[b]]/r.thr[bad[b]]
		})
		if len(bad) > kappa {
			bad = bad[:kappa]
		}
		for _, p := range bad {
			if row := r.interpolateCell(e, p); row != nil {
				out[cell{e, p}] = row
			}
		}
	}
	return out
}

// interpolateCell estimates pick p of epoch e as the inverse squared
// distance weighted mean of its nearest good neighbours.
func (r *rejector) interpolateCell(e, p int) []float64 {
	target := r.ep.Channels[r.picks[p]].Pos
	if target == nil {
		return nil
	}
	type neighbour struct {
		p int
		d float64
	}
	var cands []neighbour
	for q, c := range r.picks {
		pos := r.ep.Channels[c].Pos
		if q == p || r.bad[e][q] || pos == nil {
			continue
		}
		dx, dy, dz := pos.X-target.X, pos.Y-target.Y, pos.Z-target.Z
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		if d == 0 {
			continue
		}
		cands = append(cands, neighbour{q, d})
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
	if len(cands) > r.opts.Neighbours {
		cands = cands[:r.opts.Neighbours]
	}

	row := make([]float64, r.ep.NTimes())
	wsum := 0.0
	for _, nb := range cands {
		w := 1 / (nb.d * nb.d)
		wsum += w
		for t, v := range r.ep.Data[e][r.picks[nb.p]] {
			row[t] += w * v
		}
	}
	for t := range row {
		row[t] /= wsum
	}
	return row
}

// median returns the per-sample median of channel c over the given epochs.
func median(data [][][]float64, epochs []int, c, nt int) []float64 {
	out := make([]float64, nt)
	buf := make([]float64, len(epochs))
	for t := 0; t < nt; t++ {
		for i, e := range epochs {
			buf[i] = data[e][c][t]
		}
		sort.Float64s(buf)
		m := len(buf) / 2
		if len(buf)%2 == 1 {
			out[t] = buf[m]
		} else {
			out[t] = (buf[m-1] + buf[m]) / 2
		}
	}
	return out
}

func rmse(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(a)))
}

// uniq compacts a sorted slice.
func uniq(x []float64) []float64 {
	var out []float64
	for _, v := range x {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
