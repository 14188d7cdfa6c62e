package neuroprep

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/NeuroPrep/internal/evoked"
	plotting "github.com/himanishpuri/NeuroPrep/internal/plot"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"gonum.org/v1/plot"
)

func generateEvokes(stor Storage, log Logger, paths []string, cond1, cond2 string) (*Evokes, error) {
	if len(paths) == 0 {
		return nil, errors.New("no epochs files given")
	}
	if cond1 == "" || cond2 == "" || cond1 == cond2 {
		return nil, fmt.Errorf("need two distinct conditions, got %q and %q", cond1, cond2)
	}
	out := &Evokes{
		Conditions: [2]string{cond1, cond2},
		Sources:    make([]string, 0, len(paths)),
		Cond1:      make([]*models.Evoked, 0, len(paths)),
		Cond2:      make([]*models.Evoked, 0, len(paths)),
	}
	for _, path := range paths {
		ep, _, err := stor.ReadEpochs(path)
		if err != nil {
			return nil, fmt.Errorf("loading epochs: %w", err)
		}
		ev1, err := evoked.Average(ep, cond1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		ev2, err := evoked.Average(ep, cond2)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		log.Debugf("%s: %s nave=%g, %s nave=%g", path, cond1, ev1.Nave, cond2, ev2.Nave)
		out.Sources = append(out.Sources, path)
		out.Cond1 = append(out.Cond1, ev1)
		out.Cond2 = append(out.Cond2, ev2)
	}
	return out, nil
}

func pairs(ev *Evokes) error {
	if ev == nil || len(ev.Cond1) == 0 {
		return fmt.Errorf("%w: no evoked responses", ErrMismatch)
	}
	if len(ev.Cond1) != len(ev.Cond2) {
		return fmt.Errorf("%w: %d %s responses for %d %s responses",
			ErrMismatch, len(ev.Cond1), ev.Conditions[0], len(ev.Cond2), ev.Conditions[1])
	}
	return nil
}

// GenerateDiffEvokes returns cond1 - cond2 for every subject, in order.
func GenerateDiffEvokes(ev *Evokes) ([]*models.Evoked, error) {
	if err := pairs(ev); err != nil {
		return nil, err
	}
	out := make([]*models.Evoked, len(ev.Cond1))
	for i := range ev.Cond1 {
		d, err := evoked.Combine([]*models.Evoked{ev.Cond1[i], ev.Cond2[i]}, []float64{1, -1})
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// GenerateMeanEvokes returns, for every subject, both conditions combined
// with weights proportional to their epoch counts.
func GenerateMeanEvokes(ev *Evokes) ([]*models.Evoked, error) {
	if err := pairs(ev); err != nil {
		return nil, err
	}
	out := make([]*models.Evoked, len(ev.Cond1))
	for i := range ev.Cond1 {
		m, err := evoked.CombineNave([]*models.Evoked{ev.Cond1[i], ev.Cond2[i]})
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}

// CompareEvokeWave plots the grand average of both conditions at one
// channel: cond1 solid blue, cond2 dashed red. vlines marks times in
// seconds; nil marks stimulus onset. The figure is written to outPath
// unless it is empty.
func CompareEvokeWave(ev *Evokes, channel string, vlines []float64, outPath string) (*plot.Plot, error) {
	if err := pairs(ev); err != nil {
		return nil, err
	}
	ga1, err := evoked.GrandAverage(ev.Cond1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ev.Conditions[0], err)
	}
	ga2, err := evoked.GrandAverage(ev.Cond2)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ev.Conditions[1], err)
	}
	tr1, err := trace(ga1, channel, ev.Conditions[0])
	if err != nil {
		return nil, err
	}
	tr2, err := trace(ga2, channel, ev.Conditions[1])
	if err != nil {
		return nil, err
	}
	tr1.Color = plotting.Blue
	tr2.Color, tr2.Dashed = plotting.Red, true

	p, err := plotting.Waves([]plotting.Trace{tr1, tr2}, plotting.Options{
		Title:  channel + " :  " + ev.Conditions[0] + " vs. " + ev.Conditions[1],
		VLines: onset(vlines, ga1),
		Zero:   true,
	})
	if err != nil {
		return nil, err
	}
	return p, save(p, outPath)
}

// ShowDifferenceWave plots the mean of the per-subject difference waves at
// one channel.
func ShowDifferenceWave(diffs []*models.Evoked, channel, outPath string) (*plot.Plot, error) {
	if len(diffs) == 0 {
		return nil, fmt.Errorf("%w: no difference waves", ErrMismatch)
	}
	mean, err := evoked.GrandAverage(diffs)
	if err != nil {
		return nil, err
	}
	tr, err := trace(mean, channel, "diff_evoke")
	if err != nil {
		return nil, err
	}
	p, err := plotting.Waves([]plotting.Trace{tr}, plotting.Options{
		Title:  channel + "Difference Wave",
		VLines: onset(nil, mean),
		Zero:   true,
	})
	if err != nil {
		return nil, err
	}
	return p, save(p, outPath)
}

func trace(ev *models.Evoked, channel, label string) (plotting.Trace, error) {
	values, ok := ev.Channel(channel)
	if !ok {
		return plotting.Trace{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	return plotting.Trace{Label: label, Times: ev.Times(), Values: values}, nil
}

func onset(vlines []float64, ev *models.Evoked) []float64 {
	if vlines != nil {
		return vlines
	}
	times := ev.Times()
	if len(times) > 0 && times[0] <= 0 && times[len(times)-1] >= 0 {
		return []float64{0}
	}
	return nil
}

func save(p *plot.Plot, path string) error {
	if path == "" {
		return nil
	}
	return plotting.Save(p, path)
}
