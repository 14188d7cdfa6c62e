// Package evoked averages epochs into evoked responses and combines them.
package evoked

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

var (
	ErrConditionNotFound = errors.New("condition not found")
	ErrMismatch          = errors.New("evoked responses do not line up")
)

// Select returns the indices of the epochs whose condition label matches
// selector (see models.MatchTags).
func Select(ep *models.Epochs, selector string) ([]int, error) {
	codes := make(map[int]bool)
	for label, code := range ep.EventID {
		if models.MatchTags(label, selector) {
			codes[code] = true
		}
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrConditionNotFound, selector, strings.Join(ep.Labels(), ", "))
	}
	var idx []int
	for i, ev := range ep.Events {
		if codes[ev.Code] {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: no epochs left for %q", ErrConditionNotFound, selector)
	}
	return idx, nil
}

// Average returns the mean over the epochs of the given condition. Nave is
// the number of epochs averaged.
func Average(ep *models.Epochs, selector string) (*models.Evoked, error) {
	idx, err := Select(ep, selector)
	if err != nil {
		return nil, err
	}
	nch, nt := len(ep.Channels), ep.NTimes()
	ev := &models.Evoked{
		Comment:  selector,
		SFreq:    ep.SFreq,
		TMin:     ep.TMin,
		Channels: append([]models.Channel(nil), ep.Channels...),
		Bads:     append([]string(nil), ep.Bads...),
		Data:     make([][]float64, nch),
		Nave:     float64(len(idx)),
	}
	for c := range ev.Data {
		row := make([]float64, nt)
		for _, i := range idx {
			for t, v := range ep.Data[i][c] {
				row[t] += v
			}
		}
		for t := range row {
			row[t] /= float64(len(idx))
		}
		ev.Data[c] = row
	}
	return ev, nil
}

// Combine returns Σ wᵢ·evᵢ. The result's Nave is 1 / Σ(wᵢ²/naveᵢ), and its
// bad channels are the union of the inputs'.
func Combine(evs []*models.Evoked, weights []float64) (*models.Evoked, error) {
	if len(evs) == 0 {
		return nil, fmt.Errorf("%w: nothing to combine", ErrMismatch)
	}
	if len(weights) != len(evs) {
		return nil, fmt.Errorf("%w: %d weights for %d responses", ErrMismatch, len(weights), len(evs))
	}
	first := evs[0]
	for _, ev := range evs[1:] {
		if err := compatible(first, ev); err != nil {
			return nil, err
		}
	}

	out := &models.Evoked{
		SFreq:    first.SFreq,
		TMin:     first.TMin,
		Channels: append([]models.Channel(nil), first.Channels...),
		Data:     make([][]float64, len(first.Data)),
	}
	for c := range out.Data {
		out.Data[c] = make([]float64, first.NTimes())
	}

	bads := make(map[string]bool)
	var inv float64
	var comments []string
	for i, ev := range evs {
		w := weights[i]
		for c, row := range ev.Data {
			for t, v := range row {
				out.Data[c][t] += w * v
			}
		}
		for _, b := range ev.Bads {
			if !bads[b] {
				bads[b] = true
				out.Bads = append(out.Bads, b)
			}
		}
		if ev.Nave > 0 {
			inv += w * w / ev.Nave
		}
		comments = append(comments, fmt.Sprintf("%.3g × %s", w, ev.Comment))
	}
	if inv > 0 {
		out.Nave = 1 / inv
	}
	sort.Strings(out.Bads)
	out.Comment = strings.Join(comments, " + ")
	return out, nil
}

// CombineNave weights each response by its share of the total epoch count
// (wᵢ = naveᵢ / Σnave), which yields the average over all underlying
// epochs; the result's Nave is Σnave.
func CombineNave(evs []*models.Evoked) (*models.Evoked, error) {
	total := 0.0
	for _, ev := range evs {
		total += ev.Nave
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: no epochs behind the responses", ErrMismatch)
	}
	weights := make([]float64, len(evs))
	for i, ev := range evs {
		weights[i] = ev.Nave / total
	}
	return Combine(evs, weights)
}

// GrandAverage is the unweighted mean of the responses.
func GrandAverage(evs []*models.Evoked) (*models.Evoked, error) {
	weights := make([]float64, len(evs))
	for i := range weights {
		weights[i] = 1 / float64(len(evs))
	}
	out, err := Combine(evs, weights)
	if err != nil {
		return nil, err
	}
	out.Comment = "grand average"
	return out, nil
}

func compatible(a, b *models.Evoked) error {
	if len(a.Channels) != len(b.Channels) {
		return fmt.Errorf("%w: %d vs %d channels", ErrMismatch, len(a.Channels), len(b.Channels))
	}
	for i := range a.Channels {
		if !strings.EqualFold(a.Channels[i].Name, b.Channels[i].Name) {
			return fmt.Errorf("%w: channel %d is %s vs %s", ErrMismatch, i, a.Channels[i].Name, b.Channels[i].Name)
		}
	}
	if a.NTimes() != b.NTimes() || a.SFreq != b.SFreq || math.Abs(a.TMin-b.TMin) > 0.5/a.SFreq {
		return fmt.Errorf("%w: time axes differ", ErrMismatch)
	}
	return nil
}
