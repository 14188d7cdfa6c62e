// Package epochs cuts continuous recordings into event-locked windows and
// cleans them with automated peak-to-peak rejection and interpolation.
package epochs

import (
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

var ErrNoEvents = errors.New("no events to epoch")

// BuildStats reports what Build did with the events it was given.
type BuildStats struct {
	Events       int
	OutOfBounds  int
	UnknownCodes int
}

// Build cuts one epoch per event covering [tmin, tmax] seconds around the
// event sample, both ends included. Events whose window does not fit in the
// data, or whose code is not in eventID, are skipped and counted in the
// stats. If baseline is non-nil the mean over that window is subtracted per
// channel and epoch. All channels are kept, bad ones included.
func Build(rec *models.Recording, events []models.Event, eventID map[string]int, tmin, tmax float64, baseline *[2]float64) (*models.Epochs, BuildStats, error) {
	stats := BuildStats{Events: len(events)}
	if len(events) == 0 {
		return nil, stats, ErrNoEvents
	}
	if tmax < tmin {
		return nil, stats, fmt.Errorf("tmax %.3g is before tmin %.3g", tmax, tmin)
	}

	start := int(math.Round(tmin * rec.SFreq))
	stop := int(math.Round(tmax * rec.SFreq))
	nt := stop - start + 1

	var b0, b1 int
	if baseline != nil {
		var err error
		if b0, b1, err = baselineRange(*baseline, tmin, start, nt, rec.SFreq); err != nil {
			return nil, stats, err
		}
	}

	known := make(map[int]bool, len(eventID))
	for _, code := range eventID {
		known[code] = true
	}

	ep := &models.Epochs{
		SFreq:    rec.SFreq,
		TMin:     float64(start) / rec.SFreq,
		Channels: make([]models.Channel, len(rec.Channels)),
		Bads:     append([]string(nil), rec.Bads...),
		EventID:  make(map[string]int, len(eventID)),
	}
	for i, ch := range rec.Channels {
		ep.Channels[i] = ch
		if ch.Pos != nil {
			p := *ch.Pos
			ep.Channels[i].Pos = &p
		}
	}
	for l, c := range eventID {
		ep.EventID[l] = c
	}
	if baseline != nil {
		b := *baseline
		ep.Baseline = &b
	}

	n := rec.NSamples()
	for _, ev := range events {
		if !known[ev.Code] {
			stats.UnknownCodes++
			continue
		}
		first := ev.Sample + start
		if first < 0 || first+nt > n {
			stats.OutOfBounds++
			continue
		}
		data := make([][]float64, rec.NChannels())
		for c := range data {
			row := append([]float64(nil), rec.Data[c][first:first+nt]...)
			if baseline != nil {
				subtractMean(row, b0, b1)
			}
			data[c] = row
		}
		ep.Data = append(ep.Data, data)
		ep.Events = append(ep.Events, ev)
	}
	if ep.Len() == 0 {
		return nil, stats, fmt.Errorf("%w: all %d events fall outside the data", ErrNoEvents, len(events))
	}
	return ep, stats, nil
}

// baselineRange converts a baseline window in seconds to sample offsets
// [b0, b1) within an epoch.
func baselineRange(win [2]float64, tmin float64, start, nt int, sfreq float64) (int, int, error) {
	lo, hi := win[0], win[1]
	if lo > hi {
		return 0, 0, fmt.Errorf("baseline start %.3g is after its end %.3g", lo, hi)
	}
	b0 := int(math.Round(lo*sfreq)) - start
	b1 := int(math.Round(hi*sfreq)) - start + 1
	b0 = max(b0, 0)
	b1 = min(b1, nt)
	if b1 <= b0 {
		return 0, 0, fmt.Errorf("baseline (%.3g, %.3g) is outside the epoch starting at %.3g", lo, hi, tmin)
	}
	return b0, b1, nil
}

func subtractMean(row []float64, b0, b1 int) {
	mean := 0.0
	for _, v := range row[b0:b1] {
		mean += v
	}
	mean /= float64(b1 - b0)
	for i := range row {
		row[i] -= mean
	}
}
