package recording

import (
	"errors"
	"math"
	"sort"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

var ErrNoReferenceChannels = errors.New("no good EEG channels to reference")

// MarkBads appends the named channels to rec's bad list. Names that are not
// in the recording are returned and otherwise ignored.
func MarkBads(rec *models.Recording, names []string) (unmatched []string) {
	for _, name := range names {
		i := rec.ChannelIndex(name)
		if i < 0 {
			unmatched = append(unmatched, name)
			continue
		}
		if !rec.IsBad(rec.Channels[i].Name) {
			rec.Bads = append(rec.Bads, rec.Channels[i].Name)
		}
	}
	return unmatched
}

// SetChannelTypes sets the type of the named channels. Names that are not in
// the recording are returned and otherwise ignored.
func SetChannelTypes(rec *models.Recording, names []string, t models.ChannelType) (unmatched []string) {
	for _, name := range names {
		i := rec.ChannelIndex(name)
		if i < 0 {
			unmatched = append(unmatched, name)
			continue
		}
		rec.Channels[i].Type = t
	}
	return unmatched
}

// SetAverageReference subtracts the mean of the good EEG channels from every
// good EEG channel. Bad channels and other channel types are left alone.
func SetAverageReference(rec *models.Recording) error {
	picks := rec.Picks(models.ChannelEEG)
	if len(picks) == 0 {
		return ErrNoReferenceChannels
	}
	n := rec.NSamples()
	for t := 0; t < n; t++ {
		mean := 0.0
		for _, c := range picks {
			mean += rec.Data[c][t]
		}
		mean /= float64(len(picks))
		for _, c := range picks {
			rec.Data[c][t] -= mean
		}
	}
	rec.CustomRef = true
	return nil
}

// DeleteProjections drops pending projectors so they cannot be applied twice.
func DeleteProjections(rec *models.Recording) {
	rec.Projections = nil
}

// SetAnnotations replaces rec's annotations.
func SetAnnotations(rec *models.Recording, anns []models.Annotation) {
	rec.Annotations = append([]models.Annotation(nil), anns...)
}

// EventsFromAnnotations converts annotations back into events. Descriptions
// receive ids 1..n in sorted order; annotations whose onset falls outside the
// data are skipped. Events are returned ordered by sample.
func EventsFromAnnotations(rec *models.Recording) ([]models.Event, map[string]int) {
	descs := make([]string, 0)
	seen := make(map[string]bool)
	for _, a := range rec.Annotations {
		if !seen[a.Description] {
			seen[a.Description] = true
			descs = append(descs, a.Description)
		}
	}
	sort.Strings(descs)
	eventID := make(map[string]int, len(descs))
	for i, d := range descs {
		eventID[d] = i + 1
	}

	n := rec.NSamples()
	events := make([]models.Event, 0, len(rec.Annotations))
	for _, a := range rec.Annotations {
		s := int(math.Round(a.Onset * rec.SFreq))
		if s < 0 || s >= n {
			continue
		}
		events = append(events, models.Event{Sample: s, Code: eventID[a.Description]})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Sample < events[j].Sample })
	return events, eventID
}
