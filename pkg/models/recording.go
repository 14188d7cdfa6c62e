package models

import (
	"time"
)

// Annotation marks a labelled span of a recording. Onset is in seconds from the
// first sample.
type Annotation struct {
	Onset       float64
	Duration    float64
	Description string
}

// Event is a (sample index, event code) pair.
type Event struct {
	Sample int
	Code   int
}

// Recording is a continuous multi-channel time series held in volts.
// Data is indexed [channel][sample].
type Recording struct {
	SFreq       float64
	Channels    []Channel
	Data        [][]float64
	Bads        []string
	MeasDate    time.Time
	Annotations []Annotation
	// Projections lists pending (not yet applied) projector names.
	Projections []string
	Highpass    float64
	Lowpass     float64
	CustomRef   bool
}

func (r *Recording) NChannels() int { return len(r.Channels) }

func (r *Recording) NSamples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Duration returns the recording length in seconds.
func (r *Recording) Duration() float64 {
	if r.SFreq <= 0 {
		return 0
	}
	return float64(r.NSamples()) / r.SFreq
}

// ChannelIndex returns the index of name or -1.
func (r *Recording) ChannelIndex(name string) int {
	return findChannel(r.Channels, name)
}

func (r *Recording) ChannelNames() []string {
	names := make([]string, len(r.Channels))
	for i, ch := range r.Channels {
		names[i] = ch.Name
	}
	return names
}

func (r *Recording) IsBad(name string) bool {
	return containsFold(r.Bads, name)
}

// Picks returns the indices of non-bad channels of type t.
func (r *Recording) Picks(t ChannelType) []int {
	var idx []int
	for i, ch := range r.Channels {
		if ch.Type == t && !r.IsBad(ch.Name) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Copy returns a deep copy.
func (r *Recording) Copy() *Recording {
	out := *r
	out.Channels = copyChannels(r.Channels)
	out.Data = make([][]float64, len(r.Data))
	for i, row := range r.Data {
		out.Data[i] = append([]float64(nil), row...)
	}
	out.Bads = append([]string(nil), r.Bads...)
	out.Annotations = append([]Annotation(nil), r.Annotations...)
	out.Projections = append([]string(nil), r.Projections...)
	return &out
}
