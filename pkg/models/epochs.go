package models

import (
	"sort"
	"strings"
)

// Epochs is a set of equal-length windows cut around events.
// Data is indexed [epoch][channel][time].
type Epochs struct {
	SFreq    float64
	TMin     float64
	Channels []Channel
	Bads     []string
	Data     [][][]float64
	Events   []Event
	// EventID maps condition labels (e.g. "con/MC/s") to event codes.
	EventID map[string]int
	// Baseline is the applied baseline window; nil when none was applied.
	Baseline *[2]float64
}

func (e *Epochs) Len() int { return len(e.Data) }

func (e *Epochs) NTimes() int {
	if len(e.Data) == 0 || len(e.Data[0]) == 0 {
		return 0
	}
	return len(e.Data[0][0])
}

// Times returns the time (seconds) of each sample relative to the event.
func (e *Epochs) Times() []float64 {
	n := e.NTimes()
	times := make([]float64, n)
	for i := range times {
		times[i] = e.TMin + float64(i)/e.SFreq
	}
	return times
}

func (e *Epochs) TMax() float64 {
	n := e.NTimes()
	if n == 0 {
		return e.TMin
	}
	return e.TMin + float64(n-1)/e.SFreq
}

func (e *Epochs) ChannelIndex(name string) int {
	return findChannel(e.Channels, name)
}

func (e *Epochs) IsBad(name string) bool {
	return containsFold(e.Bads, name)
}

func (e *Epochs) Picks(t ChannelType) []int {
	var idx []int
	for i, ch := range e.Channels {
		if ch.Type == t && !e.IsBad(ch.Name) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Labels returns the condition labels sorted by event code.
func (e *Epochs) Labels() []string {
	labels := make([]string, 0, len(e.EventID))
	for l := range e.EventID {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if e.EventID[labels[i]] == e.EventID[labels[j]] {
			return labels[i] < labels[j]
		}
		return e.EventID[labels[i]] < e.EventID[labels[j]]
	})
	return labels
}

// Label returns the condition label of epoch i, or "" if its code is unknown.
func (e *Epochs) Label(i int) string {
	for l, code := range e.EventID {
		if code == e.Events[i].Code {
			return l
		}
	}
	return ""
}

// MatchTags reports whether label matches selector using "/"-separated tags:
// every tag of the selector must appear among the tags of the label, so the
// label "con/MC/s" matches "con", "MC/s" and "s/con".
func MatchTags(label, selector string) bool {
	if label == selector {
		return true
	}
	tags := strings.Split(label, "/")
	for _, want := range strings.Split(selector, "/") {
		found := false
		for _, tag := range tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Subset returns a copy holding only the epochs at idx, in order.
func (e *Epochs) Subset(idx []int) *Epochs {
	out := &Epochs{
		SFreq:    e.SFreq,
		TMin:     e.TMin,
		Channels: copyChannels(e.Channels),
		Bads:     append([]string(nil), e.Bads...),
		Data:     make([][][]float64, 0, len(idx)),
		Events:   make([]Event, 0, len(idx)),
		EventID:  make(map[string]int, len(e.EventID)),
	}
	if e.Baseline != nil {
		b := *e.Baseline
		out.Baseline = &b
	}
	for l, c := range e.EventID {
		out.EventID[l] = c
	}
	for _, i := range idx {
		ep := make([][]float64, len(e.Data[i]))
		for c, row := range e.Data[i] {
			ep[c] = append([]float64(nil), row...)
		}
		out.Data = append(out.Data, ep)
		out.Events = append(out.Events, e.Events[i])
	}
	return out
}

// Copy returns a deep copy.
func (e *Epochs) Copy() *Epochs {
	idx := make([]int, e.Len())
	for i := range idx {
		idx[i] = i
	}
	return e.Subset(idx)
}
