package models

// Evoked is the average of a set of epochs. Data is indexed [channel][time].
type Evoked struct {
	Comment  string
	SFreq    float64
	TMin     float64
	Channels []Channel
	Bads     []string
	Data     [][]float64
	// Nave is the effective number of averaged epochs.
	Nave float64
}

func (ev *Evoked) NTimes() int {
	if len(ev.Data) == 0 {
		return 0
	}
	return len(ev.Data[0])
}

func (ev *Evoked) Times() []float64 {
	times := make([]float64, ev.NTimes())
	for i := range times {
		times[i] = ev.TMin + float64(i)/ev.SFreq
	}
	return times
}

func (ev *Evoked) ChannelIndex(name string) int {
	return findChannel(ev.Channels, name)
}

// Channel returns a copy of the waveform of the named channel.
func (ev *Evoked) Channel(name string) ([]float64, bool) {
	i := ev.ChannelIndex(name)
	if i < 0 {
		return nil, false
	}
	return append([]float64(nil), ev.Data[i]...), true
}
