package models

// Reject log cell labels.
const (
	CellGood         int8 = 0
	CellBad          int8 = 1
	CellInterpolated int8 = 2
)

// RejectLog records the outcome of automated epoch rejection.
type RejectLog struct {
	// Channels names the columns of Labels.
	Channels []string
	// BadEpochs marks epochs that were dropped, indexed like the input epochs.
	BadEpochs []bool
	// Labels is indexed [epoch][channel] with Cell* values.
	Labels [][]int8
	// Thresholds holds the peak-to-peak threshold (volts) chosen per channel.
	Thresholds map[string]float64
	Consensus  float64
	NInterp    int
}

// NDropped returns the number of dropped epochs.
func (l *RejectLog) NDropped() int {
	n := 0
	for _, b := range l.BadEpochs {
		if b {
			n++
		}
	}
	return n
}

// NInterpolated counts interpolated (epoch, channel) cells.
func (l *RejectLog) NInterpolated() int {
	n := 0
	for _, row := range l.Labels {
		for _, v := range row {
			if v == CellInterpolated {
				n++
			}
		}
	}
	return n
}
