package models

// ICA holds a fitted independent component decomposition restricted to the
// channels it was fitted on.
//
// For channel data x (one column per sample) the sources are
//
//	s = Unmixing · (x - Mean) / Scale
//
// and the data is recovered as x = Mean + Scale · Mixing · s.
type ICA struct {
	Method      string
	Channels    []string
	Mean        []float64
	Scale       float64
	NComponents int
	// Unmixing is NComponents x len(Channels), row-major.
	Unmixing []float64
	// Mixing is len(Channels) x NComponents, row-major.
	Mixing            []float64
	ExplainedVariance float64
	NIter             int
	Converged         bool
	// Exclude lists the components removed by Apply, in decision order.
	Exclude []int
	// Labels groups detected components by detector name ("eog", "muscle").
	Labels map[string][]int
	// Scores keeps the per-detector component scores used for the decision.
	Scores map[string][]float64
}

func (m *ICA) NChannels() int { return len(m.Channels) }

// UnmixingAt returns element (component k, channel j).
func (m *ICA) UnmixingAt(k, j int) float64 { return m.Unmixing[k*len(m.Channels)+j] }

// MixingAt returns element (channel j, component k).
func (m *ICA) MixingAt(j, k int) float64 { return m.Mixing[j*m.NComponents+k] }
