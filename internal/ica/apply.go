package ica

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"gonum.org/v1/gonum/mat"
)

var ErrChannelNotFound = errors.New("channel not found")

// channelData returns the model channels of rec, centred and scaled the way
// the model was fitted, as an n x T matrix.
func channelData(m *models.ICA, rec *models.Recording) (*mat.Dense, []int, error) {
	n, T := m.NChannels(), rec.NSamples()
	if m.NComponents < 1 || len(m.Unmixing) != m.NComponents*n || len(m.Mixing) != m.NComponents*n || len(m.Mean) != n {
		return nil, nil, fmt.Errorf("ica: malformed model (%d components, %d channels)", m.NComponents, n)
	}
	idx := make([]int, n)
	x := mat.NewDense(n, T, nil)
	for j, name := range m.Channels {
		c := rec.ChannelIndex(name)
		if c < 0 {
			return nil, nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
		}
		idx[j] = c
		row := x.RawRowView(j)
		for t, v := range rec.Data[c] {
			row[t] = (v - m.Mean[j]) / m.Scale
		}
	}
	return x, idx, nil
}

// Sources returns the component time courses of rec, [component][sample].
func Sources(m *models.ICA, rec *models.Recording) ([][]float64, error) {
	x, _, err := channelData(m, rec)
	if err != nil {
		return nil, err
	}
	u := mat.NewDense(m.NComponents, m.NChannels(), m.Unmixing)
	var s mat.Dense
	s.Mul(u, x)

	out := make([][]float64, m.NComponents)
	for k := range out {
		out[k] = append([]float64(nil), s.RawRowView(k)...)
	}
	return out, nil
}

// Apply removes the components listed in m.Exclude from rec in place. Only
// the channels the model was fitted on are touched.
func Apply(m *models.ICA, rec *models.Recording) error {
	exclude := validExclude(m)
	if len(exclude) == 0 {
		return nil
	}
	x, idx, err := channelData(m, rec)
	if err != nil {
		return err
	}
	n := m.NChannels()

	uEx := mat.NewDense(len(exclude), n, nil)
	aEx := mat.NewDense(n, len(exclude), nil)
	for r, k := range exclude {
		for j := 0; j < n; j++ {
			uEx.Set(r, j, m.UnmixingAt(k, j))
			aEx.Set(j, r, m.MixingAt(j, k))
		}
	}

	var s, artifact mat.Dense
	s.Mul(uEx, x)
	artifact.Mul(aEx, &s)

	for j, c := range idx {
		row := artifact.RawRowView(j)
		data := rec.Data[c]
		for t := range data {
			data[t] -= m.Scale * row[t]
		}
	}
	return nil
}

func validExclude(m *models.ICA) []int {
	seen := make(map[int]bool, len(m.Exclude))
	var out []int
	for _, k := range m.Exclude {
		if k < 0 || k >= m.NComponents || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
