package epochs

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepRecording() *models.Recording {
	// 0 before sample 500, 1 from there on, on both channels
	n := 1000
	rec := &models.Recording{
		SFreq: 100,
		Channels: []models.Channel{
			{Name: "Cz", Type: models.ChannelEEG, Pos: &models.Position{Z: 0.095}},
			{Name: "EOG", Type: models.ChannelEOG},
		},
		Bads: []string{"EOG"},
		Data: [][]float64{make([]float64, n), make([]float64, n)},
	}
	for c := range rec.Data {
		for i := 500; i < n; i++ {
			rec.Data[c][i] = 1
		}
	}
	return rec
}

func TestBuild(t *testing.T) {
	rec := stepRecording()
	events := []models.Event{
		{Sample: 10, Code: 1},  // window starts before the data
		{Sample: 500, Code: 1}, // step at t=0
		{Sample: 600, Code: 2},
		{Sample: 700, Code: 9}, // unknown code
		{Sample: 980, Code: 2}, // window ends after the data
	}
	eventID := map[string]int{"con/MC/s": 1, "inc/MC/s": 2}

	ep, stats, err := Build(rec, events, eventID, -0.2, 0.3, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ep.Len())
	assert.Equal(t, 1, stats.UnknownCodes)
	assert.Equal(t, 2, stats.OutOfBounds)
	assert.Equal(t, 51, ep.NTimes())
	assert.InDelta(t, -0.2, ep.TMin, 1e-12)
	assert.InDelta(t, 0.3, ep.TMax(), 1e-12)
	assert.Equal(t, []models.Event{{Sample: 500, Code: 1}, {Sample: 600, Code: 2}}, ep.Events)
	assert.Equal(t, []string{"EOG"}, ep.Bads)
	assert.Len(t, ep.Data[0], 2)

	// no baseline: raw values
	assert.Equal(t, 0.0, ep.Data[0][0][19])
	assert.Equal(t, 1.0, ep.Data[0][0][20])
	assert.Nil(t, ep.Baseline)

	// positions are copied, not shared
	ep.Channels[0].Pos.Z = 1
	assert.Equal(t, 0.095, rec.Channels[0].Pos.Z)
}

func TestBuildBaseline(t *testing.T) {
	rec := stepRecording()
	events := []models.Event{{Sample: 500, Code: 1}, {Sample: 600, Code: 1}}

	ep, _, err := Build(rec, events, map[string]int{"a": 1}, -0.2, 0.3, &[2]float64{-0.2, 0})
	require.NoError(t, err)
	require.NotNil(t, ep.Baseline)

	// baseline [-0.2, 0] spans samples 0..20: twenty zeros and one 1
	first := ep.Data[0][0]
	assert.InDelta(t, -1.0/21, first[0], 1e-12)
	assert.InDelta(t, 1-1.0/21, first[50], 1e-12)

	// flat epoch: baseline removes the offset
	for _, v := range ep.Data[1][0] {
		assert.InDelta(t, 0, v, 1e-12)
	}
}

func TestBuildErrors(t *testing.T) {
	rec := stepRecording()
	_, _, err := Build(rec, nil, map[string]int{"a": 1}, -0.2, 0.3, nil)
	assert.ErrorIs(t, err, ErrNoEvents)

	_, stats, err := Build(rec, []models.Event{{Sample: 5, Code: 1}}, map[string]int{"a": 1}, -0.2, 0.3, nil)
	assert.ErrorIs(t, err, ErrNoEvents)
	assert.Equal(t, 1, stats.OutOfBounds)

	_, _, err = Build(rec, []models.Event{{Sample: 500, Code: 1}}, map[string]int{"a": 1}, 0.3, -0.2, nil)
	assert.Error(t, err)

	_, _, err = Build(rec, []models.Event{{Sample: 500, Code: 1}}, map[string]int{"a": 1}, -0.2, 0.3, &[2]float64{0.5, 0.8})
	assert.Error(t, err)
}

const (
	arChannels = 20
	arEpochs   = 40
	arTimes    = 50
)

// noisyEpochs returns epochs of a shared 10 Hz wave with independent noise
// on channels placed around a circle, together with the clean wave.
func noisyEpochs() (*models.Epochs, []float64) {
	rng := rand.New(rand.NewPCG(7, 11))
	clean := make([]float64, arTimes)
	for t := range clean {
		clean[t] = 10e-6 * math.Sin(2*math.Pi*10*float64(t)/100)
	}

	ep := &models.Epochs{
		SFreq:   100,
		TMin:    -0.1,
		EventID: map[string]int{"a": 1},
	}
	for c := 0; c < arChannels; c++ {
		phi := 2 * math.Pi * float64(c) / arChannels
		ep.Channels = append(ep.Channels, models.Channel{
			Name: "E" + string(rune('A'+c)),
			Type: models.ChannelEEG,
			Pos:  &models.Position{X: 0.09 * math.Cos(phi), Y: 0.09 * math.Sin(phi), Z: 0.03},
		})
	}
	for e := 0; e < arEpochs; e++ {
		data := make([][]float64, arChannels)
		for c := range data {
			row := make([]float64, arTimes)
			for t := range row {
				row[t] = clean[t] + 1e-6*rng.NormFloat64()
			}
			data[c] = row
		}
		ep.Data = append(ep.Data, data)
		ep.Events = append(ep.Events, models.Event{Sample: 100 * e, Code: 1})
	}

	// a single broken channel in epoch 5
	for t := range ep.Data[5][3] {
		ep.Data[5][3][t] += 500e-6 * float64(t%2)
	}
	// everything broken in epoch 12
	for c := range ep.Data[12] {
		for t := range ep.Data[12][c] {
			ep.Data[12][c][t] += 800e-6 * math.Sin(float64(t+c))
		}
	}
	return ep, clean
}

func epochAt(ep *models.Epochs, sample int) int {
	for i, ev := range ep.Events {
		if ev.Sample == sample {
			return i
		}
	}
	return -1
}

func TestAutoRejectDefaults(t *testing.T) {
	ep, _ := noisyEpochs()
	out, log, err := AutoReject(context.Background(), ep, Options{})
	require.NoError(t, err)

	assert.LessOrEqual(t, out.Len(), ep.Len())
	assert.Equal(t, ep.Len()-log.NDropped(), out.Len())
	assert.Len(t, log.BadEpochs, ep.Len())
	assert.Len(t, log.Labels, ep.Len())
	assert.Len(t, log.Channels, arChannels)
	assert.True(t, log.BadEpochs[12])
	assert.Equal(t, -1, epochAt(out, 1200))
	assert.Less(t, log.Consensus, 1.0)
	for _, name := range log.Channels {
		assert.Greater(t, log.Thresholds[name], 0.0)
		assert.Less(t, log.Thresholds[name], 500e-6)
	}

	// input untouched
	assert.Equal(t, arEpochs, ep.Len())
}

func TestAutoRejectInterpolates(t *testing.T) {
	ep, clean := noisyEpochs()
	out, log, err := AutoReject(context.Background(), ep, Options{
		Consensus:    []float64{0.5},
		NInterpolate: []int{4},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, log.Consensus)
	assert.Equal(t, 4, log.NInterp)

	assert.False(t, log.BadEpochs[5])
	assert.Equal(t, models.CellInterpolated, log.Labels[5][3])
	assert.True(t, log.BadEpochs[12])
	assert.Equal(t, models.CellBad, log.Labels[12][0])
	assert.Positive(t, log.NInterpolated())

	i := epochAt(out, 500)
	require.GreaterOrEqual(t, i, 0)
	repaired := out.Data[i][3]
	assert.Less(t, rmse(repaired, clean), 2e-6)
	// broken samples were in the input
	assert.Greater(t, rmse(ep.Data[5][3], clean), 100e-6)
}

func TestAutoRejectLeavesOtherChannels(t *testing.T) {
	ep, _ := noisyEpochs()
	ep.Channels = append(ep.Channels, models.Channel{Name: "HEOG", Type: models.ChannelEOG})
	ep.Bads = []string{"EB"}
	for e := range ep.Data {
		ep.Data[e] = append(ep.Data[e], make([]float64, arTimes))
	}
	ep.Data[5][arChannels][0] = 1

	out, log, err := AutoReject(context.Background(), ep, Options{Consensus: []float64{0.5}, NInterpolate: []int{4}})
	require.NoError(t, err)
	assert.NotContains(t, log.Channels, "HEOG")
	assert.NotContains(t, log.Channels, "EB")
	assert.Len(t, log.Channels, arChannels-1)

	i := epochAt(out, 500)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, 1.0, out.Data[i][arChannels][0])
	assert.Equal(t, ep.Data[5][1], out.Data[i][1])
}

func TestAutoRejectEmpty(t *testing.T) {
	_, _, err := AutoReject(context.Background(), &models.Epochs{}, Options{})
	assert.ErrorIs(t, err, ErrEmptyEpochs)
}

func TestMedian(t *testing.T) {
	data := [][][]float64{
		{{1, 5}},
		{{3, 1}},
		{{2, 2}},
		{{10, 4}},
	}
	assert.Equal(t, []float64{2.5, 3}, median(data, []int{0, 1, 2, 3}, 0, 2))
	assert.Equal(t, []float64{2, 2}, median(data, []int{0, 1, 2}, 0, 2))
}
