package evoked

import (
	"testing"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEpochs() *models.Epochs {
	// code 1: con/MC/s with values 1 and 3, code 2: inc/MC/s with value 10
	mk := func(v float64) [][]float64 {
		return [][]float64{{v, v, v}, {-v, -v, -v}}
	}
	return &models.Epochs{
		SFreq:    100,
		TMin:     -0.01,
		Channels: []models.Channel{{Name: "Cz"}, {Name: "Pz"}},
		Bads:     []string{"Pz"},
		Data:     [][][]float64{mk(1), mk(10), mk(3)},
		Events:   []models.Event{{Sample: 10, Code: 1}, {Sample: 20, Code: 2}, {Sample: 30, Code: 1}},
		EventID:  map[string]int{"con/MC/s": 1, "inc/MC/s": 2},
	}
}

func TestAverageByTag(t *testing.T) {
	ep := testEpochs()

	con, err := Average(ep, "con")
	require.NoError(t, err)
	assert.Equal(t, 2.0, con.Nave)
	assert.Equal(t, []float64{2, 2, 2}, con.Data[0])
	assert.Equal(t, []float64{-2, -2, -2}, con.Data[1])
	assert.Equal(t, "con", con.Comment)
	assert.Equal(t, []string{"Pz"}, con.Bads)

	all, err := Average(ep, "MC/s")
	require.NoError(t, err)
	assert.Equal(t, 3.0, all.Nave)
	assert.Equal(t, []float64{14.0 / 3, 14.0 / 3, 14.0 / 3}, all.Data[0])
}

func TestAverageUnknownCondition(t *testing.T) {
	_, err := Average(testEpochs(), "nope")
	assert.ErrorIs(t, err, ErrConditionNotFound)

	ep := testEpochs().Subset([]int{1})
	_, err = Average(ep, "con")
	assert.ErrorIs(t, err, ErrConditionNotFound)
}

func evokedOf(v, nave float64) *models.Evoked {
	return &models.Evoked{
		Comment:  "x",
		SFreq:    100,
		Channels: []models.Channel{{Name: "Cz"}},
		Data:     [][]float64{{v, 2 * v}},
		Nave:     nave,
	}
}

func TestCombineDifference(t *testing.T) {
	a, b := evokedOf(5, 10), evokedOf(2, 40)
	b.Bads = []string{"Cz"}

	diff, err := Combine([]*models.Evoked{a, b}, []float64{1, -1})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, diff.Data[0])
	// 1 / (1/10 + 1/40)
	assert.InDelta(t, 8.0, diff.Nave, 1e-12)
	assert.Equal(t, []string{"Cz"}, diff.Bads)
}

func TestCombineNave(t *testing.T) {
	a, b := evokedOf(1, 30), evokedOf(5, 10)

	mean, err := CombineNave([]*models.Evoked{a, b})
	require.NoError(t, err)
	// (30·1 + 10·5) / 40
	assert.InDelta(t, 2.0, mean.Data[0][0], 1e-12)
	assert.InDelta(t, 40.0, mean.Nave, 1e-9)
}

func TestGrandAverage(t *testing.T) {
	ga, err := GrandAverage([]*models.Evoked{evokedOf(1, 3), evokedOf(3, 50)})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, ga.Data[0][0], 1e-12)
	assert.Equal(t, "grand average", ga.Comment)
}

func TestCombineMismatch(t *testing.T) {
	a := evokedOf(1, 1)
	other := evokedOf(1, 1)
	other.Channels[0].Name = "Pz"
	_, err := Combine([]*models.Evoked{a, other}, []float64{1, -1})
	assert.ErrorIs(t, err, ErrMismatch)

	short := evokedOf(1, 1)
	short.Data[0] = short.Data[0][:1]
	_, err = Combine([]*models.Evoked{a, short}, []float64{1, -1})
	assert.ErrorIs(t, err, ErrMismatch)

	_, err = Combine([]*models.Evoked{a}, []float64{1, -1})
	assert.ErrorIs(t, err, ErrMismatch)

	_, err = Combine(nil, nil)
	assert.ErrorIs(t, err, ErrMismatch)
}
