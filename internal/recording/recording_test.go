package recording

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecording(sfreq float64, seconds int) *models.Recording {
	names := []string{"Fp1", "Fp2", "Cz", "Pz", "HEO"}
	n := int(sfreq) * seconds
	rec := &models.Recording{
		SFreq:    sfreq,
		MeasDate: time.Date(2023, 5, 17, 9, 30, 0, 0, time.UTC),
		Channels: make([]models.Channel, len(names)),
		Data:     make([][]float64, len(names)),
	}
	for c, name := range names {
		rec.Channels[c] = models.Channel{Name: name, Type: models.ChannelEEG}
		rec.Data[c] = make([]float64, n)
		for i := range rec.Data[c] {
			rec.Data[c][i] = 20e-6 * math.Sin(2*math.Pi*float64(c+3)*float64(i)/sfreq)
		}
	}
	return rec
}

func TestEDFRoundTrip(t *testing.T) {
	rec := testRecording(250, 4)
	path := filepath.Join(t.TempDir(), "sub1.edf")
	require.NoError(t, WriteEDF(path, rec))

	got, err := Read(path, WAVOptions{})
	require.NoError(t, err)

	assert.Equal(t, 250.0, got.SFreq)
	assert.Equal(t, rec.ChannelNames(), got.ChannelNames())
	assert.Equal(t, rec.NSamples(), got.NSamples())
	assert.True(t, rec.MeasDate.Equal(got.MeasDate))
	for c := range rec.Data {
		for i := 0; i < rec.NSamples(); i += 37 {
			// 16-bit quantization over a ~40 µV range
			assert.InDelta(t, rec.Data[c][i], got.Data[c][i], 2e-8)
		}
	}
}

func TestEDFRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.edf")
	require.NoError(t, WriteWAV(path, testRecording(100, 1), 0))
	_, err := ReadEDF(path)
	assert.Error(t, err)
}

// patchEDFField overwrites one fixed-width header field of an EDF file.
func patchEDFField(t *testing.T, path string, offset, width int, value string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(raw[offset:offset+width], fmt.Sprintf("%-*s", width, value))
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestEDFRejectsBadSampleCounts(t *testing.T) {
	rec := testRecording(100, 2)
	ns := rec.NChannels()
	// first signal's samples-per-record field
	sprOffset := edfFixedHeader + ns*(16+80+8+8+8+8+8+80)
	const nrecOffset = 8 + 80 + 80 + 8 + 8 + 8 + 44

	tests := []struct {
		name       string
		spr, nrec  string
		wantSubstr string
	}{
		{"negative", "-5", "", "-5 samples per record"},
		{"zero with unknown count", "0", "-1", "0 samples per record"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub.edf")
			require.NoError(t, WriteEDF(path, rec))
			patchEDFField(t, path, sprOffset, 8, tt.spr)
			if tt.nrec != "" {
				patchEDFField(t, path, nrecOffset, 8, tt.nrec)
			}

			var err error
			require.NotPanics(t, func() { _, err = ReadEDF(path) })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSubstr)
		})
	}
}

func TestEDFUnknownRecordCount(t *testing.T) {
	rec := testRecording(100, 3)
	path := filepath.Join(t.TempDir(), "sub.edf")
	require.NoError(t, WriteEDF(path, rec))
	patchEDFField(t, path, 8+80+80+8+8+8+44, 8, "-1")

	got, err := ReadEDF(path)
	require.NoError(t, err)
	assert.Equal(t, rec.NSamples(), got.NSamples())
}

func TestWAVRoundTrip(t *testing.T) {
	rec := testRecording(500, 2)
	path := filepath.Join(t.TempDir(), "sub2.wav")
	require.NoError(t, WriteWAV(path, rec, 0))

	got, err := Read(path, WAVOptions{Labels: rec.ChannelNames()})
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.SFreq)
	assert.Equal(t, rec.ChannelNames(), got.ChannelNames())
	require.Equal(t, rec.NSamples(), got.NSamples())
	for c := range rec.Data {
		assert.InDelta(t, rec.Data[c][123], got.Data[c][123], DefaultResolution)
	}
}

func TestWAVDefaultLabels(t *testing.T) {
	rec := testRecording(100, 1)
	path := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, WriteWAV(path, rec, 0))

	got, err := ReadWAV(path, WAVOptions{Labels: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "CH2", "CH3", "CH4", "CH5"}, got.ChannelNames())
}

func TestReadUnknownExtension(t *testing.T) {
	_, err := Read("recording.cdt", WAVOptions{})
	assert.ErrorContains(t, err, "unsupported recording format")
}

func TestMarkBadsAndTypes(t *testing.T) {
	rec := testRecording(100, 1)

	unmatched := MarkBads(rec, []string{"Pz", "F5"})
	assert.Equal(t, []string{"F5"}, unmatched)
	assert.Equal(t, []string{"Pz"}, rec.Bads)

	// marking twice does not duplicate
	MarkBads(rec, []string{"pz"})
	assert.Len(t, rec.Bads, 1)

	unmatched = SetChannelTypes(rec, []string{"HEO", "VEO"}, models.ChannelEOG)
	assert.Equal(t, []string{"VEO"}, unmatched)
	assert.Equal(t, models.ChannelEOG, rec.Channels[4].Type)
	// untouched channels keep their type
	assert.Equal(t, models.ChannelEEG, rec.Channels[2].Type)
}

func TestSetAverageReference(t *testing.T) {
	rec := testRecording(100, 1)
	MarkBads(rec, []string{"Pz"})
	SetChannelTypes(rec, []string{"HEO"}, models.ChannelEOG)
	pz := append([]float64(nil), rec.Data[3]...)
	heo := append([]float64(nil), rec.Data[4]...)

	require.NoError(t, SetAverageReference(rec))
	assert.True(t, rec.CustomRef)

	for i := 0; i < rec.NSamples(); i++ {
		sum := rec.Data[0][i] + rec.Data[1][i] + rec.Data[2][i]
		assert.InDelta(t, 0, sum, 1e-15)
	}
	assert.Equal(t, pz, rec.Data[3])
	assert.Equal(t, heo, rec.Data[4])
}

func TestSetAverageReferenceNoChannels(t *testing.T) {
	rec := testRecording(100, 1)
	SetChannelTypes(rec, rec.ChannelNames(), models.ChannelMisc)
	assert.ErrorIs(t, SetAverageReference(rec), ErrNoReferenceChannels)
}

func TestEventsFromAnnotations(t *testing.T) {
	rec := testRecording(100, 5)
	SetAnnotations(rec, []models.Annotation{
		{Onset: 2.0, Description: "inc/MC/s"},
		{Onset: 0.5, Description: "con/MC/s"},
		{Onset: 1.25, Description: "inc/MC/s"},
		{Onset: 9.0, Description: "con/MC/s"}, // past the end
	})

	events, ids := EventsFromAnnotations(rec)
	assert.Equal(t, map[string]int{"con/MC/s": 1, "inc/MC/s": 2}, ids)
	assert.Equal(t, []models.Event{
		{Sample: 50, Code: 1},
		{Sample: 125, Code: 2},
		{Sample: 200, Code: 2},
	}, events)
}

func TestCopyIsDeep(t *testing.T) {
	rec := testRecording(100, 1)
	rec.Channels[0].Pos = &models.Position{X: 1}
	cp := rec.Copy()
	cp.Data[0][0] = 42
	cp.Channels[0].Pos.X = 2
	cp.Bads = append(cp.Bads, "Cz")

	assert.NotEqual(t, 42.0, rec.Data[0][0])
	assert.Equal(t, 1.0, rec.Channels[0].Pos.X)
	assert.Empty(t, rec.Bads)
}
