package neuroprep

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/himanishpuri/NeuroPrep/internal/ica"
	"github.com/himanishpuri/NeuroPrep/internal/recording"
	"github.com/himanishpuri/NeuroPrep/internal/storage"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fixtureSFreq   = 250.0
	fixtureSeconds = 90
)

var fixtureEEG = []string{"FP1", "FP2", "F8", "F7", "Fz", "C3", "Cz", "C4", "Pz", "Oz", "P3"}

const fixtureMontage = `1	-18	0.511	Fp1
2	18	0.511	Fp2
3	54	0.511	F8
4	-54	0.511	F7
5	0	0.256	Fz
6	-90	0.256	C3
7	0	0	Cz
8	90	0.256	C4
9	180	0.256	Pz
10	180	0.511	Oz
11	-144	0.333	P3
`

var fixtureDict = map[int]string{31: "con/MC/s", 32: "inc/MC/s"}

// fixture is a subject on disk: an EDF recording, a .loc montage and an
// event file.
type fixture struct {
	raw, montage, events string
	// inBounds counts the mapped events whose epoch window fits the data.
	inBounds int
}

// writeFixture synthesizes a recording with frontal blinks, a focal noise
// source on C3, smooth background activity and a centro-parietal response
// after every event that is twice as large for code 31 as for code 32.
func writeFixture(t *testing.T, dir string) fixture {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	n := int(fixtureSFreq) * fixtureSeconds

	var evts []models.Event
	onsets := make(map[int]float64)
	f := fixture{}
	code := 31
	for at := 1.0; at < fixtureSeconds-1.2; at += 1.8 {
		s := int(math.Round(at * fixtureSFreq))
		evts = append(evts, models.Event{Sample: s, Code: code})
		onsets[s] = 8
		if code == 32 {
			onsets[s] = 4
		}
		f.inBounds++
		code = 63 - code
	}
	// window runs past the end
	evts = append(evts, models.Event{Sample: n - 50, Code: 31})
	// not in the dictionary
	evts = append(evts, models.Event{Sample: 500, Code: 99})

	blink := make([]float64, n)
	for at := 0.6; at < fixtureSeconds; at += 2.3 {
		for i := range blink {
			d := (float64(i)/fixtureSFreq - at) / 0.08
			blink[i] += 100 * math.Exp(-d*d)
		}
	}
	erp := make([]float64, n)
	for s, amp := range onsets {
		for i := s; i < s+int(0.8*fixtureSFreq) && i < n; i++ {
			d := (float64(i-s)/fixtureSFreq - 0.35) / 0.06
			erp[i] += amp * math.Exp(-d*d)
		}
	}
	muscle := make([]float64, n)
	for i := range muscle {
		u := rng.Float64() - 0.5
		muscle[i] = -math.Copysign(1, u) * math.Log(1-2*math.Abs(u))
	}
	var background [][]float64
	for k := 0; k < 7; k++ {
		x := make([]float64, n)
		prev := 0.0
		for i := range x {
			e := rng.NormFloat64()
			prev = (0.85+0.01*float64(k))*prev + e*e*e
			x[i] = prev
		}
		background = append(background, x)
	}

	rec := &models.Recording{SFreq: fixtureSFreq}
	for _, name := range fixtureEEG {
		w := make([]float64, len(background))
		for k := range w {
			w[k] = rng.NormFloat64()
		}
		blinkW, muscleW, erpW := 0.3, 0.02, 0.0
		switch name {
		case "FP1":
			blinkW = 4
		case "FP2":
			blinkW = 3.8
		case "F8":
			blinkW = 2
		case "C3":
			muscleW = 6
		}
		switch name {
		case "Cz", "Pz":
			erpW = 1
		case "C3", "C4", "P3":
			erpW = 0.6
		}
		row := make([]float64, n)
		for i := range row {
			v := blinkW*blink[i] + muscleW*muscle[i] + erpW*erp[i]
			for k, x := range background {
				v += w[k] * x[i]
			}
			row[i] = 1e-6 * v
		}
		rec.Channels = append(rec.Channels, models.Channel{Name: name, Type: models.ChannelEEG})
		rec.Data = append(rec.Data, row)
	}
	veog := make([]float64, n)
	for i := range veog {
		veog[i] = 1e-6 * (5*blink[i] + 0.5*rng.NormFloat64())
	}
	rec.Channels = append(rec.Channels, models.Channel{Name: "VEOG", Type: models.ChannelEEG})
	rec.Data = append(rec.Data, veog)

	f.raw = filepath.Join(dir, "sub.edf")
	require.NoError(t, recording.WriteEDF(f.raw, rec))

	f.montage = filepath.Join(dir, "chans.loc")
	require.NoError(t, os.WriteFile(f.montage, []byte(fixtureMontage), 0o644))

	f.events = filepath.Join(dir, "events.txt")
	require.NoError(t, writeEvents(f.events, evts))
	return f
}

func writeEvents(path string, evts []models.Event) error {
	var b strings.Builder
	b.WriteString("# sample code\n")
	for _, e := range evts {
		fmt.Fprintf(&b, "%d\t%d\n", e.Sample, e.Code)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// captureLogger records warnings and drops everything else.
type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *captureLogger) Infof(string, ...any)  {}
func (l *captureLogger) Errorf(string, ...any) {}
func (l *captureLogger) Debugf(string, ...any) {}
func (l *captureLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *captureLogger) warned(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func fixtureParams(f fixture, subject int) Params {
	p := DefaultParams()
	p.RawPath = f.raw
	p.MontagePath = f.montage
	p.EventPath = f.events
	p.EventDict = fixtureDict
	p.RemoveChannels = []string{"Oz", "T9"}
	p.EOGChannels = []string{"VEOG"}
	p.Subject = subject
	return p
}

func newTestService(t *testing.T, outDir string, opts ...Option) (Service, *captureLogger) {
	t.Helper()
	log := &captureLogger{}
	svc, err := NewService(append([]Option{WithOutputDir(outDir), WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, log
}

func TestPreprocess(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir)
	out := filepath.Join(dir, "out")
	svc, log := newTestService(t, out)

	res, err := svc.Preprocess(context.Background(), fixtureParams(f, 3))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Subject)
	assert.Equal(t, 12, res.NChannels)
	assert.Equal(t, []string{"Oz"}, res.Bads)
	assert.True(t, log.warned("T9"), "unknown channel names should be reported")

	// events: one unmapped, one past the end
	assert.Equal(t, f.inBounds+2, res.EventsRead)
	assert.Equal(t, 1, res.EventsUnmapped)
	assert.Equal(t, 1, res.EventsOutOfBounds)
	assert.Equal(t, f.inBounds, res.EpochsBefore)
	assert.LessOrEqual(t, res.EpochsAfter, res.EpochsBefore)
	assert.Positive(t, res.EpochsAfter)
	require.NotNil(t, res.RejectLog)
	assert.Len(t, res.RejectLog.BadEpochs, res.EpochsBefore)
	assert.Equal(t, res.EpochsBefore-res.EpochsAfter, res.RejectLog.NDropped())

	// exclusions
	assert.NotEmpty(t, res.ExcludeEOG, "the blink component should be flagged")
	assert.Equal(t, ica.MergeExclude(res.ExcludeMuscle, res.ExcludeEOG), res.Exclude)

	// channel types survive the pipeline
	ep := res.Epochs
	assert.Equal(t, models.ChannelEOG, ep.Channels[ep.ChannelIndex("VEOG")].Type)
	assert.Equal(t, models.ChannelEEG, ep.Channels[ep.ChannelIndex("Fz")].Type)
	assert.Equal(t, models.ChannelEEG, ep.Channels[ep.ChannelIndex("Oz")].Type)
	assert.True(t, ep.IsBad("Oz"))
	assert.InDelta(t, -0.3, ep.TMin, 1e-9)
	assert.Equal(t, 376, ep.NTimes())
	assert.Equal(t, []string{"con/MC/s", "inc/MC/s"}, ep.Labels())

	// outputs
	assert.Equal(t, filepath.Join(out, "epochs", "ICA", "sub3-ica.sqlite3"), res.ICAPath)
	assert.Equal(t, filepath.Join(out, "epochs", "sub03-epo.sqlite3"), res.EpochsPath)

	m, err := svc.LoadICA(res.ICAPath)
	require.NoError(t, err)
	assert.Equal(t, res.Exclude, m.Exclude)
	assert.Equal(t, res.Components, m.NComponents)
	assert.NotContains(t, m.Channels, "Oz")
	assert.NotContains(t, m.Channels, "VEOG")

	saved, savedLog, err := svc.LoadEpochs(res.EpochsPath)
	require.NoError(t, err)
	assert.Equal(t, res.EpochsAfter, saved.Len())
	assert.Equal(t, res.RejectLog.BadEpochs, savedLog.BadEpochs)
}

func TestPreprocessOverwrites(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir)
	out := filepath.Join(dir, "out")
	svc, _ := newTestService(t, out)

	first, err := svc.Preprocess(context.Background(), fixtureParams(f, 1))
	require.NoError(t, err)
	second, err := svc.Preprocess(context.Background(), fixtureParams(f, 1))
	require.NoError(t, err)

	assert.Equal(t, first.Exclude, second.Exclude)
	assert.Equal(t, first.EpochsAfter, second.EpochsAfter)

	list, err := svc.ListEpochs(filepath.Join(out, storage.EpochsDir))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Subject)
	assert.Equal(t, second.EpochsAfter, list[0].NEpochs)

	icas, err := os.ReadDir(filepath.Join(out, storage.EpochsDir, storage.ICADir))
	require.NoError(t, err)
	assert.Len(t, icas, 1)
}

// recordingStorage keeps outputs in memory and notes the write order.
type recordingStorage struct {
	calls  []string
	ica    map[string]*models.ICA
	epochs map[string]*models.Epochs
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{ica: map[string]*models.ICA{}, epochs: map[string]*models.Epochs{}}
}

func (s *recordingStorage) WriteICA(path string, _ int, m *models.ICA) error {
	s.calls = append(s.calls, "ica")
	s.ica[path] = m
	return nil
}

func (s *recordingStorage) ReadICA(path string) (*models.ICA, error) {
	m, ok := s.ica[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m, nil
}

func (s *recordingStorage) WriteEpochs(path string, _ int, ep *models.Epochs, _ *models.RejectLog) error {
	s.calls = append(s.calls, "epochs")
	s.epochs[path] = ep
	return nil
}

func (s *recordingStorage) ReadEpochs(path string) (*models.Epochs, *models.RejectLog, error) {
	ep, ok := s.epochs[path]
	if !ok {
		return nil, nil, os.ErrNotExist
	}
	return ep, nil, nil
}

func (s *recordingStorage) ListEpochs(string) ([]EpochsSummary, map[string]error, error) {
	return nil, nil, nil
}

func (s *recordingStorage) Close() error { return nil }

func TestPreprocessWithoutExport(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir)
	stor := newRecordingStorage()
	svc, _ := newTestService(t, "out", WithStorage(stor),
		WithAutoReject(AutoRejectConfig{Consensus: []float64{0.5}, NInterpolate: []int{4}}))

	p := fixtureParams(f, 4)
	p.Export = false
	res, err := svc.Preprocess(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"ica"}, stor.calls)
	assert.Empty(t, res.EpochsPath)
	assert.NotNil(t, res.Epochs)
	assert.Equal(t, 0.5, res.RejectLog.Consensus)
	assert.Equal(t, 4, res.RejectLog.NInterp)
}

func TestPreprocessKeepsICAOnLaterFailure(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir)
	require.NoError(t, writeEvents(f.events, []models.Event{{Sample: 1000, Code: 77}}))
	stor := newRecordingStorage()
	svc, log := newTestService(t, "out", WithStorage(stor), WithFrontalChannels("HEOG"))

	_, err := svc.Preprocess(context.Background(), fixtureParams(f, 5))
	require.ErrorIs(t, err, ErrNoEvents)
	assert.Equal(t, []string{"ica"}, stor.calls)
	assert.True(t, log.warned("Skipping EOG detection"))
}

func TestPreprocessRejectsBadParams(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir())
	ctx := context.Background()

	p := DefaultParams()
	_, err := svc.Preprocess(ctx, p)
	assert.Error(t, err)

	p.RawPath, p.EventPath, p.EventDict = "x.edf", "x.txt", fixtureDict
	p.TMin, p.TMax = 0.5, 0.2
	_, err = svc.Preprocess(ctx, p)
	assert.Error(t, err)

	p = DefaultParams()
	p.RawPath, p.EventPath, p.EventDict = filepath.Join(t.TempDir(), "missing.edf"), "x.txt", fixtureDict
	_, err = svc.Preprocess(ctx, p)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewServiceAppliesWorkers(t *testing.T) {
	defer SetWorkers(0)
	_, err := NewService(WithWorkers(3), WithLogger(&captureLogger{}))
	require.NoError(t, err)
	assert.Equal(t, 3, Workers())

	_, err = NewService(WithOutputDir(""))
	assert.Error(t, err)
}
