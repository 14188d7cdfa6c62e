package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

const (
	edfFixedHeader  = 256
	edfSignalHeader = 256
	edfAnnotations  = "EDF Annotations"
)

// edfSignal holds the per-signal part of an EDF header.
type edfSignal struct {
	Label            string
	PhysDim          string
	PhysMin, PhysMax float64
	DigMin, DigMax   float64
	SamplesPerRecord int
}

type edfHeader struct {
	StartDate      string
	StartTime      string
	HeaderBytes    int
	NumRecords     int
	RecordDuration float64
	Signals        []edfSignal
}

// field reads a fixed-width ASCII field.
func field(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf)), nil
}

func intField(r io.Reader, n int, name string) (int, error) {
	s, err := field(r, n)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", name, err)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, s, err)
	}
	return v, nil
}

func floatField(r io.Reader, n int, name string) (float64, error) {
	s, err := field(r, n)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", name, err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, s, err)
	}
	return v, nil
}

// readEDFHeader reads the fixed header followed by the per-signal header,
// whose fields are stored column-wise (all labels, then all transducers, ...).
func readEDFHeader(r io.Reader) (*edfHeader, error) {
	version, err := field(r, 8)
	if err != nil {
		return nil, fmt.Errorf("reading EDF version: %w", err)
	}
	if version != "0" {
		return nil, fmt.Errorf("not an EDF file (version %q)", version)
	}
	if _, err := field(r, 160); err != nil { // patient + recording id
		return nil, fmt.Errorf("reading EDF ids: %w", err)
	}

	var h edfHeader
	if h.StartDate, err = field(r, 8); err != nil {
		return nil, fmt.Errorf("reading start date: %w", err)
	}
	if h.StartTime, err = field(r, 8); err != nil {
		return nil, fmt.Errorf("reading start time: %w", err)
	}
	if h.HeaderBytes, err = intField(r, 8, "header size"); err != nil {
		return nil, err
	}
	if _, err := field(r, 44); err != nil {
		return nil, fmt.Errorf("reading reserved: %w", err)
	}
	if h.NumRecords, err = intField(r, 8, "record count"); err != nil {
		return nil, err
	}
	if h.RecordDuration, err = floatField(r, 8, "record duration"); err != nil {
		return nil, err
	}
	ns, err := intField(r, 4, "signal count")
	if err != nil {
		return nil, err
	}
	if ns <= 0 {
		return nil, errors.New("EDF file declares no signals")
	}
	if h.HeaderBytes != edfFixedHeader+ns*edfSignalHeader {
		return nil, fmt.Errorf("EDF header size %d does not match %d signals", h.HeaderBytes, ns)
	}

	h.Signals = make([]edfSignal, ns)
	for i := range h.Signals {
		if h.Signals[i].Label, err = field(r, 16); err != nil {
			return nil, fmt.Errorf("reading label %d: %w", i, err)
		}
	}
	for i := range h.Signals { // transducer
		if _, err := field(r, 80); err != nil {
			return nil, fmt.Errorf("reading transducer %d: %w", i, err)
		}
	}
	for i := range h.Signals {
		if h.Signals[i].PhysDim, err = field(r, 8); err != nil {
			return nil, fmt.Errorf("reading dimension %d: %w", i, err)
		}
	}
	for i := range h.Signals {
		if h.Signals[i].PhysMin, err = floatField(r, 8, "physical minimum"); err != nil {
			return nil, err
		}
	}
	for i := range h.Signals {
		if h.Signals[i].PhysMax, err = floatField(r, 8, "physical maximum"); err != nil {
			return nil, err
		}
	}
	for i := range h.Signals {
		if h.Signals[i].DigMin, err = floatField(r, 8, "digital minimum"); err != nil {
			return nil, err
		}
	}
	for i := range h.Signals {
		if h.Signals[i].DigMax, err = floatField(r, 8, "digital maximum"); err != nil {
			return nil, err
		}
	}
	for i := range h.Signals { // prefiltering
		if _, err := field(r, 80); err != nil {
			return nil, fmt.Errorf("reading prefilter %d: %w", i, err)
		}
	}
	for i := range h.Signals {
		if h.Signals[i].SamplesPerRecord, err = intField(r, 8, "samples per record"); err != nil {
			return nil, err
		}
		if h.Signals[i].SamplesPerRecord <= 0 {
			return nil, fmt.Errorf("signal %d has %d samples per record", i, h.Signals[i].SamplesPerRecord)
		}
	}
	for i := range h.Signals { // reserved
		if _, err := field(r, 32); err != nil {
			return nil, fmt.Errorf("reading reserved %d: %w", i, err)
		}
	}
	return &h, nil
}

// unitScale converts the EDF physical dimension to volts.
func unitScale(dim string) float64 {
	switch strings.ToLower(strings.TrimSpace(dim)) {
	case "uv", "µv", "μv":
		return 1e-6
	case "mv":
		return 1e-3
	case "nv":
		return 1e-9
	default:
		return 1
	}
}

func parseEDFDate(date, clock string) time.Time {
	t, err := time.ParseInLocation("02.01.06 15.04.05", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReadEDF reads a 16-bit EDF/EDF+ file. EDF+ annotation signals are skipped
// and all remaining signals must share one sampling rate. Samples are
// returned in volts.
func ReadEDF(path string) (*models.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readEDFHeader(r)
	if err != nil {
		return nil, err
	}
	if h.RecordDuration <= 0 {
		return nil, fmt.Errorf("EDF record duration %.3g is not positive", h.RecordDuration)
	}

	var keep []int
	spr := -1
	for i, s := range h.Signals {
		if s.Label == edfAnnotations {
			continue
		}
		if spr >= 0 && s.SamplesPerRecord != spr {
			return nil, fmt.Errorf("signal %q has %d samples per record, expected %d", s.Label, s.SamplesPerRecord, spr)
		}
		spr = s.SamplesPerRecord
		keep = append(keep, i)
	}
	if len(keep) == 0 {
		return nil, errors.New("EDF file holds only annotation signals")
	}

	nrec := h.NumRecords
	if nrec < 0 {
		// -1 means "unknown"; derive it from the file size.
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		recBytes := 0
		for _, s := range h.Signals {
			recBytes += 2 * s.SamplesPerRecord
		}
		nrec = int(st.Size()-int64(h.HeaderBytes)) / recBytes
	}

	rec := &models.Recording{
		SFreq:    float64(spr) / h.RecordDuration,
		MeasDate: parseEDFDate(h.StartDate, h.StartTime),
		Channels: make([]models.Channel, len(keep)),
		Data:     make([][]float64, len(keep)),
	}
	gain := make([]float64, len(h.Signals))
	offset := make([]float64, len(h.Signals))
	slot := make([]int, len(h.Signals))
	for i := range slot {
		slot[i] = -1
	}
	for j, i := range keep {
		s := h.Signals[i]
		rec.Channels[j] = models.Channel{Name: s.Label, Type: models.ChannelEEG}
		rec.Data[j] = make([]float64, 0, nrec*spr)
		scale := unitScale(s.PhysDim)
		span := s.DigMax - s.DigMin
		if span == 0 {
			span = 1
		}
		gain[i] = (s.PhysMax - s.PhysMin) / span * scale
		offset[i] = (s.PhysMin - s.DigMin*(s.PhysMax-s.PhysMin)/span) * scale
		slot[i] = j
	}

	buf := make([]byte, 2)
	for n := 0; n < nrec; n++ {
		for i, s := range h.Signals {
			for k := 0; k < s.SamplesPerRecord; k++ {
				if _, err := io.ReadFull(r, buf); err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
						return nil, fmt.Errorf("EDF data truncated in record %d", n)
					}
					return nil, fmt.Errorf("reading EDF record %d: %w", n, err)
				}
				if slot[i] < 0 {
					continue
				}
				d := float64(int16(uint16(buf[0]) | uint16(buf[1])<<8))
				rec.Data[slot[i]] = append(rec.Data[slot[i]], d*gain[i]+offset[i])
			}
		}
	}
	return rec, nil
}

func padField(w *bufio.Writer, s string, n int) {
	if len(s) > n {
		s = s[:n]
	}
	w.WriteString(s)
	w.WriteString(strings.Repeat(" ", n-len(s)))
}

// numField formats an integral physical bound; EDF numeric fields are eight
// ASCII characters wide.
func numField(v float64) string {
	v = math.Max(-9999999, math.Min(99999999, v))
	return strconv.Itoa(int(v))
}

// WriteEDF writes rec as a 16-bit EDF file with one-second records, storing
// values in microvolts. The last record is zero-padded when the sample count
// is not a multiple of the sampling rate.
func WriteEDF(path string, rec *models.Recording) error {
	spr := int(math.Round(rec.SFreq))
	if spr <= 0 || float64(spr) != rec.SFreq {
		return fmt.Errorf("EDF export needs an integer sampling rate, got %.3g", rec.SFreq)
	}
	ns := rec.NChannels()
	nrec := (rec.NSamples() + spr - 1) / spr

	physMin := make([]float64, ns)
	physMax := make([]float64, ns)
	for c, row := range rec.Data {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range row {
			lo = math.Min(lo, v*1e6)
			hi = math.Max(hi, v*1e6)
		}
		if math.IsInf(lo, 0) || hi-lo < 1e-3 {
			lo, hi = lo-1, lo+1
			if math.IsInf(lo, 0) {
				lo, hi = -1, 1
			}
		}
		physMin[c], physMax[c] = math.Floor(lo), math.Ceil(hi)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	start := rec.MeasDate
	if start.IsZero() {
		start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	padField(w, "0", 8)
	padField(w, "X X X X", 80)
	padField(w, "Startdate X X X X", 80)
	padField(w, start.Format("02.01.06"), 8)
	padField(w, start.Format("15.04.05"), 8)
	padField(w, strconv.Itoa(edfFixedHeader+ns*edfSignalHeader), 8)
	padField(w, "", 44)
	padField(w, strconv.Itoa(nrec), 8)
	padField(w, "1", 8)
	padField(w, strconv.Itoa(ns), 4)
	for _, ch := range rec.Channels {
		padField(w, ch.Name, 16)
	}
	for range rec.Channels {
		padField(w, "AgAgCl electrode", 80)
	}
	for range rec.Channels {
		padField(w, "uV", 8)
	}
	for c := range rec.Channels {
		padField(w, numField(physMin[c]), 8)
	}
	for c := range rec.Channels {
		padField(w, numField(physMax[c]), 8)
	}
	for range rec.Channels {
		padField(w, "-32768", 8)
	}
	for range rec.Channels {
		padField(w, "32767", 8)
	}
	for range rec.Channels {
		padField(w, "", 80)
	}
	for range rec.Channels {
		padField(w, strconv.Itoa(spr), 8)
	}
	for range rec.Channels {
		padField(w, "", 32)
	}

	n := rec.NSamples()
	for r := 0; r < nrec; r++ {
		for c, row := range rec.Data {
			gain := (physMax[c] - physMin[c]) / 65535
			for k := 0; k < spr; k++ {
				v := physMin[c]
				if idx := r*spr + k; idx < n {
					v = row[idx] * 1e6
				}
				d := math.Round((v-physMin[c])/gain) - 32768
				d = math.Max(-32768, math.Min(32767, d))
				u := uint16(int16(d))
				w.WriteByte(byte(u))
				w.WriteByte(byte(u >> 8))
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
