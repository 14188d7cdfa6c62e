package recording

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

// DefaultResolution is the amplifier resolution assumed for WAV exports:
// 0.1 µV per least significant bit.
const DefaultResolution = 1e-7

// WAVOptions describes how PCM integers map onto EEG channels.
type WAVOptions struct {
	// Labels names the channels in file order. Missing names default to CH<n>.
	Labels []string
	// Resolution is volts per integer step. Zero means DefaultResolution.
	Resolution float64
}

// ReadWAV reads a multichannel PCM WAV export, one EEG channel per WAV channel.
func ReadWAV(path string, opts WAVOptions) (*models.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding PCM: %w", err)
	}
	nch := buf.Format.NumChannels
	if nch < 1 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("WAV declares %d channels at %d Hz", nch, buf.Format.SampleRate)
	}

	res := opts.Resolution
	if res == 0 {
		res = DefaultResolution
	}
	frames := len(buf.Data) / nch
	rec := &models.Recording{
		SFreq:    float64(buf.Format.SampleRate),
		Channels: make([]models.Channel, nch),
		Data:     make([][]float64, nch),
	}
	for c := 0; c < nch; c++ {
		name := fmt.Sprintf("CH%d", c+1)
		if c < len(opts.Labels) && opts.Labels[c] != "" {
			name = opts.Labels[c]
		}
		rec.Channels[c] = models.Channel{Name: name, Type: models.ChannelEEG}
		rec.Data[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			rec.Data[c][i] = float64(buf.Data[i*nch+c]) * res
		}
	}
	return rec, nil
}

// WriteWAV stores rec as 32-bit PCM with the given resolution (volts per step).
func WriteWAV(path string, rec *models.Recording, resolution float64) error {
	if resolution == 0 {
		resolution = DefaultResolution
	}
	sr := int(math.Round(rec.SFreq))
	if float64(sr) != rec.SFreq {
		return fmt.Errorf("WAV export needs an integer sampling rate, got %.3g", rec.SFreq)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	nch, n := rec.NChannels(), rec.NSamples()
	data := make([]int, nch*n)
	for i := 0; i < n; i++ {
		for c := 0; c < nch; c++ {
			v := math.Round(rec.Data[c][i] / resolution)
			data[i*nch+c] = int(math.Max(math.MinInt32, math.Min(math.MaxInt32, v)))
		}
	}

	enc := wav.NewEncoder(f, sr, 32, nch, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: nch, SampleRate: sr},
		Data:           data,
		SourceBitDepth: 32,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}
