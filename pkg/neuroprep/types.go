package neuroprep

import (
	"time"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

// Params are the inputs of one Preprocess run. Start from DefaultParams;
// Export in particular has no usable zero value.
type Params struct {
	// RawPath is the continuous recording (.edf or .wav).
	RawPath string
	// MontagePath holds electrode positions (.loc, .tsv, .csv or .xyz). It
	// may be empty, in which case bad channels cannot be interpolated.
	MontagePath string
	// EventPath is the "sample [previous] code" event file.
	EventPath string
	// OutputDir overrides the service's output directory when set.
	OutputDir string
	// EventDict maps event codes to condition labels such as "con/MC/s".
	// Codes missing from the map are dropped.
	EventDict map[int]string
	// RemoveChannels are marked bad and left out of ICA and referencing.
	RemoveChannels []string
	// EOGChannels are retyped as EOG.
	EOGChannels []string
	// WAVChannels names the channels of a WAV recording in file order.
	WAVChannels []string
	Subject     int

	TMin  float64
	TMax  float64
	LFreq float64
	HFreq float64
	// ICAZThresh is the z threshold shared by the EOG and muscle detectors.
	ICAZThresh float64
	// Export saves the cleaned epochs.
	Export bool
}

func DefaultParams() Params {
	return Params{
		TMin:       -0.3,
		TMax:       1.2,
		LFreq:      1,
		HFreq:      30,
		ICAZThresh: 1.96,
		Export:     true,
	}
}

// Result summarizes a Preprocess run.
type Result struct {
	Subject    int
	NChannels  int
	Bads       []string
	Components int
	// Converged is false when FastICA hit its iteration limit.
	Converged bool
	// ExcludeEOG and ExcludeMuscle are the detector outputs; Exclude is their
	// union as applied (muscle first).
	ExcludeEOG    []int
	ExcludeMuscle []int
	Exclude       []int

	EventsRead        int
	EventsUnmapped    int
	EventsOutOfBounds int
	EpochsBefore      int
	EpochsAfter       int

	Epochs    *models.Epochs
	RejectLog *models.RejectLog

	ICAPath    string
	EpochsPath string // empty when not exported
	Duration   time.Duration
}

// Evokes holds per-subject evoked responses for an ordered pair of
// conditions. Cond1[i] and Cond2[i] come from Sources[i].
type Evokes struct {
	Conditions [2]string
	Sources    []string
	Cond1      []*models.Evoked
	Cond2      []*models.Evoked
}

func (e *Evokes) Len() int {
	return len(e.Sources)
}

// Condition returns the responses of the named condition, or nil.
func (e *Evokes) Condition(name string) []*models.Evoked {
	switch name {
	case e.Conditions[0]:
		return e.Cond1
	case e.Conditions[1]:
		return e.Cond2
	}
	return nil
}
