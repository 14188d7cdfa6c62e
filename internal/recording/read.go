// Package recording reads continuous EEG recordings and implements the
// channel-level operations of preprocessing: bad and EOG channel marking,
// average referencing, and event annotations.
package recording

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

// Read loads a recording, choosing the reader by file extension.
func Read(path string, wavOpts WAVOptions) (*models.Recording, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".edf":
		return ReadEDF(path)
	case ".wav":
		return ReadWAV(path, wavOpts)
	default:
		return nil, fmt.Errorf("unsupported recording format %q (want .edf or .wav)", filepath.Ext(path))
	}
}
