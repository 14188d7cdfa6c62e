package neuroprep

import (
	"github.com/himanishpuri/NeuroPrep/internal/epochs"
	"github.com/himanishpuri/NeuroPrep/internal/evoked"
	"github.com/himanishpuri/NeuroPrep/internal/ica"
	"github.com/himanishpuri/NeuroPrep/internal/parallel"
)

var (
	ErrNoEvents          = epochs.ErrNoEvents
	ErrConditionNotFound = evoked.ErrConditionNotFound
	ErrChannelNotFound   = ica.ErrChannelNotFound
	ErrEmptyEpochs       = epochs.ErrEmptyEpochs
	ErrNotConverged      = ica.ErrNotConverged
	ErrMismatch          = evoked.ErrMismatch
)

// SetWorkers sets the worker count used by filtering, ICA scoring and epoch
// rejection for the whole process. Call it once at startup.
func SetWorkers(n int) {
	parallel.SetWorkers(n)
}

func Workers() int {
	return parallel.Workers()
}
