package neuroprep

import (
	"context"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

type Service interface {
	Preprocess(ctx context.Context, params Params) (*Result, error)
	GenerateEvokes(paths []string, cond1, cond2 string) (*Evokes, error)
	ListEpochs(dir string) ([]EpochsSummary, error)
	LoadEpochs(path string) (*models.Epochs, *models.RejectLog, error)
	LoadICA(path string) (*models.ICA, error)
	Close() error
}

// Storage persists pipeline outputs. Writes replace whatever is at path.
type Storage interface {
	WriteICA(path string, subject int, m *models.ICA) error
	ReadICA(path string) (*models.ICA, error)
	WriteEpochs(path string, subject int, ep *models.Epochs, log *models.RejectLog) error
	ReadEpochs(path string) (*models.Epochs, *models.RejectLog, error)
	ListEpochs(dir string) ([]EpochsSummary, map[string]error, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
