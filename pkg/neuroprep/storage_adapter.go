package neuroprep

import (
	"github.com/himanishpuri/NeuroPrep/internal/storage"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

// EpochsSummary describes one saved epochs file.
type EpochsSummary = storage.EpochsSummary

// fileStorage writes each artifact to its own SQLite file.
type fileStorage struct{}

// NewFileStorage returns the default Storage: one SQLite database per saved
// ICA model or epochs collection.
func NewFileStorage() Storage {
	return fileStorage{}
}

func (fileStorage) WriteICA(path string, subject int, m *models.ICA) error {
	return storage.WriteICA(path, subject, m)
}

func (fileStorage) ReadICA(path string) (*models.ICA, error) {
	return storage.ReadICA(path)
}

func (fileStorage) WriteEpochs(path string, subject int, ep *models.Epochs, log *models.RejectLog) error {
	return storage.WriteEpochs(path, subject, ep, log)
}

func (fileStorage) ReadEpochs(path string) (*models.Epochs, *models.RejectLog, error) {
	return storage.ReadEpochs(path)
}

func (fileStorage) ListEpochs(dir string) ([]EpochsSummary, map[string]error, error) {
	return storage.ListEpochs(dir)
}

// Close is a no-op; files are closed after every call.
func (fileStorage) Close() error {
	return nil
}
