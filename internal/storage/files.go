package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

const (
	EpochsDir = "epochs"
	ICADir    = "ICA"
	Ext       = ".sqlite3"
)

// EpochsPath is <outDir>/epochs/subNN-epo.sqlite3 (subject zero-padded to two
// digits).
func EpochsPath(outDir string, subject int) string {
	return filepath.Join(outDir, EpochsDir, fmt.Sprintf("sub%02d-epo%s", subject, Ext))
}

// ICAPath is <outDir>/epochs/ICA/subN-ica.sqlite3. Unlike EpochsPath the
// subject number is not padded; existing result folders use this layout.
func ICAPath(outDir string, subject int) string {
	return filepath.Join(outDir, EpochsDir, ICADir, fmt.Sprintf("sub%d-ica%s", subject, Ext))
}

// WriteEpochs writes ep and its rejection log to path, replacing any file
// already there.
func WriteEpochs(path string, subject int, ep *models.Epochs, log *models.RejectLog) error {
	return replaceFile(path, func(c *DBClient) error {
		_, err := c.SaveEpochs(subject, ep, log)
		return err
	})
}

// ReadEpochs loads the epochs saved at path and their rejection log (nil
// when none was saved).
func ReadEpochs(path string) (*models.Epochs, *models.RejectLog, error) {
	c, err := openExisting(path)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	ep, err := c.LoadEpochs()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	log, err := c.LoadRejectLog()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return ep, log, nil
}

// WriteICA writes m to path, replacing any file already there.
func WriteICA(path string, subject int, m *models.ICA) error {
	return replaceFile(path, func(c *DBClient) error {
		_, err := c.SaveICA(subject, m)
		return err
	})
}

func ReadICA(path string) (*models.ICA, error) {
	c, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	m, err := c.LoadICA()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ListEpochs summarizes every epochs file directly inside dir, sorted by
// subject and path. Files that cannot be read are returned in skipped.
func ListEpochs(dir string) (summaries []EpochsSummary, skipped map[string]error, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	skipped = make(map[string]error)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "-epo"+Ext) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		s, err := summarize(path)
		if err != nil {
			skipped[path] = err
			continue
		}
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Subject == summaries[j].Subject {
			return summaries[i].Path < summaries[j].Path
		}
		return summaries[i].Subject < summaries[j].Subject
	})
	return summaries, skipped, nil
}

func summarize(path string) (*EpochsSummary, error) {
	c, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	s, err := c.SummarizeEpochs()
	if err != nil {
		return nil, err
	}
	s.Path = path
	return s, nil
}
