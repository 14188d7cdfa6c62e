package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"gorm.io/gorm"
)

type ICAModel struct {
	RunID             string `gorm:"primaryKey;type:varchar(36)"`
	Method            string
	NComponents       int
	NChannels         int
	Scale             float64
	ExplainedVariance float64
	NIter             int
	Converged         bool
	Mean              []byte
	Unmixing          []byte
	Mixing            []byte
}

type ICAChannel struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	RunID string `gorm:"type:varchar(36);index:idx_ica_channel_run"`
	Idx   int
	Name  string
}

// ICALabel lists a flagged component under a detector label. The "exclude"
// label holds the final exclusion list. Seq keeps the decision order.
type ICALabel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"type:varchar(36);index:idx_ica_label_run"`
	Label     string
	Seq       int
	Component int
}

type ICAScore struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"type:varchar(36);index:idx_ica_score_run"`
	Label  string
	Scores []byte
}

const labelExclude = "exclude"

// SaveICA stores m as a new run.
func (c *DBClient) SaveICA(subject int, m *models.ICA) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	run := newRun(KindICA, subject)

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
		row := ICAModel{
			RunID:             run.ID,
			Method:            m.Method,
			NComponents:       m.NComponents,
			NChannels:         m.NChannels(),
			Scale:             m.Scale,
			ExplainedVariance: m.ExplainedVariance,
			NIter:             m.NIter,
			Converged:         m.Converged,
			Mean:              encodeFloats(m.Mean),
			Unmixing:          encodeFloats(m.Unmixing),
			Mixing:            encodeFloats(m.Mixing),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("storing ica model: %w", err)
		}

		chans := make([]ICAChannel, len(m.Channels))
		for i, name := range m.Channels {
			chans[i] = ICAChannel{RunID: run.ID, Idx: i, Name: name}
		}
		if len(chans) > 0 {
			if err := tx.Create(&chans).Error; err != nil {
				return fmt.Errorf("storing ica channels: %w", err)
			}
		}

		var labels []ICALabel
		for rank, k := range m.Exclude {
			labels = append(labels, ICALabel{RunID: run.ID, Label: labelExclude, Seq: rank, Component: k})
		}
		for _, l := range sortedKeys(m.Labels) {
			for rank, k := range m.Labels[l] {
				labels = append(labels, ICALabel{RunID: run.ID, Label: l, Seq: rank, Component: k})
			}
		}
		if len(labels) > 0 {
			if err := tx.Create(&labels).Error; err != nil {
				return fmt.Errorf("storing ica labels: %w", err)
			}
		}

		var scores []ICAScore
		for _, l := range sortedKeys(m.Scores) {
			scores = append(scores, ICAScore{RunID: run.ID, Label: l, Scores: encodeFloats(m.Scores[l])})
		}
		if len(scores) > 0 {
			if err := tx.Create(&scores).Error; err != nil {
				return fmt.Errorf("storing ica scores: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// LoadICA returns the newest ICA run of the file.
func (c *DBClient) LoadICA() (*models.ICA, error) {
	run, err := c.latestRun(KindICA)
	if err != nil {
		return nil, err
	}

	var row ICAModel
	if err := c.DB.First(&row, "run_id = ?", run.ID).Error; err != nil {
		return nil, fmt.Errorf("querying ica model: %w", err)
	}
	m := &models.ICA{
		Method:            row.Method,
		NComponents:       row.NComponents,
		Scale:             row.Scale,
		ExplainedVariance: row.ExplainedVariance,
		NIter:             row.NIter,
		Converged:         row.Converged,
		Labels:            make(map[string][]int),
		Scores:            make(map[string][]float64),
	}
	if m.Mean, err = decodeFloats(row.Mean); err != nil {
		return nil, fmt.Errorf("ica mean: %w", err)
	}
	if m.Unmixing, err = decodeFloats(row.Unmixing); err != nil {
		return nil, fmt.Errorf("ica unmixing: %w", err)
	}
	if m.Mixing, err = decodeFloats(row.Mixing); err != nil {
		return nil, fmt.Errorf("ica mixing: %w", err)
	}
	if want := row.NComponents * row.NChannels; len(m.Unmixing) != want || len(m.Mixing) != want {
		return nil, fmt.Errorf("ica matrices hold %d/%d values, want %d", len(m.Unmixing), len(m.Mixing), want)
	}

	var chans []ICAChannel
	if err := c.DB.Where("run_id = ?", run.ID).Order("idx").Find(&chans).Error; err != nil {
		return nil, fmt.Errorf("querying ica channels: %w", err)
	}
	for _, ch := range chans {
		m.Channels = append(m.Channels, ch.Name)
	}

	var labels []ICALabel
	if err := c.DB.Where("run_id = ?", run.ID).Order("label, seq").Find(&labels).Error; err != nil {
		return nil, fmt.Errorf("querying ica labels: %w", err)
	}
	for _, l := range labels {
		if l.Label == labelExclude {
			m.Exclude = append(m.Exclude, l.Component)
			continue
		}
		m.Labels[l.Label] = append(m.Labels[l.Label], l.Component)
	}

	var scores []ICAScore
	if err := c.DB.Where("run_id = ?", run.ID).Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("querying ica scores: %w", err)
	}
	for _, s := range scores {
		if m.Scores[s.Label], err = decodeFloats(s.Scores); err != nil {
			return nil, fmt.Errorf("ica scores %s: %w", s.Label, err)
		}
	}
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
