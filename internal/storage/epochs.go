package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"gorm.io/gorm"
)

type ChannelRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	RunID   string `gorm:"type:varchar(36);index:idx_channel_run"`
	Idx     int
	Name    string
	Type    string
	Bad     bool
	HasPos  bool
	X, Y, Z float64
}

// EventLabel is one entry of the condition dictionary (label -> code).
type EventLabel struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	RunID string `gorm:"type:varchar(36);index:idx_label_run"`
	Label string
	Code  int
}

type EpochSet struct {
	RunID       string `gorm:"primaryKey;type:varchar(36)"`
	SFreq       float64
	TMin        float64
	NEpochs     int
	NChannels   int
	NTimes      int
	HasBaseline bool
	BaselineLo  float64
	BaselineHi  float64
}

type EpochRow struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"type:varchar(36);index:idx_epoch_run"`
	Idx    int
	Sample int
	Code   int
	// Data is the [channel][time] matrix.
	Data []byte
}

type RejectMeta struct {
	RunID     string `gorm:"primaryKey;type:varchar(36)"`
	Consensus float64
	NInterp   int
	Channels  string // comma separated, in label column order
}

// RejectRow is one epoch of the rejection log, indexed like the epochs
// before rejection.
type RejectRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RunID    string `gorm:"type:varchar(36);index:idx_reject_run"`
	EpochIdx int
	Dropped  bool
	Labels   []byte
}

type ThresholdRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	RunID   string `gorm:"type:varchar(36);index:idx_threshold_run"`
	Channel string
	Value   float64
}

// EpochsSummary describes a saved epochs file without loading its data.
type EpochsSummary struct {
	Path      string
	RunID     string
	Subject   int
	NEpochs   int
	NChannels int
	NTimes    int
	SFreq     float64
	TMin      float64
	Labels    []string
	NDropped  int
	HasLog    bool
}

// SaveEpochs stores ep (and, when non-nil, the rejection log that produced
// it) as a new run.
func (c *DBClient) SaveEpochs(subject int, ep *models.Epochs, log *models.RejectLog) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	run := newRun(KindEpochs, subject)

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}

		set := EpochSet{
			RunID:     run.ID,
			SFreq:     ep.SFreq,
			TMin:      ep.TMin,
			NEpochs:   ep.Len(),
			NChannels: len(ep.Channels),
			NTimes:    ep.NTimes(),
		}
		if ep.Baseline != nil {
			set.HasBaseline = true
			set.BaselineLo, set.BaselineHi = ep.Baseline[0], ep.Baseline[1]
		}
		if err := tx.Create(&set).Error; err != nil {
			return fmt.Errorf("storing epoch set: %w", err)
		}

		if err := createChannels(tx, run.ID, ep.Channels, ep.Bads); err != nil {
			return err
		}

		labels := make([]EventLabel, 0, len(ep.EventID))
		for l, code := range ep.EventID {
			labels = append(labels, EventLabel{RunID: run.ID, Label: l, Code: code})
		}
		if len(labels) > 0 {
			if err := tx.Create(&labels).Error; err != nil {
				return fmt.Errorf("storing event labels: %w", err)
			}
		}

		rows := make([]EpochRow, 0, 64)
		for i, data := range ep.Data {
			rows = append(rows, EpochRow{
				RunID:  run.ID,
				Idx:    i,
				Sample: ep.Events[i].Sample,
				Code:   ep.Events[i].Code,
				Data:   encodeMatrix(data),
			})
			if len(rows) >= 64 {
				if err := tx.CreateInBatches(rows, 32).Error; err != nil {
					return fmt.Errorf("batch insert epochs: %w", err)
				}
				rows = rows[:0]
			}
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 32).Error; err != nil {
				return fmt.Errorf("batch insert last epochs: %w", err)
			}
		}

		if log != nil {
			if err := saveRejectLog(tx, run.ID, log); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func createChannels(tx *gorm.DB, runID string, chans []models.Channel, bads []string) error {
	bad := make(map[string]bool, len(bads))
	for _, b := range bads {
		bad[strings.ToLower(b)] = true
	}
	rows := make([]ChannelRow, len(chans))
	for i, ch := range chans {
		rows[i] = ChannelRow{
			RunID: runID,
			Idx:   i,
			Name:  ch.Name,
			Type:  ch.Type.String(),
			Bad:   bad[strings.ToLower(ch.Name)],
		}
		if ch.Pos != nil {
			rows[i].HasPos = true
			rows[i].X, rows[i].Y, rows[i].Z = ch.Pos.X, ch.Pos.Y, ch.Pos.Z
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("storing channels: %w", err)
	}
	return nil
}

func saveRejectLog(tx *gorm.DB, runID string, log *models.RejectLog) error {
	meta := RejectMeta{
		RunID:     runID,
		Consensus: log.Consensus,
		NInterp:   log.NInterp,
		Channels:  strings.Join(log.Channels, ","),
	}
	if err := tx.Create(&meta).Error; err != nil {
		return fmt.Errorf("storing reject log: %w", err)
	}

	rows := make([]RejectRow, len(log.BadEpochs))
	for i := range rows {
		rows[i] = RejectRow{RunID: runID, EpochIdx: i, Dropped: log.BadEpochs[i]}
		if i < len(log.Labels) {
			rows[i].Labels = encodeInt8s(log.Labels[i])
		}
	}
	if len(rows) > 0 {
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("storing reject rows: %w", err)
		}
	}

	thr := make([]ThresholdRow, 0, len(log.Thresholds))
	for ch, v := range log.Thresholds {
		thr = append(thr, ThresholdRow{RunID: runID, Channel: ch, Value: v})
	}
	if len(thr) > 0 {
		if err := tx.Create(&thr).Error; err != nil {
			return fmt.Errorf("storing thresholds: %w", err)
		}
	}
	return nil
}

func (c *DBClient) loadChannels(runID string) ([]models.Channel, []string, error) {
	var rows []ChannelRow
	if err := c.DB.Where("run_id = ?", runID).Order("idx").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("querying channels: %w", err)
	}
	chans := make([]models.Channel, len(rows))
	var bads []string
	for i, r := range rows {
		chans[i] = models.Channel{Name: r.Name, Type: models.ParseChannelType(r.Type)}
		if r.HasPos {
			chans[i].Pos = &models.Position{X: r.X, Y: r.Y, Z: r.Z}
		}
		if r.Bad {
			bads = append(bads, r.Name)
		}
	}
	return chans, bads, nil
}

// LoadEpochs returns the newest epochs run of the file.
func (c *DBClient) LoadEpochs() (*models.Epochs, error) {
	run, err := c.latestRun(KindEpochs)
	if err != nil {
		return nil, err
	}

	var set EpochSet
	if err := c.DB.First(&set, "run_id = ?", run.ID).Error; err != nil {
		return nil, fmt.Errorf("querying epoch set: %w", err)
	}
	ep := &models.Epochs{
		SFreq:   set.SFreq,
		TMin:    set.TMin,
		EventID: make(map[string]int),
	}
	if set.HasBaseline {
		ep.Baseline = &[2]float64{set.BaselineLo, set.BaselineHi}
	}

	if ep.Channels, ep.Bads, err = c.loadChannels(run.ID); err != nil {
		return nil, err
	}

	var labels []EventLabel
	if err := c.DB.Where("run_id = ?", run.ID).Find(&labels).Error; err != nil {
		return nil, fmt.Errorf("querying event labels: %w", err)
	}
	for _, l := range labels {
		ep.EventID[l.Label] = l.Code
	}

	var rows []EpochRow
	if err := c.DB.Where("run_id = ?", run.ID).Order("idx").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying epochs: %w", err)
	}
	if len(rows) != set.NEpochs {
		return nil, fmt.Errorf("epoch set lists %d epochs, found %d", set.NEpochs, len(rows))
	}
	ep.Data = make([][][]float64, len(rows))
	ep.Events = make([]models.Event, len(rows))
	for i, r := range rows {
		data, err := decodeMatrix(r.Data, set.NChannels, set.NTimes)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", r.Idx, err)
		}
		ep.Data[i] = data
		ep.Events[i] = models.Event{Sample: r.Sample, Code: r.Code}
	}
	return ep, nil
}

// LoadRejectLog returns the rejection log stored with the newest epochs run,
// or nil if the run has none.
func (c *DBClient) LoadRejectLog() (*models.RejectLog, error) {
	run, err := c.latestRun(KindEpochs)
	if err != nil {
		return nil, err
	}
	var meta RejectMeta
	err = c.DB.First(&meta, "run_id = ?", run.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reject log: %w", err)
	}

	log := &models.RejectLog{
		Consensus:  meta.Consensus,
		NInterp:    meta.NInterp,
		Thresholds: make(map[string]float64),
	}
	if meta.Channels != "" {
		log.Channels = strings.Split(meta.Channels, ",")
	}

	var rows []RejectRow
	if err := c.DB.Where("run_id = ?", run.ID).Order("epoch_idx").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying reject rows: %w", err)
	}
	log.BadEpochs = make([]bool, len(rows))
	log.Labels = make([][]int8, len(rows))
	for i, r := range rows {
		log.BadEpochs[i] = r.Dropped
		log.Labels[i] = decodeInt8s(r.Labels)
	}

	var thr []ThresholdRow
	if err := c.DB.Where("run_id = ?", run.ID).Find(&thr).Error; err != nil {
		return nil, fmt.Errorf("querying thresholds: %w", err)
	}
	for _, t := range thr {
		log.Thresholds[t.Channel] = t.Value
	}
	return log, nil
}

// SummarizeEpochs reads the newest epochs run's metadata.
func (c *DBClient) SummarizeEpochs() (*EpochsSummary, error) {
	run, err := c.latestRun(KindEpochs)
	if err != nil {
		return nil, err
	}
	var set EpochSet
	if err := c.DB.First(&set, "run_id = ?", run.ID).Error; err != nil {
		return nil, fmt.Errorf("querying epoch set: %w", err)
	}
	s := &EpochsSummary{
		RunID:     run.ID,
		Subject:   run.Subject,
		NEpochs:   set.NEpochs,
		NChannels: set.NChannels,
		NTimes:    set.NTimes,
		SFreq:     set.SFreq,
		TMin:      set.TMin,
	}

	var labels []EventLabel
	if err := c.DB.Where("run_id = ?", run.ID).Order("code").Find(&labels).Error; err != nil {
		return nil, fmt.Errorf("querying event labels: %w", err)
	}
	for _, l := range labels {
		s.Labels = append(s.Labels, l.Label)
	}

	var n int64
	if err := c.DB.Model(&RejectMeta{}).Where("run_id = ?", run.ID).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("querying reject log: %w", err)
	}
	s.HasLog = n > 0
	var dropped int64
	if err := c.DB.Model(&RejectRow{}).Where("run_id = ? AND dropped = ?", run.ID, true).Count(&dropped).Error; err != nil {
		return nil, fmt.Errorf("counting dropped epochs: %w", err)
	}
	s.NDropped = int(dropped)
	return s, nil
}
