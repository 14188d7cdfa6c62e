package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/NeuroPrep/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const errDBClientNil = "db client is nil"

// Run kinds.
const (
	KindEpochs = "epochs"
	KindICA    = "ica"
)

// FormatVersion is bumped whenever the table layout changes.
const FormatVersion = 1

var ErrNoRun = errors.New("file holds no saved run")

// DBClient wraps one sqlite file. Each file holds the runs of one subject.
type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Run struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Kind      string `gorm:"index:idx_run_kind"`
	Subject   int
	Version   int
	CreatedAt time.Time
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&Run{},
		&ChannelRow{}, &EventLabel{}, &EpochSet{}, &EpochRow{},
		&RejectMeta{}, &RejectRow{}, &ThresholdRow{},
		&ICAModel{}, &ICAChannel{}, &ICALabel{}, &ICAScore{},
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// latestRun returns the newest run of the given kind.
func (c *DBClient) latestRun(kind string) (*Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var run Run
	err := c.DB.Where("kind = ?", kind).Order("created_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w of kind %s", ErrNoRun, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	if run.Version > FormatVersion {
		return nil, fmt.Errorf("run %s has format version %d, newer than supported %d", run.ID, run.Version, FormatVersion)
	}
	return &run, nil
}

func newRun(kind string, subject int) Run {
	return Run{
		ID:        utils.GenerateUUID(),
		Kind:      kind,
		Subject:   subject,
		Version:   FormatVersion,
		CreatedAt: time.Now(),
	}
}

// replaceFile runs write against a fresh database next to path and moves it
// over path once write succeeds, so an existing file is overwritten only by
// a complete one.
func replaceFile(path string, write func(*DBClient) error) error {
	tmp := fmt.Sprintf("%s.%s.tmp", path, utils.GenerateUUID()[:8])
	client, err := NewDBClientWithPath(tmp)
	if err != nil {
		return err
	}
	werr := write(client)
	if cerr := client.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = utils.DeleteFile(tmp)
		return werr
	}
	if err := utils.MoveFile(tmp, path); err != nil {
		_ = utils.DeleteFile(tmp)
		return err
	}
	return nil
}

func openExisting(path string) (*DBClient, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return NewDBClientWithPath(path)
}
