package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"spider_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// InstrumentRecord is the persisted form of a discovered instrument.
type InstrumentRecord struct {
	Exchange           string          `gorm:"primaryKey"`
	ExchangeID         string          `gorm:"primaryKey"`
	Name               string          `gorm:"index"`
	Category           string          `gorm:"index"`
	Base               string
	Quote              string
	Settle             string
	ContractValue      decimal.Decimal `gorm:"type:text"`
	ContractMultiplier decimal.Decimal `gorm:"type:text"`
	TickSize           decimal.Decimal `gorm:"type:text"`
	LotSize            decimal.Decimal `gorm:"type:text"`
	MinSize            decimal.Decimal `gorm:"type:text"`
	ExpiresAt          int64           // unix ms, 0 when the market never expires
	UpdatedAt          time.Time
}

func toRecord(inst domain.Instrument) InstrumentRecord {
	rec := InstrumentRecord{
		Exchange:           inst.Exchange,
		ExchangeID:         inst.ExchangeID,
		Name:               inst.Name,
		Category:           string(inst.Category),
		Base:               inst.Base,
		Quote:              inst.Quote,
		Settle:             inst.Settle,
		ContractValue:      inst.ContractValue,
		ContractMultiplier: inst.ContractMultiplier,
		TickSize:           inst.TickSize,
		LotSize:            inst.LotSize,
		MinSize:            inst.MinSize,
	}
	if !inst.ExpiresAt.IsZero() {
		rec.ExpiresAt = inst.ExpiresAt.UnixMilli()
	}
	return rec
}

func (r InstrumentRecord) toInstrument() domain.Instrument {
	inst := domain.Instrument{
		Name:               r.Name,
		ExchangeID:         r.ExchangeID,
		Exchange:           r.Exchange,
		Category:           domain.Category(r.Category),
		Base:               r.Base,
		Quote:              r.Quote,
		Settle:             r.Settle,
		ContractValue:      r.ContractValue,
		ContractMultiplier: r.ContractMultiplier,
		TickSize:           r.TickSize,
		LotSize:            r.LotSize,
		MinSize:            r.MinSize,
	}
	if r.ExpiresAt > 0 {
		inst.ExpiresAt = time.UnixMilli(r.ExpiresAt)
	}
	return inst
}

// Storage keeps the instrument catalog across restarts
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at dbPath.
// An empty path falls back to the user config directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		var err error
		if dbPath, err = defaultDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&InstrumentRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// defaultDBPath resolves the database file path based on OS
func defaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Spider", "data", "spider.db"), nil
}

// UpsertInstruments creates or updates instruments, keyed by exchange and venue id.
func (s *Storage) UpsertInstruments(insts []domain.Instrument) error {
	if len(insts) == 0 {
		return nil
	}
	records := make([]InstrumentRecord, len(insts))
	for i, inst := range insts {
		records[i] = toRecord(inst)
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&records, 200).Error
}

// LoadInstruments returns every stored instrument of an exchange.
func (s *Storage) LoadInstruments(exchange string) ([]domain.Instrument, error) {
	var records []InstrumentRecord
	if err := s.db.Where("exchange = ?", exchange).Order("name").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Instrument, len(records))
	for i, r := range records {
		out[i] = r.toInstrument()
	}
	return out, nil
}

// DeleteExpired removes instruments that expired at or before now.
func (s *Storage) DeleteExpired(now time.Time) (int64, error) {
	res := s.db.Where("expires_at > 0 AND expires_at <= ?", now.UnixMilli()).Delete(&InstrumentRecord{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
