package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	storemodel "brisk/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const defaultRecentLimit = 50

var ErrEmptyID = errors.New("trade event id is required")

type tradeEventModel = storemodel.TradeEventModel

// TradeEventRecord is the storage view of a journal entry.
type TradeEventRecord struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Instrument  string          `json:"instrument"`
	Simulated   bool            `json:"simulated"`
	Quantity    float64         `json:"quantity"`
	EntryPrice  float64         `json:"entry_price"`
	ExitPrice   float64         `json:"exit_price"`
	NetProfit   float64         `json:"net_profit"`
	CloseReason string          `json:"close_reason,omitempty"`
	Time        time.Time       `json:"time"`
	Position    json.RawMessage `json:"position,omitempty"`
	Metrics     json.RawMessage `json:"metrics,omitempty"`
}

// GormStore keeps the trade journal in SQLite through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeEventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer (the trader), occasional HTTP readers
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertTradeEvent stores rec. Re-inserting an existing id is a no-op.
func (s *GormStore) InsertTradeEvent(ctx context.Context, rec TradeEventRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return ErrEmptyID
	}
	m := newTradeEventModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&m).Error
}

// RecentTradeEvents returns up to limit events, newest first. An empty
// instrument matches all.
func (s *GormStore) RecentTradeEvents(ctx context.Context, instrument string, limit int) ([]TradeEventRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	q := s.db.WithContext(ctx).Model(&tradeEventModel{})
	if inst := strings.ToUpper(strings.TrimSpace(instrument)); inst != "" {
		q = q.Where("instrument = ?", inst)
	}
	var rows []tradeEventModel
	if err := q.Order("event_time DESC").Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TradeEventRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromModel(row))
	}
	return out, nil
}

func (s *GormStore) CountTradeEvents(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store not initialized")
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&tradeEventModel{}).Count(&n).Error
	return n, err
}

func newTradeEventModel(rec TradeEventRecord) tradeEventModel {
	at := rec.Time
	if at.IsZero() {
		at = time.Now()
	}
	return tradeEventModel{
		ID:          rec.ID,
		Action:      rec.Action,
		Instrument:  rec.Instrument,
		Simulated:   rec.Simulated,
		Quantity:    rec.Quantity,
		EntryPrice:  rec.EntryPrice,
		ExitPrice:   rec.ExitPrice,
		NetProfit:   rec.NetProfit,
		CloseReason: rec.CloseReason,
		EventTime:   at.UnixMilli(),
		Position:    toJSON(rec.Position),
		Metrics:     toJSON(rec.Metrics),
	}
}

func recordFromModel(m tradeEventModel) TradeEventRecord {
	return TradeEventRecord{
		ID:          m.ID,
		Action:      m.Action,
		Instrument:  m.Instrument,
		Simulated:   m.Simulated,
		Quantity:    m.Quantity,
		EntryPrice:  m.EntryPrice,
		ExitPrice:   m.ExitPrice,
		NetProfit:   m.NetProfit,
		CloseReason: m.CloseReason,
		Time:        time.UnixMilli(m.EventTime).UTC(),
		Position:    json.RawMessage(m.Position),
		Metrics:     json.RawMessage(m.Metrics),
	}
}

func toJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
