package model

import (
	"time"

	"gorm.io/datatypes"
)

// TradeEventModel is one BUY or SELL entry of the trade journal. The full
// position and the running metrics are kept as JSON next to the columns that
// are queried directly.
type TradeEventModel struct {
	ID          string         `gorm:"column:id;primaryKey;size:36"`
	Action      string         `gorm:"column:action;index"`
	Instrument  string         `gorm:"column:instrument;index"`
	Simulated   bool           `gorm:"column:simulated"`
	Quantity    float64        `gorm:"column:quantity"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	ExitPrice   float64        `gorm:"column:exit_price"`
	NetProfit   float64        `gorm:"column:net_profit"`
	CloseReason string         `gorm:"column:close_reason"`
	EventTime   int64          `gorm:"column:event_time;index"`
	Position    datatypes.JSON `gorm:"column:position_json;type:TEXT"`
	Metrics     datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (TradeEventModel) TableName() string { return "trade_events" }
