package trader

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrPositionOpen = errors.New("position already open")
	ErrNotOpen      = errors.New("no open position")
	ErrNoInstrument = errors.New("no instrument assigned")
	ErrInvalidPrice = errors.New("price must be positive and finite")
	ErrStopped      = errors.New("trader is stopped")
	ErrRiskRejected = errors.New("entry rejected by risk guard")
)

// RiskConfig sizes and bounds every trade. Values are captured into the
// Position at entry and never change for the life of that trade.
type RiskConfig struct {
	MaxTotalCapital     float64 `json:"max_total_capital"`
	RiskPerTrade        float64 `json:"risk_per_trade"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	TrailingStopEnabled bool    `json:"trailing_sl_enabled"`
	TrailingSLPercent   float64 `json:"trailing_sl_percent"`
	TrailingTPEnabled   bool    `json:"trailing_tp_enabled"`
	TrailingTPPercent   float64 `json:"trailing_tp_percent"`
	BuyFeePercent       float64 `json:"buy_fee_percent"`
	SellFeePercent      float64 `json:"sell_fee_percent"`

	// Daily guard limits; zero disables a limit.
	MaxTradeLoss    float64 `json:"max_trade_loss"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
	MaxTradesPerDay int     `json:"max_trades_per_day"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxTotalCapital:   1000,
		RiskPerTrade:      0.1,
		StopLossPercent:   0.02,
		TakeProfitPercent: 0.04,
		TrailingSLPercent: 0.01,
		TrailingTPPercent: 0.02,
		BuyFeePercent:     0.001,
		SellFeePercent:    0.001,
	}
}

func (r RiskConfig) Validate() error {
	switch {
	case !positive(r.MaxTotalCapital):
		return fmt.Errorf("risk: max_total_capital must be > 0")
	case !positive(r.RiskPerTrade) || r.RiskPerTrade > 1:
		return fmt.Errorf("risk: risk_per_trade must be in (0, 1]")
	case !positive(r.StopLossPercent) || r.StopLossPercent >= 1:
		return fmt.Errorf("risk: stop_loss_percent must be in (0, 1)")
	case !positive(r.TakeProfitPercent):
		return fmt.Errorf("risk: take_profit_percent must be > 0")
	case r.TrailingSLPercent < 0 || r.TrailingSLPercent >= 1:
		return fmt.Errorf("risk: trailing_sl_percent must be in [0, 1)")
	case r.TrailingTPPercent < 0:
		return fmt.Errorf("risk: trailing_tp_percent must be >= 0")
	case r.BuyFeePercent < 0 || r.BuyFeePercent >= 1 || r.SellFeePercent < 0 || r.SellFeePercent >= 1:
		return fmt.Errorf("risk: fee percentages must be in [0, 1)")
	case r.MaxTradeLoss < 0 || r.MaxDailyLoss < 0 || r.MaxTradesPerDay < 0:
		return fmt.Errorf("risk: guard limits cannot be negative")
	}
	return nil
}

type CloseReason string

const (
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonSignal     CloseReason = "signal"
)

// Position is one trade from entry to exit. The zero value is a flat book.
type Position struct {
	Instrument string `json:"instrument"`
	Open       bool   `json:"open"`
	Simulated  bool   `json:"simulated"`

	Quantity    float64 `json:"quantity"`
	SignalPrice float64 `json:"signal_price"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price,omitempty"`

	HighestPrice    float64 `json:"highest_price"`
	LowestPrice     float64 `json:"lowest_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`

	EntryTime time.Time `json:"entry_time"`
	ExitTime  time.Time `json:"exit_time,omitempty"`

	RiskPerTrade        float64 `json:"risk_per_trade"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	TrailingStopEnabled bool    `json:"trailing_sl_enabled"`
	TrailingSLPercent   float64 `json:"trailing_sl_percent"`
	TrailingTPEnabled   bool    `json:"trailing_tp_enabled"`
	TrailingTPPercent   float64 `json:"trailing_tp_percent"`
	BuyFeePercent       float64 `json:"buy_fee_percent"`
	SellFeePercent      float64 `json:"sell_fee_percent"`

	GrossProfit float64 `json:"gross_profit"`
	FeeEntry    float64 `json:"fee_entry"`
	FeeExit     float64 `json:"fee_exit"`
	NetProfit   float64 `json:"net_profit"`

	StopLossTriggered   bool        `json:"stop_loss_triggered"`
	TakeProfitTriggered bool        `json:"take_profit_triggered"`
	CloseReason         CloseReason `json:"close_reason,omitempty"`

	EntryOrderID string `json:"entry_order_id,omitempty"`
	ExitOrderID  string `json:"exit_order_id,omitempty"`
}

// HoldingSeconds is the time in the trade, up to now while it is open.
func (p Position) HoldingSeconds(now time.Time) float64 {
	if p.EntryTime.IsZero() {
		return 0
	}
	end := p.ExitTime
	if p.Open || end.IsZero() {
		end = now
	}
	return end.Sub(p.EntryTime).Seconds()
}

// Unrealized is the gross P&L of an open position at price.
func (p Position) Unrealized(price float64) float64 {
	if !p.Open || !positive(price) {
		return 0
	}
	return decToFloat(decFromFloat(price).Sub(decFromFloat(p.EntryPrice)).Mul(decFromFloat(p.Quantity)))
}

type Metrics struct {
	TotalProfit    float64 `json:"total_profit"`
	WinCount       int     `json:"win_count"`
	LoseCount      int     `json:"lose_count"`
	TotalTrades    int     `json:"total_trades"`
	WinratePercent float64 `json:"winrate_percent"`
	AverageProfit  float64 `json:"average_profit"`
}

// Fill is an executed (or simulated) market order.
type Fill struct {
	Price     float64
	Quantity  float64
	OrderID   string
	Simulated bool
}

type Tick struct {
	Instrument string
	Price      float64
	Time       time.Time
}

type EntryMode string

const (
	EntryImmediate EntryMode = "immediate"
	EntrySignal    EntryMode = "signal"
)

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
