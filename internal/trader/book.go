package trader

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Book is the Flat/Open state machine for a single position plus the running
// totals of closed trades. It is not safe for concurrent use; the Trader
// owns one and publishes copies.
type Book struct {
	pos Position

	totalProfit decimal.Decimal
	wins        int
	losses      int
}

func (b *Book) Position() Position { return b.pos }

func (b *Book) IsOpen() bool { return b.pos.Open }

// Enter opens a position at price sized from risk, as a simulated fill.
func (b *Book) Enter(instrument string, price float64, at time.Time, risk RiskConfig) (Position, error) {
	return b.Open(instrument, price, Fill{Price: price, Quantity: EntryQuantity(risk, price), Simulated: true}, at, risk)
}

// Open records an executed entry. Stops are derived from the fill price.
func (b *Book) Open(instrument string, signalPrice float64, fill Fill, at time.Time, risk RiskConfig) (Position, error) {
	if b.pos.Open {
		return b.pos, ErrPositionOpen
	}
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return Position{}, ErrNoInstrument
	}
	if !positive(fill.Price) || !positive(fill.Quantity) {
		return Position{}, ErrInvalidPrice
	}
	b.pos = Position{
		Instrument:          instrument,
		Open:                true,
		Simulated:           fill.Simulated,
		Quantity:            fill.Quantity,
		SignalPrice:         signalPrice,
		EntryPrice:          fill.Price,
		HighestPrice:        fill.Price,
		LowestPrice:         fill.Price,
		StopLossPrice:       scaled(fill.Price, -risk.StopLossPercent),
		TakeProfitPrice:     scaled(fill.Price, risk.TakeProfitPercent),
		EntryTime:           at,
		RiskPerTrade:        risk.RiskPerTrade,
		StopLossPercent:     risk.StopLossPercent,
		TakeProfitPercent:   risk.TakeProfitPercent,
		TrailingStopEnabled: risk.TrailingStopEnabled,
		TrailingSLPercent:   risk.TrailingSLPercent,
		TrailingTPEnabled:   risk.TrailingTPEnabled,
		TrailingTPPercent:   risk.TrailingTPPercent,
		BuyFeePercent:       risk.BuyFeePercent,
		SellFeePercent:      risk.SellFeePercent,
		EntryOrderID:        fill.OrderID,
	}
	return b.pos, nil
}

// Update records price against the open position. On a new high the
// trailing levels are recomputed and only ever raised.
func (b *Book) Update(price float64) {
	if !b.pos.Open || !positive(price) {
		return
	}
	if price > b.pos.HighestPrice {
		b.pos.HighestPrice = price
		if b.pos.TrailingStopEnabled {
			if sl := scaled(price, -b.pos.TrailingSLPercent); sl > b.pos.StopLossPrice {
				b.pos.StopLossPrice = sl
			}
		}
		if b.pos.TrailingTPEnabled {
			if tp := scaled(price, b.pos.TrailingTPPercent); tp > b.pos.TakeProfitPrice {
				b.pos.TakeProfitPrice = tp
			}
		}
	}
	if price < b.pos.LowestPrice {
		b.pos.LowestPrice = price
	}
}

// ExitReason reports whether price crosses the stop-loss or take-profit level.
func (b *Book) ExitReason(price float64) (CloseReason, bool) {
	if !b.pos.Open || !positive(price) {
		return "", false
	}
	if price <= b.pos.StopLossPrice {
		return ReasonStopLoss, true
	}
	if price >= b.pos.TakeProfitPrice {
		return ReasonTakeProfit, true
	}
	return "", false
}

// Close books the exit fill, folds the result into the totals and resets the
// position. The closed trade is returned.
func (b *Book) Close(fill Fill, at time.Time, reason CloseReason) (Position, error) {
	if !b.pos.Open {
		return Position{}, ErrNotOpen
	}
	if !positive(fill.Price) {
		return Position{}, ErrInvalidPrice
	}
	p := b.pos
	qty := decFromFloat(p.Quantity)
	entry := decFromFloat(p.EntryPrice)
	exit := decFromFloat(fill.Price)

	gross := exit.Sub(entry).Mul(qty)
	feeEntry := entry.Mul(qty).Mul(decFromFloat(p.BuyFeePercent))
	feeExit := exit.Mul(qty).Mul(decFromFloat(p.SellFeePercent))
	net := gross.Sub(feeEntry).Sub(feeExit)

	p.Open = false
	p.ExitPrice = fill.Price
	p.ExitTime = at
	p.ExitOrderID = fill.OrderID
	p.GrossProfit = decToFloat(gross)
	p.FeeEntry = decToFloat(feeEntry)
	p.FeeExit = decToFloat(feeExit)
	p.NetProfit = decToFloat(net)
	p.StopLossTriggered = reason == ReasonStopLoss || fill.Price <= p.StopLossPrice
	p.TakeProfitTriggered = reason == ReasonTakeProfit || (reason != ReasonStopLoss && fill.Price >= p.TakeProfitPrice)
	p.CloseReason = reason

	b.totalProfit = b.totalProfit.Add(net)
	if net.Sign() >= 0 {
		b.wins++
	} else {
		b.losses++
	}
	b.pos = Position{}
	return p, nil
}

// Evaluate runs one paper tick: track price, then exit at price if a level
// is crossed.
func (b *Book) Evaluate(price float64, at time.Time) (Position, bool) {
	b.Update(price)
	reason, hit := b.ExitReason(price)
	if !hit {
		return Position{}, false
	}
	closed, err := b.Close(Fill{Price: price, Quantity: b.pos.Quantity, Simulated: true}, at, reason)
	if err != nil {
		return Position{}, false
	}
	return closed, true
}

func (b *Book) Metrics() Metrics {
	total := b.wins + b.losses
	m := Metrics{
		TotalProfit: decToFloat(b.totalProfit),
		WinCount:    b.wins,
		LoseCount:   b.losses,
		TotalTrades: total,
	}
	if total > 0 {
		m.WinratePercent = float64(b.wins) / float64(total) * 100
		m.AverageProfit = decToFloat(b.totalProfit.Div(decimal.NewFromInt(int64(total))))
	}
	return m
}
