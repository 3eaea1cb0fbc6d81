package trader

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBookStopLossScenario(t *testing.T) {
	var b Book
	pos, err := b.Enter("XUSDC", 100, t0, DefaultRiskConfig())
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, 98.0, pos.StopLossPrice)
	assert.Equal(t, 104.0, pos.TakeProfitPrice)
	assert.Equal(t, 100.0, pos.HighestPrice)
	assert.Equal(t, 100.0, pos.LowestPrice)

	closed, exited := b.Evaluate(97, t0.Add(time.Minute))
	require.True(t, exited)
	assert.True(t, closed.StopLossTriggered)
	assert.False(t, closed.TakeProfitTriggered)
	assert.Equal(t, ReasonStopLoss, closed.CloseReason)
	assert.Equal(t, -3.0, closed.GrossProfit)
	assert.Equal(t, 60.0, closed.HoldingSeconds(t0.Add(time.Hour)))

	assert.False(t, b.IsOpen())
	assert.Equal(t, Position{}, b.Position())
	m := b.Metrics()
	assert.Equal(t, 1, m.LoseCount)
	assert.Equal(t, 0, m.WinCount)
}

func TestBookTakeProfit(t *testing.T) {
	var b Book
	_, err := b.Enter("XUSDC", 100, t0, DefaultRiskConfig())
	require.NoError(t, err)

	_, exited := b.Evaluate(103.9, t0)
	assert.False(t, exited)
	closed, exited := b.Evaluate(104, t0)
	require.True(t, exited)
	assert.True(t, closed.TakeProfitTriggered)
	assert.Equal(t, ReasonTakeProfit, closed.CloseReason)
	assert.Equal(t, 1, b.Metrics().WinCount)
}

func TestBookNetProfitFormula(t *testing.T) {
	risk := DefaultRiskConfig()
	risk.BuyFeePercent = 0.00075
	risk.SellFeePercent = 0.001
	risk.MaxTotalCapital = 2500
	risk.RiskPerTrade = 0.2

	var b Book
	pos, err := b.Open("ETHUSDC", 3100, Fill{Price: 3101.25, Quantity: 0.161}, t0, risk)
	require.NoError(t, err)
	closed, err := b.Close(Fill{Price: 3163.4}, t0.Add(time.Hour), ReasonTakeProfit)
	require.NoError(t, err)

	entry := decimal.NewFromFloat(pos.EntryPrice)
	exit := decimal.NewFromFloat(3163.4)
	qty := decimal.NewFromFloat(pos.Quantity)
	want := exit.Sub(entry).Mul(qty).
		Sub(entry.Mul(qty).Mul(decimal.NewFromFloat(0.00075))).
		Sub(exit.Mul(qty).Mul(decimal.NewFromFloat(0.001)))
	wantF, _ := want.Float64()
	assert.Equal(t, wantF, closed.NetProfit)
	assert.InDelta(t, closed.GrossProfit-closed.FeeEntry-closed.FeeExit, closed.NetProfit, 1e-9)
	assert.InDelta(t, (3163.4-3101.25)*0.161-3101.25*0.161*0.00075-3163.4*0.161*0.001, closed.NetProfit, 1e-9)
}

func TestBookTrailingStopNeverLoosens(t *testing.T) {
	risk := DefaultRiskConfig()
	risk.TrailingStopEnabled = true
	risk.TakeProfitPercent = 10

	var b Book
	_, err := b.Enter("XUSDC", 100, t0, risk)
	require.NoError(t, err)

	prev := b.Position().StopLossPrice
	for _, price := range []float64{100.5, 101, 103, 102, 106, 105.5, 110, 112} {
		_, exited := b.Evaluate(price, t0)
		require.False(t, exited, "price %v", price)
		sl := b.Position().StopLossPrice
		assert.GreaterOrEqual(t, sl, prev, "price %v", price)
		prev = sl
	}
	assert.InDelta(t, 112*0.99, b.Position().StopLossPrice, 1e-9)
	assert.Equal(t, 100.0, b.Position().LowestPrice)

	closed, exited := b.Evaluate(110.8, t0)
	require.True(t, exited)
	assert.True(t, closed.StopLossTriggered)
	assert.Greater(t, closed.GrossProfit, 0.0)
}

func TestBookTrailingDisabledKeepsStops(t *testing.T) {
	var b Book
	_, err := b.Enter("XUSDC", 100, t0, DefaultRiskConfig())
	require.NoError(t, err)
	b.Update(103)
	assert.Equal(t, 98.0, b.Position().StopLossPrice)
	assert.Equal(t, 104.0, b.Position().TakeProfitPrice)
	assert.Equal(t, 103.0, b.Position().HighestPrice)
}

func TestBookTrailingTakeProfitOnlyRises(t *testing.T) {
	risk := DefaultRiskConfig()
	risk.TrailingTPEnabled = true
	risk.TakeProfitPercent = 0.01
	risk.TrailingTPPercent = 0.02

	var b Book
	_, err := b.Enter("XUSDC", 100, t0, risk)
	require.NoError(t, err)
	assert.InDelta(t, 101, b.Position().TakeProfitPrice, 1e-9)

	b.Update(100.5)
	assert.InDelta(t, 102.51, b.Position().TakeProfitPrice, 1e-9)
	b.Update(100.2)
	assert.InDelta(t, 102.51, b.Position().TakeProfitPrice, 1e-9)
}

func TestBookRejectsInvalidTransitions(t *testing.T) {
	var b Book
	_, err := b.Close(Fill{Price: 1}, t0, ReasonSignal)
	assert.ErrorIs(t, err, ErrNotOpen)

	_, err = b.Enter("", 100, t0, DefaultRiskConfig())
	assert.ErrorIs(t, err, ErrNoInstrument)
	_, err = b.Enter("XUSDC", 0, t0, DefaultRiskConfig())
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = b.Enter("XUSDC", 100, t0, DefaultRiskConfig())
	require.NoError(t, err)
	_, err = b.Enter("YUSDC", 50, t0, DefaultRiskConfig())
	assert.ErrorIs(t, err, ErrPositionOpen)
	assert.Equal(t, "XUSDC", b.Position().Instrument)
}

func TestMetricsWinrate(t *testing.T) {
	var empty Book
	m := empty.Metrics()
	assert.Zero(t, m.WinratePercent)
	assert.Zero(t, m.AverageProfit)
	assert.Zero(t, m.TotalTrades)

	cases := []struct {
		wins, losses int
	}{{1, 0}, {0, 3}, {2, 2}, {3, 1}, {1, 2}}
	for _, tc := range cases {
		var b Book
		for i := 0; i < tc.wins; i++ {
			_, err := b.Enter("X", 100, t0, DefaultRiskConfig())
			require.NoError(t, err)
			_, exited := b.Evaluate(110, t0)
			require.True(t, exited)
		}
		for i := 0; i < tc.losses; i++ {
			_, err := b.Enter("X", 100, t0, DefaultRiskConfig())
			require.NoError(t, err)
			_, exited := b.Evaluate(90, t0)
			require.True(t, exited)
		}
		m := b.Metrics()
		assert.Equal(t, tc.wins+tc.losses, m.TotalTrades)
		assert.InDelta(t, 100*float64(tc.wins)/float64(tc.wins+tc.losses), m.WinratePercent, 1e-12)
		assert.InDelta(t, m.TotalProfit/float64(m.TotalTrades), m.AverageProfit, 1e-9)
	}
}

func TestPositionJSONCarriesFullSnapshot(t *testing.T) {
	var b Book
	pos, err := b.Enter("XUSDC", 100, t0, DefaultRiskConfig())
	require.NoError(t, err)
	raw, err := json.Marshal(pos)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"instrument", "entry_price", "quantity", "stop_loss_price", "take_profit_price", "buy_fee_percent", "trailing_sl_enabled"} {
		assert.Contains(t, fields, key)
	}
}

func TestRiskConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultRiskConfig().Validate())

	bad := DefaultRiskConfig()
	bad.RiskPerTrade = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultRiskConfig()
	bad.StopLossPercent = 0
	assert.Error(t, bad.Validate())

	bad = DefaultRiskConfig()
	bad.MaxTradesPerDay = -1
	assert.Error(t, bad.Validate())
}

func TestGuardLimits(t *testing.T) {
	risk := DefaultRiskConfig()
	risk.MaxTradeLoss = 5
	risk.MaxDailyLoss = 10
	risk.MaxTradesPerDay = 3
	g := NewGuard(risk, t0)

	assert.ErrorIs(t, g.Allow(6, t0), ErrRiskRejected)
	assert.NoError(t, g.Allow(2, t0))

	g.Record(-4, t0)
	g.Record(-4, t0)
	assert.ErrorIs(t, g.Allow(3, t0), ErrRiskRejected, "daily loss")
	assert.NoError(t, g.Allow(2, t0))

	g.Record(1, t0)
	assert.ErrorIs(t, g.Allow(0.1, t0), ErrRiskRejected, "trades per day")
	assert.Equal(t, GuardStats{DailyLoss: 8, TradesToday: 3, LastReset: t0}, g.Stats())

	later := t0.Add(25 * time.Hour)
	assert.NoError(t, g.Allow(2, later))
	assert.Zero(t, g.Stats().TradesToday)
}

func TestGuardZeroLimitsAllowEverything(t *testing.T) {
	g := NewGuard(DefaultRiskConfig(), t0)
	for i := 0; i < 50; i++ {
		g.Record(-100, t0)
	}
	assert.NoError(t, g.Allow(1e6, t0))
}
