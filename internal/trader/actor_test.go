package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"brisk/internal/gateway/exchange"
	"brisk/internal/pkg/circuit"
	"brisk/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []TradeEvent
}

func (s *recordingSink) Record(ctx context.Context, ev TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Buy(ctx context.Context, instrument string, quantity, price float64) (Fill, error) {
	args := m.Called(instrument, quantity, price)
	return args.Get(0).(Fill), args.Error(1)
}

func (m *mockExecutor) Sell(ctx context.Context, instrument string, quantity, price float64) (Fill, error) {
	args := m.Called(instrument, quantity, price)
	return args.Get(0).(Fill), args.Error(1)
}

func (m *mockExecutor) Simulated() bool { return false }

func newTestTrader(t *testing.T, opts Options) *Trader {
	t.Helper()
	if opts.Config.Risk == (RiskConfig{}) {
		opts.Config.Risk = DefaultRiskConfig()
	}
	tr, err := New(opts)
	require.NoError(t, err)
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr
}

func waitProcessed(t *testing.T, tr *Trader, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Snapshot().Processed >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestTraderImmediateEntryAndStopLossExit(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTrader(t, Options{Sink: sink})
	ctx := context.Background()

	require.NoError(t, tr.Assign(ctx, "xusdc"))
	assert.Equal(t, "XUSDC", tr.Snapshot().Instrument)

	tr.Send(Tick{Instrument: "XUSDC", Price: 100, Time: t0})
	waitProcessed(t, tr, 1)
	snap := tr.Snapshot()
	require.True(t, snap.Position.Open)
	assert.Equal(t, 1.0, snap.Position.Quantity)
	assert.True(t, snap.Position.Simulated)

	tr.Send(Tick{Instrument: "XUSDC", Price: 99, Time: t0.Add(time.Second)})
	waitProcessed(t, tr, 2)
	assert.InDelta(t, -1.0, tr.Snapshot().Unrealized, 1e-9)

	tr.Send(Tick{Instrument: "XUSDC", Price: 97, Time: t0.Add(2 * time.Second)})
	waitProcessed(t, tr, 3)
	snap = tr.Snapshot()
	assert.False(t, snap.Position.Open)
	assert.Equal(t, 1, snap.Metrics.LoseCount)
	assert.Equal(t, []string{ActionBuy, ActionSell}, sink.actions())

	sink.mu.Lock()
	sell := sink.events[1]
	sink.mu.Unlock()
	assert.Equal(t, -3.0, sell.Position.GrossProfit)
	assert.True(t, sell.Position.StopLossTriggered)
	assert.Equal(t, 1, sell.Metrics.TotalTrades)
}

func TestTraderIgnoresOtherInstrumentsAndUnassigned(t *testing.T) {
	tr := newTestTrader(t, Options{})

	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "YUSDC", Price: 100})
	tr.Send(Tick{Instrument: "XUSDC", Price: -1})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))

	snap := tr.Snapshot()
	assert.Zero(t, snap.Processed)
	assert.False(t, snap.Position.Open)
}

func TestTraderRejectsReassignWhileOpen(t *testing.T) {
	tr := newTestTrader(t, Options{})
	ctx := context.Background()

	require.NoError(t, tr.Assign(ctx, "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 1)

	err := tr.Assign(ctx, "YUSDC")
	assert.ErrorIs(t, err, ErrPositionOpen)
	snap := tr.Snapshot()
	assert.Equal(t, "XUSDC", snap.Instrument)
	assert.True(t, snap.Position.Open)

	require.NoError(t, tr.Assign(ctx, "XUSDC"))
}

func TestTraderSignalEntryMode(t *testing.T) {
	var calls int
	signal := func(history []float64) strategy.Signal {
		calls++
		if len(history) >= 3 {
			return strategy.Buy
		}
		return strategy.Hold
	}
	tr := newTestTrader(t, Options{Config: Config{EntryMode: EntrySignal}, Signal: signal})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))

	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	tr.Send(Tick{Instrument: "XUSDC", Price: 100.1})
	waitProcessed(t, tr, 2)
	assert.False(t, tr.Snapshot().Position.Open)

	tr.Send(Tick{Instrument: "XUSDC", Price: 100.2})
	waitProcessed(t, tr, 3)
	snap := tr.Snapshot()
	assert.True(t, snap.Position.Open)
	assert.Equal(t, 100.2, snap.Position.EntryPrice)
	assert.Equal(t, "BUY", snap.LastSignal)
}

func TestTraderSignalExit(t *testing.T) {
	sell := false
	var mu sync.Mutex
	signal := func([]float64) strategy.Signal {
		mu.Lock()
		defer mu.Unlock()
		if sell {
			return strategy.Sell
		}
		return strategy.Hold
	}
	tr := newTestTrader(t, Options{Config: Config{SignalExit: true}, Signal: signal})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 1)

	mu.Lock()
	sell = true
	mu.Unlock()
	tr.Send(Tick{Instrument: "XUSDC", Price: 101})
	waitProcessed(t, tr, 2)
	snap := tr.Snapshot()
	assert.False(t, snap.Position.Open)
	assert.Equal(t, 1, snap.Metrics.WinCount)
}

func TestTraderFailedExitKeepsPositionOpen(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Buy", "XUSDC", 1.0, 100.0).Return(Fill{Price: 100, Quantity: 1, OrderID: "b1"}, nil).Once()
	exec.On("Sell", "XUSDC", 1.0, 97.0).Return(Fill{}, errors.New("timeout")).Once()
	exec.On("Sell", "XUSDC", 1.0, 96.0).Return(Fill{Price: 96, Quantity: 1, OrderID: "s1"}, nil).Once()

	tr := newTestTrader(t, Options{Executor: exec})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))

	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	tr.Send(Tick{Instrument: "XUSDC", Price: 97})
	waitProcessed(t, tr, 2)
	snap := tr.Snapshot()
	assert.True(t, snap.Position.Open)
	assert.Equal(t, "timeout", snap.LastError)
	assert.False(t, snap.Position.Simulated)
	assert.Equal(t, "b1", snap.Position.EntryOrderID)

	tr.Send(Tick{Instrument: "XUSDC", Price: 96})
	waitProcessed(t, tr, 3)
	snap = tr.Snapshot()
	assert.False(t, snap.Position.Open)
	assert.InDelta(t, -4.196, snap.Metrics.TotalProfit, 1e-9)
	exec.AssertExpectations(t)
}

func TestTraderFailedEntryStaysFlat(t *testing.T) {
	exec := new(mockExecutor)
	exec.On("Buy", "XUSDC", 1.0, 100.0).Return(Fill{}, errors.New("insufficient balance"))

	tr := newTestTrader(t, Options{Executor: exec})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 1)

	snap := tr.Snapshot()
	assert.False(t, snap.Position.Open)
	assert.Equal(t, "insufficient balance", snap.LastError)
}

func TestTraderGuardBlocksEntry(t *testing.T) {
	risk := DefaultRiskConfig()
	risk.MaxTradeLoss = 1 // entry notional 100 * 2% = 2
	tr := newTestTrader(t, Options{Config: Config{Risk: risk}})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 1)

	snap := tr.Snapshot()
	assert.False(t, snap.Position.Open)
	assert.Contains(t, snap.LastError, ErrRiskRejected.Error())
}

func TestTraderSetRiskAppliesToNextEntry(t *testing.T) {
	tr := newTestTrader(t, Options{})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 1)

	risk := DefaultRiskConfig()
	risk.RiskPerTrade = 0.5
	risk.StopLossPercent = 0.1
	require.NoError(t, tr.SetRisk(risk))
	assert.Error(t, tr.SetRisk(RiskConfig{}))

	// open trade keeps its captured settings
	assert.Equal(t, 98.0, tr.Snapshot().Position.StopLossPrice)
	tr.Send(Tick{Instrument: "XUSDC", Price: 97})
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 3)

	pos := tr.Snapshot().Position
	require.True(t, pos.Open)
	assert.Equal(t, 5.0, pos.Quantity)
	assert.Equal(t, 90.0, pos.StopLossPrice)
	assert.Equal(t, 0.5, tr.Risk().RiskPerTrade)
}

func TestTraderStopIsIdempotentAndRestartable(t *testing.T) {
	tr, err := New(Options{Config: Config{Risk: DefaultRiskConfig()}})
	require.NoError(t, err)

	tr.Stop()
	assert.ErrorIs(t, tr.Assign(context.Background(), "XUSDC"), ErrStopped)
	assert.False(t, tr.Send(Tick{Instrument: "XUSDC", Price: 1}))

	tr.Start()
	tr.Start()
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	waitProcessed(t, tr, 1)

	tr.Stop()
	tr.Stop()
	snap := tr.Snapshot()
	assert.False(t, snap.Running)
	assert.True(t, snap.Position.Open, "stopping keeps the open position")

	tr.Start()
	defer tr.Stop()
	tr.Send(Tick{Instrument: "XUSDC", Price: 105})
	waitProcessed(t, tr, 2)
	assert.False(t, tr.Snapshot().Position.Open)
}

func TestTraderCountsDroppedTicks(t *testing.T) {
	block := make(chan struct{})
	signal := func([]float64) strategy.Signal {
		<-block
		return strategy.Hold
	}
	tr := newTestTrader(t, Options{Config: Config{MailboxSize: 2, EntryMode: EntrySignal}, Signal: signal})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))

	accepted := 0
	for i := 0; i < 10; i++ {
		if tr.Send(Tick{Instrument: "XUSDC", Price: 100}) {
			accepted++
		}
	}
	close(block)
	assert.LessOrEqual(t, accepted, 3)
	assert.Equal(t, int64(10-accepted), tr.Snapshot().Dropped)
}

func TestTraderRecoversFromPanic(t *testing.T) {
	var mu sync.Mutex
	panicNext := true
	signal := func([]float64) strategy.Signal {
		mu.Lock()
		defer mu.Unlock()
		if panicNext {
			panicNext = false
			panic("indicator blew up")
		}
		return strategy.Hold
	}
	tr := newTestTrader(t, Options{Config: Config{EntryMode: EntrySignal}, Signal: signal})
	require.NoError(t, tr.Assign(context.Background(), "XUSDC"))
	tr.Send(Tick{Instrument: "XUSDC", Price: 100})
	tr.Send(Tick{Instrument: "XUSDC", Price: 101})
	waitProcessed(t, tr, 2)
	assert.True(t, tr.Snapshot().Running)
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Name() string { return "mock" }

func (m *mockClient) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	args := m.Called(instrument)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockClient) Balance(ctx context.Context, asset string) (float64, error) {
	args := m.Called(asset)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockClient) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderReceipt, error) {
	args := m.Called(req)
	return args.Get(0).(exchange.OrderReceipt), args.Error(1)
}

func (m *mockClient) Instruments(ctx context.Context, quote string) ([]string, error) {
	args := m.Called(quote)
	return args.Get(0).([]string), args.Error(1)
}

func TestLiveExecutorRetriesThenFills(t *testing.T) {
	client := new(mockClient)
	req := exchange.OrderRequest{Instrument: "XUSDC", Side: exchange.SideBuy, Quantity: 2}
	client.On("PlaceMarketOrder", req).Return(exchange.OrderReceipt{}, errors.New("503")).Twice()
	client.On("PlaceMarketOrder", req).Return(exchange.OrderReceipt{OrderID: "42", ExecutedQty: 1.999, AvgPrice: 50.5}, nil).Once()

	exec := NewLiveExecutor(client, circuit.New("orders", 10, time.Minute), LiveConfig{Retries: 3, RetryDelay: time.Millisecond})
	fill, err := exec.Buy(context.Background(), "XUSDC", 2, 50)
	require.NoError(t, err)
	assert.Equal(t, Fill{Price: 50.5, Quantity: 1.999, OrderID: "42"}, fill)
	client.AssertExpectations(t)
}

func TestLiveExecutorGivesUpAfterRetries(t *testing.T) {
	client := new(mockClient)
	client.On("PlaceMarketOrder", mock.Anything).Return(exchange.OrderReceipt{}, errors.New("503"))

	exec := NewLiveExecutor(client, circuit.New("orders", 10, time.Minute), LiveConfig{Retries: 2, RetryDelay: time.Millisecond})
	_, err := exec.Sell(context.Background(), "XUSDC", 1, 50)
	assert.Error(t, err)
	client.AssertNumberOfCalls(t, "PlaceMarketOrder", 2)

	_, err = exec.Sell(context.Background(), "XUSDC", 0, 50)
	assert.ErrorIs(t, err, exchange.ErrInvalidQuantity)
}

func TestLiveExecutorStopsAtOpenBreaker(t *testing.T) {
	client := new(mockClient)
	client.On("PlaceMarketOrder", mock.Anything).Return(exchange.OrderReceipt{}, errors.New("503"))

	exec := NewLiveExecutor(client, circuit.New("orders", 1, time.Hour), LiveConfig{Retries: 3, RetryDelay: time.Millisecond})
	_, err := exec.Buy(context.Background(), "XUSDC", 1, 50)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	client.AssertNumberOfCalls(t, "PlaceMarketOrder", 1)
}

func TestLiveExecutorSellCappedAtFreeBalance(t *testing.T) {
	client := new(mockClient)
	client.On("Balance", "ETH").Return(0.1598, nil).Once()
	capped := exchange.OrderRequest{Instrument: "ETHUSDC", Side: exchange.SideSell, Quantity: 0.1598}
	client.On("PlaceMarketOrder", capped).Return(exchange.OrderReceipt{OrderID: "7"}, nil).Once()

	exec := NewLiveExecutor(client, circuit.New("orders", 10, time.Minute), LiveConfig{Retries: 1, QuoteAsset: "USDC"})
	fill, err := exec.Sell(context.Background(), "ETHUSDC", 0.16, 3000)
	require.NoError(t, err)
	assert.Equal(t, 0.1598, fill.Quantity)
	client.AssertExpectations(t)
}

func TestLiveExecutorSellKeepsQuantityWhenBalanceSuffices(t *testing.T) {
	client := new(mockClient)
	client.On("Balance", "ETH").Return(0.5, nil).Once()
	full := exchange.OrderRequest{Instrument: "ETHUSDC", Side: exchange.SideSell, Quantity: 0.16}
	client.On("PlaceMarketOrder", full).Return(exchange.OrderReceipt{OrderID: "8"}, nil).Once()

	exec := NewLiveExecutor(client, circuit.New("orders", 10, time.Minute), LiveConfig{Retries: 1, QuoteAsset: "USDC"})
	_, err := exec.Sell(context.Background(), "ETHUSDC", 0.16, 3000)
	require.NoError(t, err)

	client.On("Balance", "ETH").Return(0.0, errors.New("timeout")).Once()
	client.On("PlaceMarketOrder", full).Return(exchange.OrderReceipt{OrderID: "9"}, nil).Once()
	_, err = exec.Sell(context.Background(), "ETHUSDC", 0.16, 3000)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestPaperExecutor(t *testing.T) {
	p := NewPaperExecutor()
	fill, err := p.Buy(context.Background(), "XUSDC", 1, 10)
	require.NoError(t, err)
	assert.True(t, fill.Simulated)
	assert.Equal(t, "paper-1", fill.OrderID)
	_, err = p.Sell(context.Background(), "XUSDC", 0, 10)
	assert.Error(t, err)
}
