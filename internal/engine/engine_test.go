package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"brisk/internal/collector"
	"brisk/internal/gateway/exchange"
	"brisk/internal/market"
	"brisk/internal/ranker"
	"brisk/internal/trader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeCollector struct {
	log      *callLog
	mu       sync.Mutex
	running  bool
	started  []string
	restarts int
	startErr error

	// paused and resume, when set, hold Restart between its stop and start.
	paused chan struct{}
	resume chan struct{}
}

func (f *fakeCollector) Start(instruments []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.started = append([]string(nil), instruments...)
	return nil
}

func (f *fakeCollector) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	f.log.add("collector.stop")
}

func (f *fakeCollector) Restart([]string) error {
	f.mu.Lock()
	f.restarts++
	f.running = false
	f.mu.Unlock()
	if f.paused != nil {
		close(f.paused)
		<-f.resume
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCollector) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCollector) Instruments() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeCollector) Stats() collector.Stats { return collector.Stats{} }

type fakeRanker struct {
	mu      sync.Mutex
	results []ranker.Performance
	err     error
}

func (f *fakeRanker) set(results ...ranker.Performance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

func (f *fakeRanker) Rank(context.Context) ([]ranker.Performance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ranker.Performance(nil), f.results...), f.err
}

// loggedTrader records Stop so shutdown order can be checked.
type loggedTrader struct {
	*trader.Trader
	log *callLog
}

func (l loggedTrader) Stop() {
	l.Trader.Stop()
	l.log.add("trader.stop")
}

type fakeExchange struct {
	mu          sync.Mutex
	balance     float64
	balanceErr  error
	instruments []string
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) CurrentPrice(context.Context, string) (float64, error) {
	return 0, errors.New("not used")
}
func (f *fakeExchange) Balance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}
func (f *fakeExchange) PlaceMarketOrder(context.Context, exchange.OrderRequest) (exchange.OrderReceipt, error) {
	return exchange.OrderReceipt{}, errors.New("not used")
}
func (f *fakeExchange) Instruments(context.Context, string) ([]string, error) {
	return f.instruments, nil
}

type fixedSize int64

func (f fixedSize) SizeBytes() int64 { return int64(f) }

type harness struct {
	engine    *Engine
	trader    *trader.Trader
	collector *fakeCollector
	ranker    *fakeRanker
	exchange  *fakeExchange
	log       *callLog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := &callLog{}
	tr, err := trader.New(trader.Options{Config: trader.Config{Risk: trader.DefaultRiskConfig()}})
	require.NoError(t, err)
	h := &harness{
		trader:    tr,
		collector: &fakeCollector{log: log},
		ranker:    &fakeRanker{},
		exchange:  &fakeExchange{balance: 250, instruments: []string{"AUSDC", "BUSDC", "CUSDC"}},
		log:       log,
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 10 * time.Millisecond
	}
	if cfg.RankInterval == 0 {
		cfg.RankInterval = time.Hour
	}
	e, err := New(Options{
		Config:    cfg,
		Collector: h.collector,
		Ranker:    h.ranker,
		Trader:    loggedTrader{Trader: tr, log: log},
		Feed:      NewTickFeed(tr),
		Exchange:  h.exchange,
		Store:     fixedSize(4096),
	})
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(func() {
		e.Stop()
		tr.Stop()
	})
	return h
}

func TestStopTwiceIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	h.engine.Stop()
	h.engine.loopExited = func(name string) { h.log.add(name + ".exit") }

	require.NoError(t, h.engine.Start(context.Background()))
	assert.True(t, h.engine.Running())
	assert.Equal(t, []string{"AUSDC", "BUSDC", "CUSDC"}, h.collector.Instruments())

	h.engine.Stop()
	start := time.Now()
	h.engine.Stop()
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.False(t, h.engine.Running())
	assert.False(t, h.trader.Running())
	assert.False(t, h.collector.Running())
	assert.Equal(t, []string{"status.exit", "ranking.exit", "trader.stop", "collector.stop"}, h.log.list())
	select {
	case <-h.engine.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	st := h.engine.Status()
	assert.False(t, st.Running)
	assert.False(t, st.TraderActive)
}

func TestRequestStopSignalsDone(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.engine.Start(context.Background()))
	assert.ErrorIs(t, h.engine.Start(context.Background()), ErrRunning)

	done := h.engine.Done()
	h.engine.RequestStop()
	h.engine.RequestStop()
	<-done
	assert.True(t, h.engine.Running(), "RequestStop only signals")

	h.engine.Stop()
	require.NoError(t, h.engine.Start(context.Background()))
	select {
	case <-h.engine.Done():
		t.Fatal("Done should be reset by Start")
	default:
	}
}

func TestStartFailsWhenCollectorFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.collector.startErr = errors.New("boom")
	err := h.engine.Start(context.Background())
	require.Error(t, err)
	assert.False(t, h.engine.Running())
	assert.False(t, h.trader.Running())
}

func TestResolveUniverse(t *testing.T) {
	h := newHarness(t, Config{Instruments: []string{"btc/usdc", "BTCUSDC", " ethusdc ", "", "SOLUSDC"}, MaxInstruments: 2})
	got, err := h.engine.resolveUniverse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDC", "ETHUSDC"}, got)

	h = newHarness(t, Config{})
	got, err = h.engine.resolveUniverse(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)

	h.exchange.instruments = nil
	_, err = h.engine.resolveUniverse(context.Background())
	assert.ErrorIs(t, err, ErrNoUniverse)
}

func TestPromotesTopPerformerWhenFlat(t *testing.T) {
	h := newHarness(t, Config{})
	h.trader.Start()
	h.ranker.set(ranker.Performance{Instrument: "AUSDC", CumulativeReturn: 4}, ranker.Performance{Instrument: "BUSDC", CumulativeReturn: 1})

	h.engine.rankOnce(context.Background())
	assert.Equal(t, "AUSDC", h.engine.CurrentInstrument())
	assert.Equal(t, "AUSDC", h.engine.feed.Target())
	assert.Equal(t, "AUSDC", h.trader.Snapshot().Instrument)
	assert.Len(t, h.engine.Ranking().Results, 2)

	h.ranker.set(ranker.Performance{Instrument: "BUSDC", CumulativeReturn: 6})
	h.engine.rankOnce(context.Background())
	assert.Equal(t, "BUSDC", h.engine.CurrentInstrument())
	assert.EqualValues(t, 2, h.engine.promotions.Load())
}

func TestNoPromotionWhileOpen(t *testing.T) {
	h := newHarness(t, Config{})
	h.trader.Start()
	h.ranker.set(ranker.Performance{Instrument: "AUSDC", CumulativeReturn: 4})
	h.engine.rankOnce(context.Background())
	require.Equal(t, "AUSDC", h.engine.CurrentInstrument())

	h.engine.feed.OnBar(market.BarEvent{Bar: market.Bar{Instrument: "BUSDC", Timestamp: 1, Close: 10}})
	h.engine.feed.OnBar(market.BarEvent{Bar: market.Bar{Instrument: "AUSDC", Timestamp: 1, Close: 100}})
	require.Eventually(t, func() bool { return h.trader.Snapshot().Position.Open }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, h.engine.feed.Forwarded())

	h.ranker.set(ranker.Performance{Instrument: "BUSDC", CumulativeReturn: 9})
	h.engine.rankOnce(context.Background())
	assert.Equal(t, "AUSDC", h.engine.CurrentInstrument())
	assert.Equal(t, "AUSDC", h.trader.Snapshot().Position.Instrument)
	assert.True(t, h.trader.Snapshot().Position.Open)
	assert.Equal(t, "BUSDC", h.engine.Ranking().Results[0].Instrument)

	// stop-loss exit frees the trader for rotation
	h.engine.feed.OnBar(market.BarEvent{Bar: market.Bar{Instrument: "AUSDC", Timestamp: 2, Close: 97}})
	require.Eventually(t, func() bool { return h.trader.Snapshot().Metrics.TotalTrades == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, h.trader.Snapshot().Position.Open)
	h.engine.rankOnce(context.Background())
	assert.Equal(t, "BUSDC", h.engine.CurrentInstrument())
}

func TestNoPromotionWhenTraderStopped(t *testing.T) {
	h := newHarness(t, Config{})
	h.ranker.set(ranker.Performance{Instrument: "AUSDC", CumulativeReturn: 4})
	h.engine.rankOnce(context.Background())
	assert.Empty(t, h.engine.CurrentInstrument())
	assert.Equal(t, "AUSDC", h.engine.Ranking().Results[0].Instrument)
}

func TestStatusCarriesBalanceAndStore(t *testing.T) {
	h := newHarness(t, Config{QuoteAsset: "USDC"})
	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return h.engine.Status().Balance == 250 }, time.Second, 5*time.Millisecond)

	st := h.engine.Status()
	assert.True(t, st.Running)
	assert.True(t, st.CollectorActive)
	assert.True(t, st.TraderActive)
	assert.Equal(t, "USDC", st.QuoteAsset)
	assert.Equal(t, 3, st.InstrumentCount)
	assert.EqualValues(t, 4096, st.StoreSizeBytes)
	assert.GreaterOrEqual(t, st.NextRankingIn, 0.0)

	h.exchange.mu.Lock()
	h.exchange.balanceErr = errors.New("down")
	h.exchange.mu.Unlock()
	h.engine.refreshBalance(context.Background())
	h.engine.publishStatus()
	assert.Equal(t, 250.0, h.engine.Status().Balance)
}

func TestControlsRequireRunningEngine(t *testing.T) {
	h := newHarness(t, Config{})
	assert.ErrorIs(t, h.engine.RestartCollector(), ErrNotRunning)
	assert.ErrorIs(t, h.engine.StopTrader(), ErrNotRunning)
	assert.ErrorIs(t, h.engine.StartTrader(), ErrNotRunning)

	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.RestartCollector())
	assert.Equal(t, 1, h.collector.restarts)

	require.NoError(t, h.engine.StopTrader())
	assert.False(t, h.trader.Running())
	require.NoError(t, h.engine.StartTrader())
	assert.True(t, h.trader.Running())

	risk := trader.DefaultRiskConfig()
	risk.RiskPerTrade = 0.5
	require.NoError(t, h.engine.ApplyRisk(risk))
	assert.Equal(t, 0.5, h.trader.Risk().RiskPerTrade)
	risk.RiskPerTrade = 2
	assert.Error(t, h.engine.ApplyRisk(risk))
}

func TestRestartCollectorCannotOutliveStop(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.engine.Start(context.Background()))
	h.collector.paused = make(chan struct{})
	h.collector.resume = make(chan struct{})

	restarted := make(chan error, 1)
	go func() { restarted <- h.engine.RestartCollector() }()
	<-h.collector.paused

	stopped := make(chan struct{})
	go func() {
		h.engine.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a collector restart was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.collector.resume)
	require.NoError(t, <-restarted)
	<-stopped
	assert.False(t, h.engine.Running())
	assert.False(t, h.collector.Running())
	assert.ErrorIs(t, h.engine.RestartCollector(), ErrNotRunning)
}

func TestStartTraderAfterStopIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.engine.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.engine.StartTrader()
		}()
	}
	h.engine.Stop()
	wg.Wait()
	assert.False(t, h.trader.Running())
	assert.ErrorIs(t, h.engine.StartTrader(), ErrNotRunning)
}
