// Package engine supervises the collector, the ranking loop and the trader.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"brisk/internal/collector"
	"brisk/internal/gateway/exchange"
	"brisk/internal/logger"
	"brisk/internal/market"
	"brisk/internal/ranker"
	"brisk/internal/scheduler"
	"brisk/internal/trader"
)

var (
	ErrRunning    = errors.New("engine already running")
	ErrNotRunning = errors.New("engine not running")
	ErrNoUniverse = errors.New("no instruments to collect")
)

type Collector interface {
	Start(instruments []string) error
	Stop()
	Restart(instruments []string) error
	Running() bool
	Instruments() []string
	Stats() collector.Stats
}

type Ranker interface {
	Rank(ctx context.Context) ([]ranker.Performance, error)
}

type Trader interface {
	Start()
	Stop()
	Running() bool
	Assign(ctx context.Context, instrument string) error
	SetRisk(risk trader.RiskConfig) error
	Snapshot() trader.Snapshot
}

// SizeReporter reports the on-disk size of the bar store.
type SizeReporter interface {
	SizeBytes() int64
}

type Config struct {
	QuoteAsset string
	// Instruments fixes the universe; empty asks the exchange for every
	// instrument quoted in QuoteAsset.
	Instruments    []string
	MaxInstruments int

	StatusInterval  time.Duration
	RankInterval    time.Duration
	BalanceInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDC"
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = time.Second
	}
	if c.RankInterval <= 0 {
		c.RankInterval = 5 * time.Second
	}
	if c.BalanceInterval <= 0 {
		c.BalanceInterval = 30 * time.Second
	}
	return c
}

type Options struct {
	Config    Config
	Collector Collector
	Ranker    Ranker
	Trader    Trader
	Feed      *TickFeed
	Exchange  exchange.Client
	Store     SizeReporter
	Now       func() time.Time
}

// RankingSnapshot is the result of the last ranking pass.
type RankingSnapshot struct {
	At      time.Time            `json:"at"`
	Results []ranker.Performance `json:"results"`
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Engine owns the lifecycles of its subsystems. Only the engine starts or
// stops the collector and the trader, and only the ranking loop changes the
// traded instrument.
type Engine struct {
	cfg       Config
	collector Collector
	ranker    Ranker
	trader    Trader
	feed      *TickFeed
	exchange  exchange.Client
	store     SizeReporter
	now       func() time.Time

	lifeMu    sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	status    *loop
	ranking   *loop

	// loopExited, when set, is called as each supervised loop returns.
	loopExited func(name string)

	stopMu   sync.Mutex
	stopReq  chan struct{}
	stopOnce *sync.Once

	current    atomic.Pointer[string]
	lastRank   atomic.Pointer[RankingSnapshot]
	snapshot   atomic.Pointer[Status]
	universe   atomic.Pointer[[]string]
	balance    atomic.Pointer[balanceReading]
	promotions atomic.Int64
}

type balanceReading struct {
	value float64
	at    time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Collector == nil || opts.Ranker == nil || opts.Trader == nil {
		return nil, fmt.Errorf("engine: collector, ranker and trader are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	feed := opts.Feed
	if feed == nil {
		if sink, ok := opts.Trader.(TickSink); ok {
			feed = NewTickFeed(sink)
		}
	}
	e := &Engine{
		cfg:       opts.Config.withDefaults(),
		collector: opts.Collector,
		ranker:    opts.Ranker,
		trader:    opts.Trader,
		feed:      feed,
		exchange:  opts.Exchange,
		store:     opts.Store,
		now:       now,
		stopReq:   make(chan struct{}),
		stopOnce:  &sync.Once{},
	}
	empty := ""
	e.current.Store(&empty)
	e.lastRank.Store(&RankingSnapshot{})
	e.universe.Store(&[]string{})
	e.snapshot.Store(&Status{QuoteAsset: e.cfg.QuoteAsset})
	return e, nil
}

// Start resolves the instrument universe, starts the trader and the
// collector, then the status and ranking loops.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running.Load() || e.status != nil {
		return ErrRunning
	}
	universe, err := e.resolveUniverse(ctx)
	if err != nil {
		return err
	}
	e.universe.Store(&universe)

	e.trader.Start()
	if err := e.collector.Start(universe); err != nil {
		e.trader.Stop()
		return fmt.Errorf("start collector: %w", err)
	}
	e.resetStopRequest()
	e.startedAt = e.now()
	e.running.Store(true)

	e.status = e.spawn("status", e.runStatus)
	e.ranking = e.spawn("ranking", e.runRanking)
	logger.Infof("[engine] started: %d instruments, quote=%s, rank every %s",
		len(universe), e.cfg.QuoteAsset, e.cfg.RankInterval)
	return nil
}

func (e *Engine) spawn(name string, fn func(ctx context.Context)) *loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	exited := e.loopExited
	go func() {
		defer close(l.done)
		fn(ctx)
		if exited != nil {
			exited(name)
		}
	}()
	return l
}

// Stop joins status loop, ranking loop, trader and collector in that order.
// Calls after the first return immediately.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.status.stop()
	e.status = nil
	e.ranking.stop()
	e.ranking = nil
	e.trader.Stop()
	e.collector.Stop()
	e.publishStatus()
	e.RequestStop()
	logger.Infof("[engine] stopped")
}

// RequestStop asks the owner to stop the engine. It never blocks and is
// safe to call from a signal handler goroutine.
func (e *Engine) RequestStop() {
	e.stopMu.Lock()
	ch, once := e.stopReq, e.stopOnce
	e.stopMu.Unlock()
	once.Do(func() { close(ch) })
}

// Done is closed once a stop has been requested or completed.
func (e *Engine) Done() <-chan struct{} {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	return e.stopReq
}

func (e *Engine) resetStopRequest() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	select {
	case <-e.stopReq:
		e.stopReq = make(chan struct{})
		e.stopOnce = &sync.Once{}
	default:
	}
}

func (e *Engine) Running() bool { return e.running.Load() }

func (e *Engine) CurrentInstrument() string { return *e.current.Load() }

// Ranking returns the last ranking pass.
func (e *Engine) Ranking() RankingSnapshot {
	r := *e.lastRank.Load()
	r.Results = append([]ranker.Performance(nil), r.Results...)
	return r
}

// The controls below hold lifeMu, so after Stop returns none of them can
// start a worker again.
func (e *Engine) RestartCollector() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running.Load() {
		return ErrNotRunning
	}
	return e.collector.Restart(nil)
}

func (e *Engine) StopTrader() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running.Load() {
		return ErrNotRunning
	}
	e.trader.Stop()
	return nil
}

func (e *Engine) StartTrader() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running.Load() {
		return ErrNotRunning
	}
	e.trader.Start()
	return nil
}

// ApplyRisk hands new risk settings to the trader; they apply from the next
// entry on.
func (e *Engine) ApplyRisk(risk trader.RiskConfig) error {
	return e.trader.SetRisk(risk)
}

func (e *Engine) resolveUniverse(ctx context.Context) ([]string, error) {
	var list []string
	if len(e.cfg.Instruments) > 0 {
		list = e.cfg.Instruments
	} else {
		if e.exchange == nil {
			return nil, ErrNoUniverse
		}
		var err error
		list, err = e.exchange.Instruments(ctx, e.cfg.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("list instruments: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, inst := range list {
		inst = market.NormalizeInstrument(inst)
		if inst == "" {
			continue
		}
		if _, ok := seen[inst]; ok {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, ErrNoUniverse
	}
	if limit := e.cfg.MaxInstruments; limit > 0 && len(out) > limit {
		logger.Warnf("[engine] %d instruments quoted in %s, collecting the first %d", len(out), e.cfg.QuoteAsset, limit)
		out = out[:limit]
	}
	return out, nil
}

func (e *Engine) runRanking(ctx context.Context) {
	sched := scheduler.NewAlignedScheduler("ranking", e.cfg.RankInterval, 0)
	sched.RunImmediately = true
	sched.Run(ctx, e.rankOnce)
}

// rankOnce refreshes the ranking and promotes the top performer when the
// trader is flat. An open position is never closed to rotate.
func (e *Engine) rankOnce(ctx context.Context) {
	results, err := e.ranker.Rank(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("[engine] ranking failed: %v", err)
		}
		return
	}
	e.lastRank.Store(&RankingSnapshot{At: e.now(), Results: results})
	if len(results) == 0 {
		return
	}
	top := results[0].Instrument
	if top == e.CurrentInstrument() || !e.trader.Running() {
		return
	}
	if snap := e.trader.Snapshot(); snap.Position.Open {
		logger.Debugf("[engine] top performer %s, holding %s until exit", top, snap.Position.Instrument)
		return
	}
	if err := e.trader.Assign(ctx, top); err != nil {
		if errors.Is(err, trader.ErrPositionOpen) {
			logger.Debugf("[engine] promotion of %s deferred: %v", top, err)
		} else if ctx.Err() == nil {
			logger.Warnf("[engine] promote %s: %v", top, err)
		}
		return
	}
	prev := e.CurrentInstrument()
	e.current.Store(&top)
	if e.feed != nil {
		e.feed.SetTarget(top)
	}
	e.promotions.Add(1)
	logger.Infof("[engine] promoted %s (cumulative return %.4f%%), previous=%s", top, results[0].CumulativeReturn, displayOr(prev, "-"))
}

func displayOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
