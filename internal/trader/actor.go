package trader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"brisk/internal/logger"
	"brisk/internal/market"
	"brisk/internal/strategy"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// TradeEvent carries the full position at entry (BUY) or exit (SELL).
type TradeEvent struct {
	Action   string    `json:"action"`
	Time     time.Time `json:"time"`
	Position Position  `json:"position"`
	Metrics  Metrics   `json:"metrics"`
}

// EventSink receives trade events from the trader loop. Implementations must
// not block for long.
type EventSink interface {
	Record(ctx context.Context, ev TradeEvent)
}

type Config struct {
	Risk       RiskConfig
	EntryMode  EntryMode
	SignalExit bool
	// Window is how many recent prices are kept for the signal provider.
	Window      int
	MailboxSize int
}

type Options struct {
	Config   Config
	Executor Executor
	Signal   strategy.Provider
	Sink     EventSink
	Now      func() time.Time
}

// Snapshot is an immutable copy of the trader state, replaced after every
// processed message.
type Snapshot struct {
	Running     bool       `json:"running"`
	Instrument  string     `json:"instrument"`
	Position    Position   `json:"position"`
	LatestPrice float64    `json:"latest_price"`
	Unrealized  float64    `json:"unrealized_pnl"`
	Metrics     Metrics    `json:"metrics"`
	Guard       GuardStats `json:"guard"`
	EntryMode   EntryMode  `json:"entry_mode"`
	LastSignal  string     `json:"last_signal"`
	LastError   string     `json:"last_error,omitempty"`
	Processed   int64      `json:"processed"`
	Dropped     int64      `json:"dropped"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type msgKind int

const (
	msgTick msgKind = iota
	msgAssign
)

type message struct {
	kind       msgKind
	tick       Tick
	instrument string
	reply      chan error
}

// Trader is the position manager actor. Ticks and commands are queued in one
// bounded mailbox and handled in arrival order by a single goroutine, which
// is the only writer of the book.
type Trader struct {
	cfg    Config
	exec   Executor
	signal strategy.Provider
	sink   EventSink
	guard  *Guard
	now    func() time.Time

	risk    atomic.Pointer[RiskConfig]
	mailbox chan message

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	// loop state
	book         Book
	instrument   string
	history      []float64
	latest       float64
	lastSignal   strategy.Signal
	lastErr      string
	guardBlocked bool
	processed    int64

	snapshot atomic.Pointer[Snapshot]
	dropped  atomic.Int64
}

func New(opts Options) (*Trader, error) {
	cfg := opts.Config
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	switch cfg.EntryMode {
	case "":
		cfg.EntryMode = EntryImmediate
	case EntryImmediate, EntrySignal:
	default:
		return nil, fmt.Errorf("trader: unknown entry mode %q", cfg.EntryMode)
	}
	if cfg.Window <= 0 {
		cfg.Window = 64
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1024
	}
	if opts.Executor == nil {
		opts.Executor = NewPaperExecutor()
	}
	if opts.Signal == nil {
		opts.Signal = strategy.None()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &Trader{
		cfg:     cfg,
		exec:    opts.Executor,
		signal:  opts.Signal,
		sink:    opts.Sink,
		guard:   NewGuard(cfg.Risk, opts.Now()),
		now:     opts.Now,
		mailbox: make(chan message, cfg.MailboxSize),
		history: make([]float64, 0, cfg.Window),
	}
	risk := cfg.Risk
	t.risk.Store(&risk)
	t.refreshSnapshot()
	return t, nil
}

func (t *Trader) Start() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if t.cancel != nil {
		return
	}
	t.drain()
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running.Store(true)
	go t.run(ctx, t.done)
	logger.Infof("[trader] started (mode=%s, simulated=%v)", t.cfg.EntryMode, t.exec.Simulated())
}

// Stop joins the loop. An open position is kept and resumes being managed
// after the next Start.
func (t *Trader) Stop() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if t.cancel == nil {
		return
	}
	t.running.Store(false)
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
	t.drain()
	t.refreshSnapshot()
	logger.Infof("[trader] stopped")
}

func (t *Trader) Running() bool { return t.running.Load() }

// Send queues a tick without blocking. It reports false when the trader is
// stopped or the mailbox is full; the latter is counted as a drop.
func (t *Trader) Send(tick Tick) bool {
	if !t.running.Load() {
		return false
	}
	select {
	case t.mailbox <- message{kind: msgTick, tick: tick}:
		return true
	default:
		if n := t.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warnf("[trader] mailbox full, %d ticks dropped", n)
		}
		return false
	}
}

// Assign switches the traded instrument. It fails with ErrPositionOpen while
// a position is open on another instrument.
func (t *Trader) Assign(ctx context.Context, instrument string) error {
	instrument = market.NormalizeInstrument(instrument)
	if instrument == "" {
		return ErrNoInstrument
	}
	t.lifeMu.Lock()
	done := t.done
	t.lifeMu.Unlock()
	if done == nil {
		return ErrStopped
	}
	reply := make(chan error, 1)
	select {
	case t.mailbox <- message{kind: msgAssign, instrument: instrument, reply: reply}:
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRisk replaces the risk settings used for the next entry. The open
// position keeps the settings it was entered with.
func (t *Trader) SetRisk(risk RiskConfig) error {
	if err := risk.Validate(); err != nil {
		return err
	}
	t.risk.Store(&risk)
	t.guard.SetLimits(risk)
	logger.Infof("[trader] risk updated: capital=%.2f risk=%.4f sl=%.4f tp=%.4f",
		risk.MaxTotalCapital, risk.RiskPerTrade, risk.StopLossPercent, risk.TakeProfitPercent)
	return nil
}

func (t *Trader) Risk() RiskConfig { return *t.risk.Load() }

func (t *Trader) Snapshot() Snapshot {
	s := *t.snapshot.Load()
	s.Running = t.running.Load()
	s.Dropped = t.dropped.Load()
	return s
}

func (t *Trader) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.mailbox:
			t.handle(ctx, msg)
		}
	}
}

func (t *Trader) handle(ctx context.Context, msg message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[trader] panic handling message: %v\n%s", r, debug.Stack())
			if msg.reply != nil {
				msg.reply <- fmt.Errorf("trader panic: %v", r)
			}
		}
		t.refreshSnapshot()
	}()
	switch msg.kind {
	case msgTick:
		t.onTick(ctx, msg.tick)
	case msgAssign:
		err := t.onAssign(msg.instrument)
		t.refreshSnapshot()
		reply := msg.reply
		msg.reply = nil
		reply <- err
	}
}

func (t *Trader) onAssign(instrument string) error {
	if instrument == t.instrument {
		return nil
	}
	if t.book.IsOpen() {
		return fmt.Errorf("%w on %s", ErrPositionOpen, t.book.Position().Instrument)
	}
	prev := t.instrument
	t.instrument = instrument
	t.history = t.history[:0]
	t.latest = 0
	t.lastSignal = strategy.Hold
	logger.Infof("[trader] instrument %s -> %s", displayOr(prev, "-"), instrument)
	return nil
}

func (t *Trader) onTick(ctx context.Context, tick Tick) {
	if t.instrument == "" || market.NormalizeInstrument(tick.Instrument) != t.instrument || !positive(tick.Price) {
		return
	}
	now := tick.Time
	if now.IsZero() {
		now = t.now()
	}
	price := tick.Price
	t.processed++
	t.latest = price
	t.pushHistory(price)
	sig := t.signal(t.history)
	t.lastSignal = sig

	if t.book.IsOpen() {
		t.manageOpen(ctx, price, sig, now)
		return
	}
	if t.cfg.EntryMode == EntrySignal && sig != strategy.Buy {
		return
	}
	t.enter(ctx, price, now)
}

func (t *Trader) enter(ctx context.Context, price float64, now time.Time) {
	risk := *t.risk.Load()
	qty := EntryQuantity(risk, price)
	potentialLoss := decToFloat(decFromFloat(qty).Mul(decFromFloat(price)).Mul(decFromFloat(risk.StopLossPercent)))
	if err := t.guard.Allow(potentialLoss, now); err != nil {
		t.lastErr = err.Error()
		if !t.guardBlocked {
			logger.Warnf("[trader] %s entry blocked: %v", t.instrument, err)
		}
		t.guardBlocked = true
		return
	}
	t.guardBlocked = false

	fill, err := t.exec.Buy(ctx, t.instrument, qty, price)
	if err != nil {
		t.lastErr = err.Error()
		logger.Errorf("[trader] BUY %s failed, staying flat: %v", t.instrument, err)
		return
	}
	fill.Simulated = t.exec.Simulated()
	pos, err := t.book.Open(t.instrument, price, fill, now, risk)
	if err != nil {
		t.lastErr = err.Error()
		logger.Errorf("[trader] open %s rejected: %v", t.instrument, err)
		return
	}
	t.lastErr = ""
	logger.Infof("[trader] BUY %s qty=%.8f entry=%.8f sl=%.8f tp=%.8f",
		pos.Instrument, pos.Quantity, pos.EntryPrice, pos.StopLossPrice, pos.TakeProfitPrice)
	t.emit(ctx, ActionBuy, pos, now)
}

func (t *Trader) manageOpen(ctx context.Context, price float64, sig strategy.Signal, now time.Time) {
	t.book.Update(price)
	reason, hit := t.book.ExitReason(price)
	if !hit && t.cfg.SignalExit && sig == strategy.Sell {
		reason, hit = ReasonSignal, true
	}
	if !hit {
		return
	}
	pos := t.book.Position()
	fill, err := t.exec.Sell(ctx, pos.Instrument, pos.Quantity, price)
	if err != nil {
		t.lastErr = err.Error()
		logger.Errorf("[trader] SELL %s failed, position stays open: %v", pos.Instrument, err)
		return
	}
	fill.Simulated = t.exec.Simulated()
	closed, err := t.book.Close(fill, now, reason)
	if err != nil {
		t.lastErr = err.Error()
		logger.Errorf("[trader] close %s rejected: %v", pos.Instrument, err)
		return
	}
	t.lastErr = ""
	t.guard.Record(closed.NetProfit, now)
	logger.Infof("[trader] SELL %s qty=%.8f exit=%.8f gross=%.8f net=%.8f reason=%s",
		closed.Instrument, closed.Quantity, closed.ExitPrice, closed.GrossProfit, closed.NetProfit, closed.CloseReason)
	t.emit(ctx, ActionSell, closed, now)
}

func (t *Trader) emit(ctx context.Context, action string, pos Position, at time.Time) {
	if t.sink == nil {
		return
	}
	t.sink.Record(context.WithoutCancel(ctx), TradeEvent{
		Action:   action,
		Time:     at,
		Position: pos,
		Metrics:  t.book.Metrics(),
	})
}

func (t *Trader) pushHistory(price float64) {
	if len(t.history) == t.cfg.Window {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, price)
}

// drain answers commands queued while the loop was shutting down.
func (t *Trader) drain() {
	for {
		select {
		case msg := <-t.mailbox:
			if msg.reply != nil {
				msg.reply <- ErrStopped
			}
		default:
			return
		}
	}
}

func (t *Trader) refreshSnapshot() {
	pos := t.book.Position()
	s := &Snapshot{
		Running:     t.running.Load(),
		Instrument:  t.instrument,
		Position:    pos,
		LatestPrice: t.latest,
		Unrealized:  pos.Unrealized(t.latest),
		Metrics:     t.book.Metrics(),
		Guard:       t.guard.Stats(),
		EntryMode:   t.cfg.EntryMode,
		LastSignal:  t.lastSignal.String(),
		LastError:   t.lastErr,
		Processed:   t.processed,
		UpdatedAt:   t.now(),
	}
	t.snapshot.Store(s)
}

func displayOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
