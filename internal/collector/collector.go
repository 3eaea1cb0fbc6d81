package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"brisk/internal/logger"
	"brisk/internal/market"
)

var (
	ErrRunning       = errors.New("collector already running")
	ErrNoInstruments = errors.New("collector: no instruments to stream")
)

type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "stopped"
	}
}

type Config struct {
	ReconnectDelay time.Duration
	BatchSize      int
	FlushInterval  time.Duration
	// ClosedOnly persists final bars only; in-progress updates still reach OnBar.
	ClosedOnly bool
}

func (c Config) withDefaults() Config {
	out := c
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 200
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = time.Second
	}
	return out
}

type Stats struct {
	State          string    `json:"state"`
	Instruments    int       `json:"instruments"`
	Connects       int64     `json:"connects"`
	Reconnects     int64     `json:"reconnects"`
	Received       int64     `json:"received"`
	Ignored        int64     `json:"ignored"`
	ParseErrors    int64     `json:"parse_errors"`
	StoredBars     int64     `json:"stored_bars"`
	AppendFailures int64     `json:"append_failures"`
	LastBarAt      time.Time `json:"last_bar_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

type Options struct {
	Config  Config
	Source  market.Source
	Decoder market.Decoder
	Store   market.BarStore
	// OnBar receives every decoded update, closed or not, from the worker goroutine.
	OnBar func(market.BarEvent)
}

// Collector keeps one streaming connection open for a set of instruments and
// appends what it receives to the bar store. It reconnects with a fixed delay
// for as long as it is running.
type Collector struct {
	cfg     Config
	source  market.Source
	decode  market.Decoder
	store   market.BarStore
	onBar   func(market.BarEvent)
	flushTO time.Duration

	// mu serializes Start, Stop and Restart and is held while the worker is joined.
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	instruments []string

	state atomic.Int32

	statsMu sync.Mutex
	stats   Stats
}

func New(opts Options) (*Collector, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("collector: source is required")
	}
	if opts.Decoder == nil {
		return nil, fmt.Errorf("collector: decoder is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("collector: store is required")
	}
	return &Collector{
		cfg:     opts.Config.withDefaults(),
		source:  opts.Source,
		decode:  opts.Decoder,
		store:   opts.Store,
		onBar:   opts.OnBar,
		flushTO: 5 * time.Second,
	}, nil
}

// Start launches the stream worker. It returns ErrRunning when a worker is
// already active.
func (c *Collector) Start(instruments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(instruments)
}

// Stop cancels the worker and waits for it to exit. Calling Stop on a
// stopped collector returns immediately.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Restart stops the worker and starts a new one under a single lock, so a
// concurrent Stop sees either the old worker or the new one. A nil list
// reuses the instruments of the previous run.
func (c *Collector) Restart(instruments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if instruments == nil {
		instruments = append([]string(nil), c.instruments...)
	}
	c.stopLocked()
	return c.startLocked(instruments)
}

func (c *Collector) startLocked(instruments []string) error {
	list := normalizeInstruments(instruments)
	if len(list) == 0 {
		return ErrNoInstruments
	}
	if c.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.instruments = list
	c.state.Store(int32(StateConnecting))
	c.statsMu.Lock()
	c.stats.Instruments = len(list)
	c.statsMu.Unlock()
	go c.run(ctx, list, done)
	logger.Infof("[collector] started for %d instruments", len(list))
	return nil
}

func (c *Collector) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	logger.Infof("[collector] stopped")
}

func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Collector) State() State { return State(c.state.Load()) }

func (c *Collector) Instruments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.instruments...)
}

func (c *Collector) Stats() Stats {
	c.statsMu.Lock()
	out := c.stats
	c.statsMu.Unlock()
	out.State = c.State().String()
	return out
}

func (c *Collector) run(ctx context.Context, instruments []string, done chan struct{}) {
	defer close(done)
	defer c.state.Store(int32(StateStopped))
	buf := newBatch()
	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Store(int32(StateConnecting))
		stream, err := c.source.Connect(ctx, instruments)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.recordError(err)
			logger.Warnf("[collector] connect failed: %v, retry in %s", err, c.cfg.ReconnectDelay)
		} else {
			c.state.Store(int32(StateStreaming))
			c.statsMu.Lock()
			c.stats.Connects++
			c.statsMu.Unlock()
			err = c.consume(ctx, stream, buf)
			c.flush(buf)
			if ctx.Err() != nil {
				return
			}
			c.recordError(err)
			logger.Warnf("[collector] stream lost: %v, reconnect in %s", err, c.cfg.ReconnectDelay)
		}
		c.state.Store(int32(StateReconnecting))
		if !sleepWithContext(ctx, c.cfg.ReconnectDelay) {
			return
		}
		c.statsMu.Lock()
		c.stats.Reconnects++
		c.statsMu.Unlock()
	}
}

type frame struct {
	payload []byte
	err     error
}

// consume reads frames until the stream fails or ctx is cancelled. The
// stream is closed and its reader joined before returning.
func (c *Collector) consume(ctx context.Context, stream market.Stream, buf *batch) error {
	frames := make(chan frame, 64)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			payload, err := stream.Recv()
			select {
			case frames <- frame{payload: payload, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = stream.Close()
		<-readerDone
	}()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.flush(buf)
		case f := <-frames:
			if f.err != nil {
				if errors.Is(f.err, io.EOF) {
					return fmt.Errorf("stream closed by peer")
				}
				return f.err
			}
			c.handleFrame(f.payload, buf)
			if buf.size >= c.cfg.BatchSize {
				c.flush(buf)
			}
		}
	}
}

func (c *Collector) handleFrame(payload []byte, buf *batch) {
	ev, err := c.decode(payload)
	if errors.Is(err, market.ErrIgnored) {
		c.statsMu.Lock()
		c.stats.Ignored++
		c.statsMu.Unlock()
		return
	}
	if err == nil {
		ev.Bar.Instrument = market.NormalizeInstrument(ev.Bar.Instrument)
		err = ev.Bar.Validate()
	}
	if err != nil {
		c.statsMu.Lock()
		c.stats.ParseErrors++
		c.stats.LastError = err.Error()
		c.statsMu.Unlock()
		logger.Warnf("[collector] skip malformed frame: %v", err)
		return
	}
	c.statsMu.Lock()
	c.stats.Received++
	c.stats.LastBarAt = time.Now()
	c.statsMu.Unlock()

	c.publish(ev)
	if c.cfg.ClosedOnly && !ev.Closed {
		return
	}
	buf.add(ev.Bar)
}

func (c *Collector) publish(ev market.BarEvent) {
	if c.onBar == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[collector] bar callback panic: %v", r)
		}
	}()
	c.onBar(ev)
}

// flush writes buffered bars per instrument. A failed batch is dropped and
// the next batch proceeds normally.
func (c *Collector) flush(buf *batch) {
	if buf.size == 0 {
		return
	}
	for instrument, bars := range buf.bars {
		ctx, cancel := context.WithTimeout(context.Background(), c.flushTO)
		n, err := c.store.Append(ctx, instrument, bars)
		cancel()
		c.statsMu.Lock()
		if err != nil {
			c.stats.AppendFailures++
			c.stats.LastError = err.Error()
		} else {
			c.stats.StoredBars += int64(n)
		}
		c.statsMu.Unlock()
		if err != nil {
			logger.Warnf("[collector] append %d bars for %s failed: %v", len(bars), instrument, err)
		}
	}
	buf.reset()
}

func (c *Collector) recordError(err error) {
	if err == nil {
		return
	}
	c.statsMu.Lock()
	c.stats.LastError = err.Error()
	c.statsMu.Unlock()
}

// batch holds pending bars per instrument, keeping the latest update for a
// repeated timestamp.
type batch struct {
	bars  map[string][]market.Bar
	index map[string]map[int64]int
	size  int
}

func newBatch() *batch {
	b := &batch{}
	b.reset()
	return b
}

func (b *batch) add(bar market.Bar) {
	idx, ok := b.index[bar.Instrument]
	if !ok {
		idx = make(map[int64]int)
		b.index[bar.Instrument] = idx
	}
	if pos, seen := idx[bar.Timestamp]; seen {
		b.bars[bar.Instrument][pos] = bar
		return
	}
	idx[bar.Timestamp] = len(b.bars[bar.Instrument])
	b.bars[bar.Instrument] = append(b.bars[bar.Instrument], bar)
	b.size++
}

func (b *batch) reset() {
	b.bars = make(map[string][]market.Bar)
	b.index = make(map[string]map[int64]int)
	b.size = 0
}

func normalizeInstruments(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, raw := range list {
		sym := market.NormalizeInstrument(raw)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
