package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brisk/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Recv() ([]byte, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-s.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	streams  []*fakeStream
	connects atomic.Int32
	err      error
}

func (s *fakeSource) Connect(ctx context.Context, instruments []string) (market.Stream, error) {
	s.connects.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	st := s.streams[0]
	s.streams = s.streams[1:]
	return st, nil
}

type memStore struct {
	mu   sync.Mutex
	bars map[string]map[int64]market.Bar
	fail bool
}

func newMemStore() *memStore { return &memStore{bars: make(map[string]map[int64]market.Bar)} }

func (m *memStore) Append(ctx context.Context, instrument string, bars []market.Bar) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("disk full")
	}
	if m.bars[instrument] == nil {
		m.bars[instrument] = make(map[int64]market.Bar)
	}
	n := 0
	for _, b := range bars {
		if _, ok := m.bars[instrument][b.Timestamp]; ok {
			continue
		}
		m.bars[instrument][b.Timestamp] = b
		n++
	}
	return n, nil
}

func (m *memStore) RecentCloses(ctx context.Context, instrument string, limit int) ([]float64, error) {
	return nil, nil
}

func (m *memStore) KnownInstruments(ctx context.Context) ([]string, error) { return nil, nil }

func (m *memStore) count(instrument string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bars[instrument])
}

type testFrame struct {
	Symbol string  `json:"s"`
	Time   int64   `json:"t"`
	Close  float64 `json:"c"`
	Final  bool    `json:"x"`
	Ack    bool    `json:"ack,omitempty"`
}

func testDecoder(payload []byte) (market.BarEvent, error) {
	var f testFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return market.BarEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Ack {
		return market.BarEvent{}, market.ErrIgnored
	}
	return market.BarEvent{
		Bar:    market.Bar{Instrument: f.Symbol, Timestamp: f.Time, Open: f.Close, High: f.Close, Low: f.Close, Close: f.Close, Volume: 1},
		Closed: f.Final,
	}, nil
}

func frameOf(sym string, ts int64, price float64, final bool) []byte {
	raw, _ := json.Marshal(testFrame{Symbol: sym, Time: ts, Close: price, Final: final})
	return raw
}

func newTestCollector(t *testing.T, src market.Source, store market.BarStore, cfg Config, onBar func(market.BarEvent)) *Collector {
	t.Helper()
	c, err := New(Options{Config: cfg, Source: src, Decoder: testDecoder, Store: store, OnBar: onBar})
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestCollectorSkipsMalformedFrame(t *testing.T) {
	stream := newFakeStream()
	src := &fakeSource{streams: []*fakeStream{stream}}
	store := newMemStore()
	c := newTestCollector(t, src, store, Config{BatchSize: 1, FlushInterval: time.Hour, ReconnectDelay: time.Hour}, nil)

	require.NoError(t, c.Start([]string{"BTCUSDC"}))
	stream.frames <- frameOf("BTCUSDC", 1000, 10, true)
	stream.frames <- []byte(`{"s":"BTCUSDC","t":`)
	stream.frames <- frameOf("BTCUSDC", 2000, 11, true)

	assert.Eventually(t, func() bool { return c.Stats().StoredBars == 2 }, 2*time.Second, 10*time.Millisecond)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.ParseErrors)
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(2), stats.StoredBars)
	assert.Equal(t, StateStreaming, c.State())
}

func TestCollectorIgnoresAckFrames(t *testing.T) {
	stream := newFakeStream()
	src := &fakeSource{streams: []*fakeStream{stream}}
	c := newTestCollector(t, src, newMemStore(), Config{ReconnectDelay: time.Hour}, nil)

	require.NoError(t, c.Start([]string{"BTCUSDC"}))
	stream.frames <- []byte(`{"ack":true}`)

	assert.Eventually(t, func() bool { return c.Stats().Ignored == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.Stats().ParseErrors)
}

func TestCollectorClosedOnlyStillPublishesUpdates(t *testing.T) {
	stream := newFakeStream()
	src := &fakeSource{streams: []*fakeStream{stream}}
	store := newMemStore()
	var published atomic.Int32
	c := newTestCollector(t, src, store, Config{ClosedOnly: true, BatchSize: 1, FlushInterval: time.Hour, ReconnectDelay: time.Hour},
		func(market.BarEvent) { published.Add(1) })

	require.NoError(t, c.Start([]string{"ETHUSDC"}))
	stream.frames <- frameOf("ETHUSDC", 1000, 10, false)
	stream.frames <- frameOf("ETHUSDC", 1000, 10.5, true)

	assert.Eventually(t, func() bool { return published.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return store.count("ETHUSDC") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	stream := newFakeStream()
	src := &fakeSource{streams: []*fakeStream{stream}}
	store := newMemStore()
	c := newTestCollector(t, src, store, Config{BatchSize: 1000, FlushInterval: 20 * time.Millisecond, ReconnectDelay: time.Hour}, nil)

	require.NoError(t, c.Start([]string{"SOLUSDC"}))
	stream.frames <- frameOf("SOLUSDC", 1000, 1, true)
	stream.frames <- frameOf("SOLUSDC", 2000, 2, true)

	assert.Eventually(t, func() bool { return store.count("SOLUSDC") == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestCollectorReconnectsAfterStreamLoss(t *testing.T) {
	first, second := newFakeStream(), newFakeStream()
	src := &fakeSource{streams: []*fakeStream{first, second}}
	store := newMemStore()
	c := newTestCollector(t, src, store, Config{BatchSize: 1000, FlushInterval: time.Hour, ReconnectDelay: 10 * time.Millisecond}, nil)

	require.NoError(t, c.Start([]string{"BTCUSDC"}))
	first.frames <- frameOf("BTCUSDC", 1000, 10, true)
	close(first.frames)

	// pending bars are flushed when the connection drops
	assert.Eventually(t, func() bool { return store.count("BTCUSDC") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return src.connects.Load() == 2 && c.State() == StateStreaming }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().Reconnects)
	assert.NotEmpty(t, c.Stats().LastError)
}

func TestCollectorAppendFailureIsNotFatal(t *testing.T) {
	stream := newFakeStream()
	src := &fakeSource{streams: []*fakeStream{stream}}
	store := newMemStore()
	store.fail = true
	c := newTestCollector(t, src, store, Config{BatchSize: 1, FlushInterval: time.Hour, ReconnectDelay: time.Hour}, nil)

	require.NoError(t, c.Start([]string{"BTCUSDC"}))
	stream.frames <- frameOf("BTCUSDC", 1000, 10, true)
	assert.Eventually(t, func() bool { return c.Stats().AppendFailures == 1 }, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	stream.frames <- frameOf("BTCUSDC", 2000, 11, true)
	assert.Eventually(t, func() bool { return store.count("BTCUSDC") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestCollectorStartStopLifecycle(t *testing.T) {
	src := &fakeSource{streams: []*fakeStream{newFakeStream(), newFakeStream()}}
	c := newTestCollector(t, src, newMemStore(), Config{ReconnectDelay: time.Hour}, nil)

	assert.ErrorIs(t, c.Start(nil), ErrNoInstruments)
	require.NoError(t, c.Start([]string{"btc/usdc", "BTCUSDC"}))
	assert.ErrorIs(t, c.Start([]string{"BTCUSDC"}), ErrRunning)
	assert.Equal(t, []string{"BTCUSDC"}, c.Instruments())
	assert.Eventually(t, func() bool { return c.State() == StateStreaming }, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	assert.Equal(t, StateStopped, c.State())
	assert.False(t, c.Running())
	c.Stop()

	require.NoError(t, c.Restart(nil))
	assert.Eventually(t, func() bool { return c.State() == StateStreaming }, 2*time.Second, 10*time.Millisecond)
	c.Stop()
}

func TestCollectorStopInterruptsBackoff(t *testing.T) {
	src := &fakeSource{err: errors.New("handshake failed")}
	c := newTestCollector(t, src, newMemStore(), Config{ReconnectDelay: time.Hour}, nil)

	require.NoError(t, c.Start([]string{"BTCUSDC"}))
	assert.Eventually(t, func() bool { return c.State() == StateReconnecting }, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	c.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "handshake failed", c.Stats().LastError)
}

func TestBatchKeepsLatestUpdatePerTimestamp(t *testing.T) {
	b := newBatch()
	b.add(market.Bar{Instrument: "X", Timestamp: 1, Close: 1})
	b.add(market.Bar{Instrument: "X", Timestamp: 1, Close: 2})
	b.add(market.Bar{Instrument: "X", Timestamp: 2, Close: 3})
	assert.Equal(t, 2, b.size)
	assert.Equal(t, 2.0, b.bars["X"][0].Close)
	b.reset()
	assert.Zero(t, b.size)
}
