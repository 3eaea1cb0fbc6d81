package engine

import (
	"sync/atomic"

	"brisk/internal/market"
	"brisk/internal/trader"
)

// TickSink accepts price ticks without blocking.
type TickSink interface {
	Send(tick trader.Tick) bool
}

// TickFeed forwards collector updates of the traded instrument to the
// trader. It is wired as the collector's OnBar hook.
type TickFeed struct {
	sink   TickSink
	target atomic.Pointer[string]

	forwarded atomic.Int64
	rejected  atomic.Int64
}

func NewTickFeed(sink TickSink) *TickFeed {
	f := &TickFeed{sink: sink}
	empty := ""
	f.target.Store(&empty)
	return f
}

func (f *TickFeed) SetTarget(instrument string) {
	inst := market.NormalizeInstrument(instrument)
	f.target.Store(&inst)
}

func (f *TickFeed) Target() string { return *f.target.Load() }

func (f *TickFeed) OnBar(ev market.BarEvent) {
	target := *f.target.Load()
	if target == "" || ev.Bar.Instrument != target || !(ev.Bar.Close > 0) {
		return
	}
	if f.sink.Send(trader.Tick{Instrument: target, Price: ev.Bar.Close}) {
		f.forwarded.Add(1)
	} else {
		f.rejected.Add(1)
	}
}

func (f *TickFeed) Forwarded() int64 { return f.forwarded.Load() }
