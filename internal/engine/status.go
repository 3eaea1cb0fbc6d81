package engine

import (
	"context"
	"time"

	"brisk/internal/collector"
	"brisk/internal/logger"
	"brisk/internal/trader"
)

// Status is a point-in-time copy of the engine state for observers.
type Status struct {
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`

	Running         bool `json:"running"`
	CollectorActive bool `json:"collector_active"`
	RankerActive    bool `json:"ranker_active"`
	TraderActive    bool `json:"trader_active"`

	Collector collector.Stats `json:"collector"`

	CurrentInstrument string  `json:"current_instrument"`
	TopPerformer      string  `json:"top_performer"`
	TopReturn         float64 `json:"top_return"`
	NextRankingIn     float64 `json:"next_ranking_in_seconds"`
	Promotions        int64   `json:"promotions"`

	QuoteAsset      string    `json:"quote_asset"`
	Balance         float64   `json:"balance"`
	BalanceAt       time.Time `json:"balance_at"`
	InstrumentCount int       `json:"instrument_count"`
	StoreSizeBytes  int64     `json:"store_size_bytes"`

	Metrics       trader.Metrics  `json:"metrics"`
	Position      trader.Position `json:"position"`
	LatestPrice   float64         `json:"latest_price"`
	UnrealizedPnL float64         `json:"unrealized_pnl"`
	DroppedTicks  int64           `json:"dropped_ticks"`
	LastSignal    string          `json:"last_signal"`
}

// Status returns the last published status.
func (e *Engine) Status() Status { return *e.snapshot.Load() }

func (e *Engine) runStatus(ctx context.Context) {
	e.refreshBalance(ctx)
	e.publishStatus()
	ticker := time.NewTicker(e.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if b := e.balance.Load(); b == nil || e.now().Sub(b.at) >= e.cfg.BalanceInterval {
			e.refreshBalance(ctx)
		}
		e.publishStatus()
	}
}

// refreshBalance keeps the previous value when the exchange call fails.
func (e *Engine) refreshBalance(ctx context.Context) {
	if e.exchange == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	v, err := e.exchange.Balance(cctx, e.cfg.QuoteAsset)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("[engine] balance %s: %v", e.cfg.QuoteAsset, err)
		}
		prev := e.balance.Load()
		if prev == nil {
			e.balance.Store(&balanceReading{at: e.now()})
		} else {
			e.balance.Store(&balanceReading{value: prev.value, at: e.now()})
		}
		return
	}
	e.balance.Store(&balanceReading{value: v, at: e.now()})
}

func (e *Engine) publishStatus() {
	e.snapshot.Store(e.buildStatus())
}

func (e *Engine) buildStatus() *Status {
	now := e.now()
	running := e.running.Load()
	snap := e.trader.Snapshot()
	st := &Status{
		Running:           running,
		CollectorActive:   e.collector.Running(),
		RankerActive:      running,
		TraderActive:      e.trader.Running(),
		Collector:         e.collector.Stats(),
		CurrentInstrument: e.CurrentInstrument(),
		Promotions:        e.promotions.Load(),
		QuoteAsset:        e.cfg.QuoteAsset,
		InstrumentCount:   len(*e.universe.Load()),
		Metrics:           snap.Metrics,
		Position:          snap.Position,
		LatestPrice:       snap.LatestPrice,
		UnrealizedPnL:     snap.Unrealized,
		DroppedTicks:      snap.Dropped,
		LastSignal:        snap.LastSignal,
	}
	if running {
		st.StartedAt = e.startedAt
		st.UptimeSeconds = now.Sub(e.startedAt).Seconds()
		next := now.Truncate(e.cfg.RankInterval).Add(e.cfg.RankInterval)
		st.NextRankingIn = next.Sub(now).Seconds()
	}
	if r := e.lastRank.Load(); len(r.Results) > 0 {
		st.TopPerformer = r.Results[0].Instrument
		st.TopReturn = r.Results[0].CumulativeReturn
	}
	if b := e.balance.Load(); b != nil {
		st.Balance = b.value
		st.BalanceAt = b.at
	}
	if e.store != nil {
		st.StoreSizeBytes = e.store.SizeBytes()
	}
	return st
}
