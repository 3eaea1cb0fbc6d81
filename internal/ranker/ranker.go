package ranker

import (
	"context"
	"fmt"
	"math"
	"sort"

	"brisk/internal/logger"
	"brisk/internal/market"
)

// Performance is the momentum score of one instrument for one ranking cycle.
type Performance struct {
	Instrument       string  `json:"instrument"`
	CumulativeReturn float64 `json:"cumulative_return"`
}

type Config struct {
	LookbackBars int
	MaxResults   int
	// MinReturn filters out instruments whose return does not exceed it.
	MinReturn float64
}

type Ranker struct {
	store market.BarStore
	cfg   Config
}

func New(store market.BarStore, cfg Config) *Ranker {
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 60
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Ranker{store: store, cfg: cfg}
}

func (r *Ranker) Config() Config { return r.cfg }

// Rank runs TopPerformers with the configured window.
func (r *Ranker) Rank(ctx context.Context) ([]Performance, error) {
	return r.TopPerformers(ctx, r.cfg.LookbackBars, r.cfg.MaxResults)
}

// TopPerformers scores every known instrument over its last lookback closes
// and returns at most maxResults of them, best first. Instruments whose
// history cannot be read are skipped.
func (r *Ranker) TopPerformers(ctx context.Context, lookback, maxResults int) ([]Performance, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("ranker: store is nil")
	}
	if lookback < 2 || maxResults <= 0 {
		return nil, nil
	}
	instruments, err := r.store.KnownInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranker: list instruments: %w", err)
	}
	out := make([]Performance, 0, len(instruments))
	for _, instrument := range instruments {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		closes, err := r.store.RecentCloses(ctx, instrument, lookback)
		if err != nil {
			logger.Warnf("[ranker] skip %s: %v", instrument, err)
			continue
		}
		if len(closes) < 2 {
			continue
		}
		ret := round8(CumulativeReturn(closes))
		if ret <= r.cfg.MinReturn {
			continue
		}
		out = append(out, Performance{Instrument: instrument, CumulativeReturn: ret})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CumulativeReturn > out[j].CumulativeReturn
	})
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// CumulativeReturn compounds the bar-to-bar changes of closes and subtracts
// one. Steps whose previous close is zero or not finite are skipped.
func CumulativeReturn(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	growth := 1.0
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev == 0 || !finite(prev) || !finite(cur) {
			continue
		}
		growth *= 1 + (cur-prev)/prev
	}
	return growth - 1
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
