package journal

import (
	"context"
	"encoding/json"

	"brisk/internal/store/gormstore"
)

// GormJournal stores events in the trade_events table.
type GormJournal struct {
	store *gormstore.GormStore
}

func OpenGorm(path string) (*GormJournal, error) {
	store, err := gormstore.NewGormStore(path)
	if err != nil {
		return nil, err
	}
	return &GormJournal{store: store}, nil
}

func (g *GormJournal) Name() string { return "sqlite" }

func (g *GormJournal) Write(ctx context.Context, ev Event) error {
	pos, err := json.Marshal(ev.Position)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(ev.Metrics)
	if err != nil {
		return err
	}
	return g.store.InsertTradeEvent(ctx, gormstore.TradeEventRecord{
		ID:          ev.ID,
		Action:      ev.Action,
		Instrument:  ev.Instrument,
		Simulated:   ev.Position.Simulated,
		Quantity:    ev.Position.Quantity,
		EntryPrice:  ev.Position.EntryPrice,
		ExitPrice:   ev.Position.ExitPrice,
		NetProfit:   ev.Position.NetProfit,
		CloseReason: string(ev.Position.CloseReason),
		Time:        ev.Time,
		Position:    pos,
		Metrics:     metrics,
	})
}

// Recent returns the newest events first, optionally for one instrument.
func (g *GormJournal) Recent(ctx context.Context, instrument string, limit int) ([]gormstore.TradeEventRecord, error) {
	return g.store.RecentTradeEvents(ctx, instrument, limit)
}

func (g *GormJournal) Close() error { return g.store.Close() }
