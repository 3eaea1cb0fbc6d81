package market

import (
	"context"
)

// BarStore is the append-only time-series contract shared by ingestion and ranking.
type BarStore interface {
	// Append inserts bars for one instrument in a single transaction.
	// Existing (instrument, timestamp) rows are left untouched.
	Append(ctx context.Context, instrument string, bars []Bar) (int, error)
	// RecentCloses returns up to limit of the most recent closes, oldest first.
	RecentCloses(ctx context.Context, instrument string, limit int) ([]float64, error)
	KnownInstruments(ctx context.Context) ([]string, error)
}
