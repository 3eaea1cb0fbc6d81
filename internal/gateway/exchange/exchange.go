package exchange

import "context"

// Client is the spot exchange surface the engine trades through.
type Client interface {
	Name() string

	CurrentPrice(ctx context.Context, instrument string) (float64, error)

	// Balance returns the free amount of asset.
	Balance(ctx context.Context, asset string) (float64, error)

	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error)

	// Instruments lists tradable instruments quoted in quote.
	Instruments(ctx context.Context, quote string) ([]string, error)
}
