// Package exchange defines the spot exchange abstraction used by the trader
// and the orchestrator.
package exchange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidQuantity = errors.New("order quantity must be positive")

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest describes a market order.
type OrderRequest struct {
	Instrument string
	Side       Side
	Quantity   float64
	// ClientOrderID is optional; exchanges that support it dedupe retries on it.
	ClientOrderID string
}

func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Instrument) == "" {
		return fmt.Errorf("order: instrument is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order: unsupported side %q", r.Side)
	}
	if !(r.Quantity > 0) {
		return ErrInvalidQuantity
	}
	return nil
}

// OrderReceipt is what the exchange reports back for an accepted order.
type OrderReceipt struct {
	OrderID       string    // Exchange order id
	ClientOrderID string    // Echoed client id
	Instrument    string    // e.g. "BTCUSDC"
	Side          Side      // BUY or SELL
	Status        string    // Exchange status, e.g. "FILLED"
	ExecutedQty   float64   // Filled base quantity
	QuoteQty      float64   // Filled quote amount
	AvgPrice      float64   // QuoteQty / ExecutedQty when both are known
	TransactedAt  time.Time // Exchange transaction time
}
