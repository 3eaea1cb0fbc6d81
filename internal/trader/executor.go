package trader

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"brisk/internal/gateway/exchange"
	"brisk/internal/logger"
	"brisk/internal/pkg/circuit"
)

// Executor turns entry and exit decisions into fills.
type Executor interface {
	Buy(ctx context.Context, instrument string, quantity, price float64) (Fill, error)
	Sell(ctx context.Context, instrument string, quantity, price float64) (Fill, error)
	Simulated() bool
}

// PaperExecutor fills every order at the quoted price.
type PaperExecutor struct {
	seq atomic.Int64
}

func NewPaperExecutor() *PaperExecutor { return &PaperExecutor{} }

func (p *PaperExecutor) Simulated() bool { return true }

func (p *PaperExecutor) Buy(ctx context.Context, instrument string, quantity, price float64) (Fill, error) {
	return p.fill(quantity, price)
}

func (p *PaperExecutor) Sell(ctx context.Context, instrument string, quantity, price float64) (Fill, error) {
	return p.fill(quantity, price)
}

func (p *PaperExecutor) fill(quantity, price float64) (Fill, error) {
	if !positive(quantity) {
		return Fill{}, exchange.ErrInvalidQuantity
	}
	if !positive(price) {
		return Fill{}, ErrInvalidPrice
	}
	return Fill{
		Price:     price,
		Quantity:  quantity,
		OrderID:   fmt.Sprintf("paper-%d", p.seq.Add(1)),
		Simulated: true,
	}, nil
}

type LiveConfig struct {
	Retries    int
	RetryDelay time.Duration
	// QuoteAsset lets Sell derive the base asset and cap the order at its
	// free balance. Empty disables the cap.
	QuoteAsset string
}

// LiveExecutor places market orders on the exchange. Each order is tried up
// to Retries times, and all attempts go through the breaker.
type LiveExecutor struct {
	client  exchange.Client
	breaker *circuit.Breaker
	cfg     LiveConfig
}

func NewLiveExecutor(client exchange.Client, breaker *circuit.Breaker, cfg LiveConfig) *LiveExecutor {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if breaker == nil {
		breaker = circuit.New("orders", 5, 30*time.Second)
	}
	return &LiveExecutor{client: client, breaker: breaker, cfg: cfg}
}

func (l *LiveExecutor) Simulated() bool { return false }

func (l *LiveExecutor) Buy(ctx context.Context, instrument string, quantity, price float64) (Fill, error) {
	return l.place(ctx, exchange.OrderRequest{Instrument: instrument, Side: exchange.SideBuy, Quantity: quantity}, price)
}

// Sell never asks for more than the free base balance: a buy commission
// charged in the base asset leaves slightly less than the entry quantity.
func (l *LiveExecutor) Sell(ctx context.Context, instrument string, quantity, price float64) (Fill, error) {
	quantity = l.sellable(ctx, instrument, quantity)
	return l.place(ctx, exchange.OrderRequest{Instrument: instrument, Side: exchange.SideSell, Quantity: quantity}, price)
}

func (l *LiveExecutor) sellable(ctx context.Context, instrument string, quantity float64) float64 {
	if !positive(quantity) || l.cfg.QuoteAsset == "" {
		return quantity
	}
	base, ok := strings.CutSuffix(strings.ToUpper(instrument), strings.ToUpper(l.cfg.QuoteAsset))
	if !ok || base == "" {
		return quantity
	}
	free, err := l.client.Balance(ctx, base)
	if err != nil {
		logger.Warnf("[trader] %s balance unavailable, selling %.8f as booked: %v", base, quantity, err)
		return quantity
	}
	if positive(free) && free < quantity {
		logger.Infof("[trader] %s sell capped at free balance %.8f (booked %.8f)", instrument, free, quantity)
		return free
	}
	return quantity
}

func (l *LiveExecutor) place(ctx context.Context, req exchange.OrderRequest, price float64) (Fill, error) {
	if err := req.Validate(); err != nil {
		return Fill{}, err
	}
	var lastErr error
	for attempt := 1; attempt <= l.cfg.Retries; attempt++ {
		var receipt exchange.OrderReceipt
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			receipt, err = l.client.PlaceMarketOrder(ctx, req)
			return err
		})
		if err == nil {
			return fillFromReceipt(receipt, req.Quantity, price), nil
		}
		lastErr = err
		logger.Warnf("[trader] %s %s order attempt %d/%d failed: %v", req.Side, req.Instrument, attempt, l.cfg.Retries, err)
		if attempt == l.cfg.Retries {
			break
		}
		timer := time.NewTimer(l.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Fill{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Fill{}, fmt.Errorf("%s %s: %w", req.Side, req.Instrument, lastErr)
}

func fillFromReceipt(r exchange.OrderReceipt, quantity, price float64) Fill {
	f := Fill{Price: price, Quantity: quantity, OrderID: r.OrderID}
	if positive(r.ExecutedQty) {
		f.Quantity = r.ExecutedQty
	}
	if positive(r.AvgPrice) {
		f.Price = r.AvgPrice
	}
	return f
}
