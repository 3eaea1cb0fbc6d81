package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"brisk/internal/gateway/exchange"
	"brisk/internal/logger"
	"brisk/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// Client implements exchange.Client on the Binance spot REST API. Each call
// is a single attempt; retries belong to the caller.
type Client struct {
	cfg Config
	api *binance.Client

	mu    sync.Mutex
	steps map[string]string
}

var _ exchange.Client = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	api := binance.NewClient(final.APIKey, final.APISecret)
	api.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	api.HTTPClient = httpClient
	return &Client{cfg: final, api: api, steps: make(map[string]string)}, nil
}

func (c *Client) Name() string { return "binance" }

func (c *Client) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	sym := market.NormalizeInstrument(instrument)
	if sym == "" {
		return 0, fmt.Errorf("instrument is required")
	}
	prices, err := c.api.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", sym, err)
	}
	for _, p := range prices {
		if p == nil || p.Symbol != sym {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("price %s: %w", sym, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("price %s: not returned", sym)
}

func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	for _, b := range acct.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderReceipt, error) {
	if err := req.Validate(); err != nil {
		return exchange.OrderReceipt{}, err
	}
	sym := market.NormalizeInstrument(req.Instrument)
	step, err := c.lotStep(ctx, sym)
	if err != nil {
		return exchange.OrderReceipt{}, err
	}
	qty, rounded := RoundToStep(req.Quantity, step)
	if !rounded.IsPositive() {
		return exchange.OrderReceipt{}, fmt.Errorf("%s quantity %v below lot step %s: %w", sym, req.Quantity, step, exchange.ErrInvalidQuantity)
	}
	svc := c.api.NewCreateOrderService().
		Symbol(sym).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		NewOrderRespType(binance.NewOrderRespTypeRESULT)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderReceipt{}, fmt.Errorf("%s %s %s: %w", req.Side, qty, sym, err)
	}
	receipt := exchange.OrderReceipt{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Instrument:    res.Symbol,
		Side:          req.Side,
		Status:        string(res.Status),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		QuoteQty:      parseFloat(res.CummulativeQuoteQuantity),
		TransactedAt:  time.UnixMilli(res.TransactTime).UTC(),
	}
	if receipt.ExecutedQty > 0 && receipt.QuoteQty > 0 {
		receipt.AvgPrice, _ = decimal.NewFromFloat(receipt.QuoteQty).
			Div(decimal.NewFromFloat(receipt.ExecutedQty)).Float64()
	}
	logger.Infof("[binance] %s %s qty=%s status=%s executed=%v avg=%v",
		req.Side, sym, qty, receipt.Status, receipt.ExecutedQty, receipt.AvgPrice)
	return receipt, nil
}

func (c *Client) Instruments(ctx context.Context, quote string) ([]string, error) {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	out := make([]string, 0, len(info.Symbols))
	c.mu.Lock()
	for _, s := range info.Symbols {
		if step := lotStepFromFilters(s.Filters); step != "" {
			c.steps[s.Symbol] = step
		}
		if s.Status != "TRADING" {
			continue
		}
		if quote != "" && s.QuoteAsset != quote {
			continue
		}
		out = append(out, s.Symbol)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

// lotStep returns the LOT_SIZE step of sym, fetched once and cached.
func (c *Client) lotStep(ctx context.Context, sym string) (string, error) {
	c.mu.Lock()
	step, ok := c.steps[sym]
	c.mu.Unlock()
	if ok {
		return step, nil
	}
	info, err := c.api.NewExchangeInfoService().Symbol(sym).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("exchange info %s: %w", sym, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != sym {
			continue
		}
		step = lotStepFromFilters(s.Filters)
	}
	c.mu.Lock()
	c.steps[sym] = step
	c.mu.Unlock()
	return step, nil
}

func lotStepFromFilters(filters []map[string]interface{}) string {
	for _, f := range filters {
		if t, _ := f["filterType"].(string); t != "LOT_SIZE" {
			continue
		}
		if step, _ := f["stepSize"].(string); step != "" {
			return step
		}
	}
	return ""
}

// RoundToStep rounds qty down to a multiple of step. An empty or zero step
// leaves qty untouched.
func RoundToStep(qty float64, step string) (string, decimal.Decimal) {
	q := decimal.NewFromFloat(qty)
	s, err := decimal.NewFromString(strings.TrimSpace(step))
	if err == nil && s.IsPositive() {
		q = q.Div(s).Floor().Mul(s)
	}
	return q.String(), q
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
