package config

import (
	"errors"
	"fmt"
	"strings"

	"brisk/internal/logger"
	"brisk/internal/scheduler"
)

var ErrMissingCredentials = errors.New("exchange.api_key and exchange.api_secret are required")

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
		return ErrMissingCredentials
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.QuoteAsset == "" {
		return fmt.Errorf("market.quote_asset cannot be empty")
	}
	if !IsValidInterval(m.StreamInterval) {
		return fmt.Errorf("market.stream_interval %q is not a valid interval", m.StreamInterval)
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.EntryMode {
	case "immediate", "signal":
		return nil
	default:
		return fmt.Errorf("trading.entry_mode must be immediate or signal, got %q", t.EntryMode)
	}
}

func (s *StrategyConfig) validate() error {
	switch s.Name {
	case "none", "sma", "rsi", "sma_rsi":
	default:
		return fmt.Errorf("strategy.name must be one of none, sma, rsi, sma_rsi, got %q", s.Name)
	}
	if s.SMAShort >= s.SMALong {
		return fmt.Errorf("strategy.sma_short (%d) must be below strategy.sma_long (%d)", s.SMAShort, s.SMALong)
	}
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("strategy.rsi_oversold must be below strategy.rsi_overbought")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// sanitize resets out-of-range values to their defaults with a warning.
func sanitize(c *Config) {
	r := &c.Risk
	fixFloat("risk.max_total_capital", &r.MaxTotalCapital, defaultMaxCapital, func(v float64) bool { return v > 0 })
	fixFloat("risk.risk_per_trade", &r.RiskPerTrade, defaultRiskPerTrade, func(v float64) bool { return v > 0 && v <= 1 })
	fixFloat("risk.stop_loss_percent", &r.StopLossPercent, defaultStopLoss, func(v float64) bool { return v > 0 && v < 1 })
	fixFloat("risk.take_profit_percent", &r.TakeProfitPercent, defaultTakeProfit, func(v float64) bool { return v > 0 })
	fixFloat("risk.trailing_sl_percent", &r.TrailingSLPercent, defaultTrailingSL, func(v float64) bool { return v >= 0 && v < 1 })
	fixFloat("risk.trailing_tp_percent", &r.TrailingTPPercent, defaultTrailingTP, func(v float64) bool { return v >= 0 })
	fixFloat("risk.buy_fee_percent", &r.BuyFeePercent, defaultFeePercent, func(v float64) bool { return v >= 0 && v < 1 })
	fixFloat("risk.sell_fee_percent", &r.SellFeePercent, defaultFeePercent, func(v float64) bool { return v >= 0 && v < 1 })
	fixFloat("risk.max_trade_loss", &r.MaxTradeLoss, 0, func(v float64) bool { return v >= 0 })
	fixFloat("risk.max_daily_loss", &r.MaxDailyLoss, 0, func(v float64) bool { return v >= 0 })
	if r.MaxTradesPerDay < 0 {
		logger.Warnf("[config] risk.max_trades_per_day=%d invalid, using 0 (unlimited)", r.MaxTradesPerDay)
		r.MaxTradesPerDay = 0
	}
	fixFloat("ranker.min_cumulative_return", &c.Ranker.MinCumulativeReturn, 0, func(v float64) bool { return v >= -100 })
	fixInt("market.max_instruments", &c.Market.MaxInstruments, defaultMaxInstruments)
	fixInt("collector.batch_size", &c.Collector.BatchSize, defaultBatchSize)
	fixInt("ranker.lookback_bars", &c.Ranker.LookbackBars, defaultLookbackBars)
	fixInt("ranker.max_results", &c.Ranker.MaxResults, defaultMaxResults)
	fixInt("exchange.order_retries", &c.Exchange.OrderRetries, defaultOrderRetries)
	if c.Ranker.LookbackBars < 2 {
		logger.Warnf("[config] ranker.lookback_bars=%d too small, using %d", c.Ranker.LookbackBars, defaultLookbackBars)
		c.Ranker.LookbackBars = defaultLookbackBars
	}
}

func fixFloat(key string, target *float64, def float64, ok func(float64) bool) {
	if ok(*target) {
		return
	}
	logger.Warnf("[config] %s=%v invalid, using %v", key, *target, def)
	*target = def
}

func fixInt(key string, target *int, def int) {
	if *target > 0 {
		return
	}
	logger.Warnf("[config] %s=%d invalid, using %d", key, *target, def)
	*target = def
}

// IsValidInterval accepts exchange interval notation such as 1s, 1m, 4h.
func IsValidInterval(s string) bool {
	_, ok := scheduler.ParseIntervalDuration(s)
	return ok
}
