package config

import "strings"

const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogFormat   = "text"
	defaultAppLogPath     = "data/logs/brisk.log"
	defaultAppHTTPAddr    = ":9990"
	defaultRESTBase       = "https://api.binance.com"
	defaultWSBase         = "wss://stream.binance.com:443"
	defaultHTTPTimeout    = 15
	defaultOrderRetries   = 3
	defaultOrderRetryMs   = 1000
	defaultBreakerThresh  = 5
	defaultBreakerTimeout = 30
	defaultQuoteAsset     = "USDC"
	defaultStreamInterval = "1m"
	defaultMaxInstruments = 200
	defaultStorePath      = "data/market.db"
	defaultReconnectDelay = 5
	defaultBatchSize      = 200
	defaultFlushMs        = 1000
	defaultReadTimeout    = 60
	defaultRankInterval   = 5
	defaultLookbackBars   = 60
	defaultMaxResults     = 5
	defaultStatusInterval = 1
	defaultBalanceRefresh = 30
	defaultEntryMode      = "immediate"
	defaultTickBuffer     = 1024
	defaultJournalPath    = "data/logs/trades.jsonl"
	defaultJournalDB      = "data/trades.db"
	defaultStrategyName   = "none"

	defaultMaxCapital    = 1000
	defaultRiskPerTrade  = 0.1
	defaultStopLoss      = 0.02
	defaultTakeProfit    = 0.04
	defaultTrailingSL    = 0.01
	defaultTrailingTP    = 0.02
	defaultFeePercent    = 0.001
	defaultSMAShort      = 5
	defaultSMALong       = 20
	defaultRSIPeriod     = 14
	defaultRSIOversold   = 30
	defaultRSIOverbought = 70
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Collector.applyDefaults(keys)
	c.Ranker.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultRESTBase),
		stringFieldDefault("exchange.ws_base_url", &e.WSBaseURL, defaultWSBase),
		intFieldDefault("exchange.http_timeout_seconds", &e.HTTPTimeoutSeconds, defaultHTTPTimeout),
		intFieldDefault("exchange.order_retries", &e.OrderRetries, defaultOrderRetries),
		intFieldDefault("exchange.order_retry_delay_ms", &e.OrderRetryDelayMs, defaultOrderRetryMs),
		intFieldDefault("exchange.breaker_threshold", &e.BreakerThreshold, defaultBreakerThresh),
		intFieldDefault("exchange.breaker_timeout_seconds", &e.BreakerTimeoutSeconds, defaultBreakerTimeout),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.quote_asset", &m.QuoteAsset, defaultQuoteAsset),
		stringFieldDefault("market.stream_interval", &m.StreamInterval, defaultStreamInterval),
		intFieldDefault("market.max_instruments", &m.MaxInstruments, defaultMaxInstruments),
	)
	m.QuoteAsset = strings.ToUpper(strings.TrimSpace(m.QuoteAsset))
	m.StreamInterval = strings.ToLower(strings.TrimSpace(m.StreamInterval))
	m.Instruments = normalizeList(m.Instruments)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (c *CollectorConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("collector.reconnect_delay_seconds", &c.ReconnectDelaySeconds, defaultReconnectDelay),
		intFieldDefault("collector.batch_size", &c.BatchSize, defaultBatchSize),
		intFieldDefault("collector.flush_interval_ms", &c.FlushIntervalMs, defaultFlushMs),
		intFieldDefault("collector.read_timeout_seconds", &c.ReadTimeoutSeconds, defaultReadTimeout),
	)
}

func (r *RankerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("ranker.interval_seconds", &r.IntervalSeconds, defaultRankInterval),
		intFieldDefault("ranker.lookback_bars", &r.LookbackBars, defaultLookbackBars),
		intFieldDefault("ranker.max_results", &r.MaxResults, defaultMaxResults),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("engine.status_interval_seconds", &e.StatusIntervalSeconds, defaultStatusInterval),
		intFieldDefault("engine.balance_refresh_seconds", &e.BalanceRefreshSeconds, defaultBalanceRefresh),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("trading.paper", &t.Paper, true),
		stringFieldDefault("trading.entry_mode", &t.EntryMode, defaultEntryMode),
		intFieldDefault("trading.tick_buffer", &t.TickBuffer, defaultTickBuffer),
		stringFieldDefault("trading.journal_path", &t.JournalPath, defaultJournalPath),
		stringFieldDefault("trading.journal_db", &t.JournalDB, defaultJournalDB),
	)
	t.EntryMode = strings.ToLower(strings.TrimSpace(t.EntryMode))
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_total_capital", &r.MaxTotalCapital, defaultMaxCapital),
		floatFieldDefault("risk.risk_per_trade", &r.RiskPerTrade, defaultRiskPerTrade),
		floatFieldDefault("risk.stop_loss_percent", &r.StopLossPercent, defaultStopLoss),
		floatFieldDefault("risk.take_profit_percent", &r.TakeProfitPercent, defaultTakeProfit),
		floatFieldDefault("risk.trailing_sl_percent", &r.TrailingSLPercent, defaultTrailingSL),
		floatFieldDefault("risk.trailing_tp_percent", &r.TrailingTPPercent, defaultTrailingTP),
		floatFieldDefault("risk.buy_fee_percent", &r.BuyFeePercent, defaultFeePercent),
		floatFieldDefault("risk.sell_fee_percent", &r.SellFeePercent, defaultFeePercent),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategyName),
		intFieldDefault("strategy.sma_short", &s.SMAShort, defaultSMAShort),
		intFieldDefault("strategy.sma_long", &s.SMALong, defaultSMALong),
		intFieldDefault("strategy.rsi_period", &s.RSIPeriod, defaultRSIPeriod),
		floatFieldDefault("strategy.rsi_oversold", &s.RSIOversold, defaultRSIOversold),
		floatFieldDefault("strategy.rsi_overbought", &s.RSIOverbought, defaultRSIOverbought),
	)
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func normalizeList(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, item := range list {
		item = strings.ToUpper(strings.TrimSpace(item))
		item = strings.NewReplacer("/", "", "-", "").Replace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
