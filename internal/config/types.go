package config

import "strings"

// Config is the process configuration, decoded from YAML with toml tags.
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Market    MarketConfig    `toml:"market"`
	Store     StoreConfig     `toml:"store"`
	Collector CollectorConfig `toml:"collector"`
	Ranker    RankerConfig    `toml:"ranker"`
	Engine    EngineConfig    `toml:"engine"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Notify    NotifyConfig    `toml:"notify"`

	Include []string `toml:"include"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	// HTTPAddr empty disables the status server.
	HTTPAddr  string `toml:"http_addr"`
}

type ExchangeConfig struct {
	RESTBaseURL           string `toml:"rest_base_url"`
	WSBaseURL             string `toml:"ws_base_url"`
	APIKey                string `toml:"api_key"`
	APISecret             string `toml:"api_secret"`
	ProxyURL              string `toml:"proxy_url"`
	HTTPTimeoutSeconds    int    `toml:"http_timeout_seconds"`
	OrderRetries          int    `toml:"order_retries"`
	OrderRetryDelayMs     int    `toml:"order_retry_delay_ms"`
	BreakerThreshold      int    `toml:"breaker_threshold"`
	BreakerTimeoutSeconds int    `toml:"breaker_timeout_seconds"`
}

type MarketConfig struct {
	QuoteAsset     string   `toml:"quote_asset"`
	Instruments    []string `toml:"instruments"`
	StreamInterval string   `toml:"stream_interval"`
	MaxInstruments int      `toml:"max_instruments"`
}

type StoreConfig struct {
	Path         string `toml:"path"`
	ResetOnStart bool   `toml:"reset_on_start"`
}

type CollectorConfig struct {
	ReconnectDelaySeconds int  `toml:"reconnect_delay_seconds"`
	BatchSize             int  `toml:"batch_size"`
	FlushIntervalMs       int  `toml:"flush_interval_ms"`
	ReadTimeoutSeconds    int  `toml:"read_timeout_seconds"`
	ClosedOnly            bool `toml:"closed_only"`
}

type RankerConfig struct {
	IntervalSeconds     int     `toml:"interval_seconds"`
	LookbackBars        int     `toml:"lookback_bars"`
	MaxResults          int     `toml:"max_results"`
	MinCumulativeReturn float64 `toml:"min_cumulative_return"`
}

type EngineConfig struct {
	StatusIntervalSeconds int `toml:"status_interval_seconds"`
	BalanceRefreshSeconds int `toml:"balance_refresh_seconds"`
}

type TradingConfig struct {
	Paper       bool   `toml:"paper"`
	EntryMode   string `toml:"entry_mode"`
	SignalExit  bool   `toml:"signal_exit"`
	TickBuffer  int    `toml:"tick_buffer"`
	JournalPath string `toml:"journal_path"`
	JournalDB   string `toml:"journal_db"`
}

// RiskConfig holds fractions (0.02 = 2%) and quote-asset amounts.
type RiskConfig struct {
	MaxTotalCapital     float64 `toml:"max_total_capital"`
	RiskPerTrade        float64 `toml:"risk_per_trade"`
	StopLossPercent     float64 `toml:"stop_loss_percent"`
	TakeProfitPercent   float64 `toml:"take_profit_percent"`
	TrailingStopEnabled bool    `toml:"trailing_sl_enabled"`
	TrailingSLPercent   float64 `toml:"trailing_sl_percent"`
	TrailingTPEnabled   bool    `toml:"trailing_tp_enabled"`
	TrailingTPPercent   float64 `toml:"trailing_tp_percent"`
	BuyFeePercent       float64 `toml:"buy_fee_percent"`
	SellFeePercent      float64 `toml:"sell_fee_percent"`
	MaxTradeLoss        float64 `toml:"max_trade_loss"`
	MaxDailyLoss        float64 `toml:"max_daily_loss"`
	MaxTradesPerDay     int     `toml:"max_trades_per_day"`
}

type StrategyConfig struct {
	Name          string  `toml:"name"`
	SMAShort      int     `toml:"sma_short"`
	SMALong       int     `toml:"sma_long"`
	RSIPeriod     int     `toml:"rsi_period"`
	RSIOversold   float64 `toml:"rsi_oversold"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	Window        int     `toml:"window"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet tracks the field paths set explicitly in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault is the default rule of one field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
