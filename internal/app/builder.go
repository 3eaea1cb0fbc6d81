package app

import (
	"context"
	"fmt"
	"time"

	"brisk/internal/collector"
	"brisk/internal/config"
	"brisk/internal/engine"
	"brisk/internal/gateway/binance"
	"brisk/internal/gateway/exchange"
	"brisk/internal/gateway/notifier"
	"brisk/internal/journal"
	"brisk/internal/logger"
	"brisk/internal/market"
	"brisk/internal/pkg/circuit"
	"brisk/internal/ranker"
	"brisk/internal/store"
	"brisk/internal/strategy"
	"brisk/internal/trader"
	statushttp "brisk/internal/transport/http/status"
)

// AppBuilder assembles the runtime graph from a loaded config. The factory
// fields exist so tests can swap the exchange side for fakes.
type AppBuilder struct {
	cfg        *config.Config
	configPath string

	exchangeFn func(binance.Config) (exchange.Client, error)
	sourceFn   func(binance.Config) (market.Source, error)
	notifierFn func(config.TelegramConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

// WithConfigPath enables hot reload of the risk section from path.
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = path }
}

func WithExchange(c exchange.Client) AppBuilderOption {
	return func(b *AppBuilder) {
		b.exchangeFn = func(binance.Config) (exchange.Client, error) { return c, nil }
	}
}

func WithSource(s market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(binance.Config) (market.Source, error) { return s, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.TelegramConfig) notifier.TextNotifier { return n }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		exchangeFn: newBinanceClient,
		sourceFn:   newBinanceSource,
		notifierFn: newTelegram,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func newBinanceClient(cfg binance.Config) (exchange.Client, error) {
	return binance.NewClient(cfg)
}

func newBinanceSource(cfg binance.Config) (market.Source, error) {
	return binance.NewStreamSource(cfg)
}

func newTelegram(cfg config.TelegramConfig) notifier.TextNotifier {
	if !cfg.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.BotToken, cfg.ChatID)
}

// Build opens the stores and journal, then wires exchange, trader, collector,
// ranker and engine. Anything opened before a failure is closed again.
func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	var cleanups []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			_ = cleanups[i]()
		}
	}()

	bars, err := store.OpenBarStore(cfg.Store.Path, cfg.Store.ResetOnStart)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, bars.Close)
	if cfg.Store.ResetOnStart {
		logger.Infof("[app] bar store reset: %s", bars.Path())
	}

	jr, trades, err := b.buildJournal(cfg)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, jr.Close)

	exCfg := binanceConfig(cfg)
	client, err := b.exchangeFn(exCfg)
	if err != nil {
		return nil, fmt.Errorf("exchange client: %w", err)
	}
	source, err := b.sourceFn(exCfg)
	if err != nil {
		return nil, fmt.Errorf("stream source: %w", err)
	}

	exec := b.buildExecutor(cfg, client)

	signal, strat, err := strategy.New(strategy.Config{
		Name:          cfg.Strategy.Name,
		SMAShort:      cfg.Strategy.SMAShort,
		SMALong:       cfg.Strategy.SMALong,
		RSIPeriod:     cfg.Strategy.RSIPeriod,
		RSIOversold:   cfg.Strategy.RSIOversold,
		RSIOverbought: cfg.Strategy.RSIOverbought,
		Window:        cfg.Strategy.Window,
	})
	if err != nil {
		return nil, err
	}

	tr, err := trader.New(trader.Options{
		Config: trader.Config{
			Risk:        RiskFromConfig(cfg.Risk),
			EntryMode:   trader.EntryMode(cfg.Trading.EntryMode),
			SignalExit:  cfg.Trading.SignalExit,
			Window:      strat.Window,
			MailboxSize: cfg.Trading.TickBuffer,
		},
		Executor: exec,
		Signal:   signal,
		Sink:     jr,
	})
	if err != nil {
		return nil, err
	}

	feed := engine.NewTickFeed(tr)
	col, err := collector.New(collector.Options{
		Config: collector.Config{
			ReconnectDelay: time.Duration(cfg.Collector.ReconnectDelaySeconds) * time.Second,
			BatchSize:      cfg.Collector.BatchSize,
			FlushInterval:  time.Duration(cfg.Collector.FlushIntervalMs) * time.Millisecond,
			ClosedOnly:     cfg.Collector.ClosedOnly,
		},
		Source:  source,
		Decoder: binance.DecodeKline,
		Store:   bars,
		OnBar:   feed.OnBar,
	})
	if err != nil {
		return nil, err
	}

	rk := ranker.New(bars, ranker.Config{
		LookbackBars: cfg.Ranker.LookbackBars,
		MaxResults:   cfg.Ranker.MaxResults,
		MinReturn:    cfg.Ranker.MinCumulativeReturn,
	})

	eng, err := engine.New(engine.Options{
		Config: engine.Config{
			QuoteAsset:      cfg.Market.QuoteAsset,
			Instruments:     cfg.Market.Instruments,
			MaxInstruments:  cfg.Market.MaxInstruments,
			StatusInterval:  time.Duration(cfg.Engine.StatusIntervalSeconds) * time.Second,
			RankInterval:    time.Duration(cfg.Ranker.IntervalSeconds) * time.Second,
			BalanceInterval: time.Duration(cfg.Engine.BalanceRefreshSeconds) * time.Second,
		},
		Collector: col,
		Ranker:    rk,
		Trader:    tr,
		Feed:      feed,
		Exchange:  client,
		Store:     bars,
	})
	if err != nil {
		return nil, err
	}

	var srv *statushttp.Server
	if cfg.App.HTTPAddr != "" {
		srvCfg := statushttp.Config{Addr: cfg.App.HTTPAddr, Engine: eng}
		if trades != nil {
			srvCfg.Trades = trades
		}
		srv, err = statushttp.NewServer(srvCfg)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfg:        cfg,
		configPath: b.configPath,
		engine:     eng,
		bars:       bars,
		journal:    jr,
		http:       srv,
		Summary:    newStartupSummary(cfg, exec.Simulated(), strat),
	}, nil
}

// buildJournal opens the JSON-lines file, the SQLite log and, when enabled,
// the Telegram sink. Empty paths skip the corresponding sink.
func (b *AppBuilder) buildJournal(cfg *config.Config) (*journal.Journal, *journal.GormJournal, error) {
	var sinks []journal.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	if cfg.Trading.JournalPath != "" {
		fj, err := journal.OpenFile(cfg.Trading.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("trade journal: %w", err)
		}
		sinks = append(sinks, fj)
	}
	var trades *journal.GormJournal
	if cfg.Trading.JournalDB != "" {
		gj, err := journal.OpenGorm(cfg.Trading.JournalDB)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("trade journal db: %w", err)
		}
		sinks = append(sinks, gj)
		trades = gj
	}
	if n := b.notifierFn(cfg.Notify.Telegram); n != nil {
		sinks = append(sinks, journal.NewNotifySink(n, 0))
		logger.Infof("[app] telegram notifications enabled")
	}
	return journal.Multi(sinks...), trades, nil
}

func (b *AppBuilder) buildExecutor(cfg *config.Config, client exchange.Client) trader.Executor {
	if cfg.Trading.Paper {
		return trader.NewPaperExecutor()
	}
	breaker := circuit.New("orders", cfg.Exchange.BreakerThreshold, time.Duration(cfg.Exchange.BreakerTimeoutSeconds)*time.Second)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("[breaker] %s: %s -> %s", name, from, to)
	})
	return trader.NewLiveExecutor(client, breaker, trader.LiveConfig{
		Retries:    cfg.Exchange.OrderRetries,
		RetryDelay: time.Duration(cfg.Exchange.OrderRetryDelayMs) * time.Millisecond,
		QuoteAsset: cfg.Market.QuoteAsset,
	})
}

func binanceConfig(cfg *config.Config) binance.Config {
	return binance.Config{
		RESTBaseURL:    cfg.Exchange.RESTBaseURL,
		WSBaseURL:      cfg.Exchange.WSBaseURL,
		APIKey:         cfg.Exchange.APIKey,
		APISecret:      cfg.Exchange.APISecret,
		HTTPTimeout:    time.Duration(cfg.Exchange.HTTPTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(cfg.Collector.ReadTimeoutSeconds) * time.Second,
		StreamInterval: cfg.Market.StreamInterval,
		ProxyURL:       cfg.Exchange.ProxyURL,
	}
}

// RiskFromConfig maps the risk section onto the trader's risk parameters.
func RiskFromConfig(r config.RiskConfig) trader.RiskConfig {
	return trader.RiskConfig{
		MaxTotalCapital:     r.MaxTotalCapital,
		RiskPerTrade:        r.RiskPerTrade,
		StopLossPercent:     r.StopLossPercent,
		TakeProfitPercent:   r.TakeProfitPercent,
		TrailingStopEnabled: r.TrailingStopEnabled,
		TrailingSLPercent:   r.TrailingSLPercent,
		TrailingTPEnabled:   r.TrailingTPEnabled,
		TrailingTPPercent:   r.TrailingTPPercent,
		BuyFeePercent:       r.BuyFeePercent,
		SellFeePercent:      r.SellFeePercent,
		MaxTradeLoss:        r.MaxTradeLoss,
		MaxDailyLoss:        r.MaxDailyLoss,
		MaxTradesPerDay:     r.MaxTradesPerDay,
	}
}
