package app

import (
	"fmt"
	"strings"

	"brisk/internal/config"
	"brisk/internal/logger"
	"brisk/internal/strategy"
)

type StartupSummary struct {
	Mode     string
	Market   MarketSummary
	Strategy StrategySummary
	Risk     config.RiskConfig
	Outputs  OutputSummary
}

type MarketSummary struct {
	QuoteAsset     string
	Instruments    []string
	MaxInstruments int
	StreamInterval string
	RankEvery      int
	LookbackBars   int
}

type StrategySummary struct {
	Name       string
	EntryMode  string
	SignalExit bool
	Window     int
}

type OutputSummary struct {
	BarStore    string
	JournalFile string
	JournalDB   string
	HTTPAddr    string
	Telegram    bool
}

func newStartupSummary(cfg *config.Config, simulated bool, strat strategy.Config) *StartupSummary {
	mode := "LIVE"
	if simulated {
		mode = "PAPER"
	}
	return &StartupSummary{
		Mode: mode,
		Market: MarketSummary{
			QuoteAsset:     cfg.Market.QuoteAsset,
			Instruments:    cfg.Market.Instruments,
			MaxInstruments: cfg.Market.MaxInstruments,
			StreamInterval: cfg.Market.StreamInterval,
			RankEvery:      cfg.Ranker.IntervalSeconds,
			LookbackBars:   cfg.Ranker.LookbackBars,
		},
		Strategy: StrategySummary{
			Name:       strat.Name,
			EntryMode:  cfg.Trading.EntryMode,
			SignalExit: cfg.Trading.SignalExit,
			Window:     strat.Window,
		},
		Risk: cfg.Risk,
		Outputs: OutputSummary{
			BarStore:    cfg.Store.Path,
			JournalFile: cfg.Trading.JournalPath,
			JournalDB:   cfg.Trading.JournalDB,
			HTTPAddr:    cfg.App.HTTPAddr,
			Telegram:    cfg.Notify.Telegram.Enabled,
		},
	}
}

// Print writes the summary through the process logger, one line per entry.
func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	fmt.Fprintln(&b, line)
	title := fmt.Sprintf("STARTUP SUMMARY (%s)", s.Mode)
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[MARKET]")
	fmt.Fprintf(&b, "  Quote asset:  %s\n", s.Market.QuoteAsset)
	if len(s.Market.Instruments) == 0 {
		fmt.Fprintf(&b, "  Instruments:  all %s pairs (max %d)\n", s.Market.QuoteAsset, s.Market.MaxInstruments)
	} else {
		fmt.Fprintf(&b, "  Instruments:  %s\n", formatList(s.Market.Instruments))
	}
	fmt.Fprintf(&b, "  Interval:     %s\n", s.Market.StreamInterval)
	fmt.Fprintf(&b, "  Ranking:      every %ds over %d bars\n", s.Market.RankEvery, s.Market.LookbackBars)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[STRATEGY]")
	fmt.Fprintf(&b, "  Signal:       %s (window %d)\n", s.Strategy.Name, s.Strategy.Window)
	fmt.Fprintf(&b, "  Entry mode:   %s\n", s.Strategy.EntryMode)
	fmt.Fprintf(&b, "  Signal exit:  %t\n", s.Strategy.SignalExit)
	fmt.Fprintln(&b)

	r := s.Risk
	fmt.Fprintln(&b, "[RISK]")
	fmt.Fprintf(&b, "  Capital:      %.2f  risk/trade %.2f%%\n", r.MaxTotalCapital, r.RiskPerTrade*100)
	fmt.Fprintf(&b, "  SL / TP:      %.2f%% / %.2f%%\n", r.StopLossPercent*100, r.TakeProfitPercent*100)
	fmt.Fprintf(&b, "  Trailing SL:  %s\n", onOff(r.TrailingStopEnabled, r.TrailingSLPercent))
	fmt.Fprintf(&b, "  Trailing TP:  %s\n", onOff(r.TrailingTPEnabled, r.TrailingTPPercent))
	fmt.Fprintf(&b, "  Fees:         buy %.3f%% sell %.3f%%\n", r.BuyFeePercent*100, r.SellFeePercent*100)
	if r.MaxTradeLoss > 0 || r.MaxDailyLoss > 0 || r.MaxTradesPerDay > 0 {
		fmt.Fprintf(&b, "  Guard:        trade loss %.2f, daily loss %.2f, trades/day %d\n", r.MaxTradeLoss, r.MaxDailyLoss, r.MaxTradesPerDay)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[OUTPUTS]")
	fmt.Fprintf(&b, "  Bar store:    %s\n", s.Outputs.BarStore)
	fmt.Fprintf(&b, "  Journal:      %s\n", formatList([]string{s.Outputs.JournalFile, s.Outputs.JournalDB}))
	fmt.Fprintf(&b, "  Status HTTP:  %s\n", orDash(s.Outputs.HTTPAddr))
	fmt.Fprintf(&b, "  Telegram:     %t\n", s.Outputs.Telegram)
	fmt.Fprintln(&b, line)
	return b.String()
}

func onOff(enabled bool, pct float64) string {
	if !enabled {
		return "off"
	}
	return fmt.Sprintf("%.2f%%", pct*100)
}

func formatList(items []string) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
