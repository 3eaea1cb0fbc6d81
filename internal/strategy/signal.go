package strategy

import (
	"fmt"
	"strings"

	talib "github.com/markcheno/go-talib"
)

type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Provider maps a window of closes, oldest first, to a signal. Providers are
// pure and safe to call from any goroutine.
type Provider func(history []float64) Signal

type Config struct {
	Name          string
	SMAShort      int
	SMALong       int
	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64
	// Window is the number of closes the trader keeps for the provider.
	Window int
}

func (c Config) withDefaults() Config {
	out := c
	out.Name = strings.ToLower(strings.TrimSpace(out.Name))
	if out.Name == "" {
		out.Name = "none"
	}
	if out.SMAShort <= 0 {
		out.SMAShort = 5
	}
	if out.SMALong <= 0 {
		out.SMALong = 20
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = 14
	}
	if out.RSIOversold <= 0 {
		out.RSIOversold = 30
	}
	if out.RSIOverbought <= 0 {
		out.RSIOverbought = 70
	}
	if out.Window <= 0 {
		out.Window = out.MinHistory() * 2
	}
	return out
}

// MinHistory is the shortest window any provider of c can act on.
func (c Config) MinHistory() int {
	long := c.SMALong
	if c.RSIPeriod+1 > long {
		long = c.RSIPeriod + 1
	}
	if long < 2 {
		long = 2
	}
	return long
}

// New selects a provider by name: none, sma, rsi or sma_rsi.
func New(cfg Config) (Provider, Config, error) {
	cfg = cfg.withDefaults()
	if cfg.SMAShort >= cfg.SMALong {
		return nil, cfg, fmt.Errorf("strategy: sma_short (%d) must be below sma_long (%d)", cfg.SMAShort, cfg.SMALong)
	}
	if cfg.RSIOversold >= cfg.RSIOverbought {
		return nil, cfg, fmt.Errorf("strategy: rsi_oversold must be below rsi_overbought")
	}
	switch cfg.Name {
	case "none":
		return None(), cfg, nil
	case "sma":
		return SMACrossover(cfg.SMAShort, cfg.SMALong), cfg, nil
	case "rsi":
		return RSI(cfg.RSIPeriod, cfg.RSIOversold, cfg.RSIOverbought), cfg, nil
	case "sma_rsi":
		return SMAWithRSI(cfg.SMAShort, cfg.SMALong, cfg.RSIPeriod, cfg.RSIOversold, cfg.RSIOverbought), cfg, nil
	default:
		return nil, cfg, fmt.Errorf("strategy: unknown name %q", cfg.Name)
	}
}

func None() Provider {
	return func([]float64) Signal { return Hold }
}

// SMACrossover buys while the short average is above the long one and sells
// while it is below.
func SMACrossover(short, long int) Provider {
	return func(history []float64) Signal {
		s, l, ok := smaPair(history, short, long)
		if !ok {
			return Hold
		}
		switch {
		case s > l:
			return Buy
		case s < l:
			return Sell
		default:
			return Hold
		}
	}
}

func RSI(period int, oversold, overbought float64) Provider {
	return func(history []float64) Signal {
		v, ok := rsiValue(history, period)
		if !ok {
			return Hold
		}
		switch {
		case v < oversold:
			return Buy
		case v > overbought:
			return Sell
		default:
			return Hold
		}
	}
}

// SMAWithRSI requires both indicators to agree.
func SMAWithRSI(short, long, period int, oversold, overbought float64) Provider {
	return func(history []float64) Signal {
		s, l, ok := smaPair(history, short, long)
		if !ok {
			return Hold
		}
		v, ok := rsiValue(history, period)
		if !ok {
			return Hold
		}
		switch {
		case s > l && v < oversold:
			return Buy
		case s < l && v > overbought:
			return Sell
		default:
			return Hold
		}
	}
}

func smaPair(history []float64, short, long int) (float64, float64, bool) {
	if short <= 0 || long <= 0 || len(history) < long || len(history) < short {
		return 0, 0, false
	}
	s := talib.Sma(history, short)
	l := talib.Sma(history, long)
	if len(s) == 0 || len(l) == 0 {
		return 0, 0, false
	}
	return s[len(s)-1], l[len(l)-1], true
}

// rsiValue reports a neutral 50 for a window without any movement.
func rsiValue(history []float64, period int) (float64, bool) {
	if period <= 0 || len(history) < period+1 {
		return 0, false
	}
	window := history[len(history)-period-1:]
	flat := true
	for i := 1; i < len(window); i++ {
		if window[i] != window[0] {
			flat = false
			break
		}
	}
	if flat {
		return 50, true
	}
	series := talib.Rsi(history, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}
