package market

import (
	"fmt"
	"math"
	"strings"
)

// Bar is one OHLCV record of an instrument. Timestamp is the bar open time in
// unix milliseconds; (Instrument, Timestamp) identifies a bar.
type Bar struct {
	Instrument string  `json:"instrument"`
	Timestamp  int64   `json:"timestamp"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
}

// BarEvent is one normalized stream update. Closed marks the final update of
// the bar's interval.
type BarEvent struct {
	Bar    Bar
	Closed bool
}

// NormalizeInstrument is the canonical instrument key used by the store and
// the ranker (upper case, no separators).
func NormalizeInstrument(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate rejects bars that must never reach the store.
func (b Bar) Validate() error {
	if strings.TrimSpace(b.Instrument) == "" {
		return fmt.Errorf("bar: instrument is required")
	}
	if b.Timestamp <= 0 {
		return fmt.Errorf("bar %s: timestamp must be positive", b.Instrument)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if !finite(v) || v < 0 {
			return fmt.Errorf("bar %s@%d: invalid value %v", b.Instrument, b.Timestamp, v)
		}
	}
	if b.Close <= 0 {
		return fmt.Errorf("bar %s@%d: close must be positive", b.Instrument, b.Timestamp)
	}
	return nil
}
