package binance

import (
	"fmt"
	"strconv"

	"brisk/internal/market"

	"github.com/tidwall/gjson"
)

var _ market.Decoder = DecodeKline

// DecodeKline decodes a kline event, either wrapped by the combined stream
// ({"stream":...,"data":{...}}) or raw. Any other well-formed frame, such as
// a subscription reply, yields market.ErrIgnored.
func DecodeKline(payload []byte) (market.BarEvent, error) {
	if !gjson.ValidBytes(payload) {
		return market.BarEvent{}, fmt.Errorf("kline: invalid json")
	}
	root := gjson.ParseBytes(payload)
	data := root.Get("data")
	if !data.Exists() {
		data = root
	}
	if data.Get("e").String() != "kline" {
		return market.BarEvent{}, market.ErrIgnored
	}
	k := data.Get("k")
	if !k.IsObject() {
		return market.BarEvent{}, fmt.Errorf("kline: missing k")
	}
	sym := k.Get("s").String()
	if sym == "" {
		sym = data.Get("s").String()
	}
	bar := market.Bar{
		Instrument: market.NormalizeInstrument(sym),
		Timestamp:  k.Get("t").Int(),
	}
	fields := []struct {
		key string
		dst *float64
	}{
		{"o", &bar.Open}, {"h", &bar.High}, {"l", &bar.Low}, {"c", &bar.Close}, {"v", &bar.Volume},
	}
	for _, f := range fields {
		raw := k.Get(f.key)
		if !raw.Exists() {
			return market.BarEvent{}, fmt.Errorf("kline %s: missing %s", bar.Instrument, f.key)
		}
		v, err := strconv.ParseFloat(raw.String(), 64)
		if err != nil {
			return market.BarEvent{}, fmt.Errorf("kline %s: field %s: %w", bar.Instrument, f.key, err)
		}
		*f.dst = v
	}
	return market.BarEvent{Bar: bar, Closed: k.Get("x").Bool()}, nil
}
