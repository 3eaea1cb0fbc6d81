package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	WSBaseURL   string
	APIKey      string
	APISecret   string

	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence on a stream before it is treated as dead.
	ReadTimeout time.Duration
	// StreamInterval is the kline interval subscribed for every instrument.
	StreamInterval string

	ProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	out.WSBaseURL = strings.TrimRight(strings.TrimSpace(out.WSBaseURL), "/")
	if out.WSBaseURL == "" {
		out.WSBaseURL = "wss://stream.binance.com:443"
	}
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 60 * time.Second
	}
	out.StreamInterval = strings.ToLower(strings.TrimSpace(out.StreamInterval))
	if out.StreamInterval == "" {
		out.StreamInterval = "1m"
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
