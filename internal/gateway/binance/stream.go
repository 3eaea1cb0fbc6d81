package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"brisk/internal/market"

	"github.com/gorilla/websocket"
)

const maxFrameBytes = 1 << 20

// StreamSource dials the combined kline stream for a set of instruments.
type StreamSource struct {
	cfg    Config
	dialer *websocket.Dialer
}

var _ market.Source = (*StreamSource)(nil)

func NewStreamSource(cfg Config) (*StreamSource, error) {
	final := cfg.withDefaults()
	dialer := &websocket.Dialer{
		HandshakeTimeout: final.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}
	return &StreamSource{cfg: final, dialer: dialer}, nil
}

// CombinedStreamURL builds <base>/stream?streams=<sym>@kline_<interval>/...
func CombinedStreamURL(base string, instruments []string, interval string) string {
	names := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		sym := strings.ToLower(market.NormalizeInstrument(inst))
		if sym == "" {
			continue
		}
		names = append(names, sym+"@kline_"+interval)
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(names, "/")
}

func (s *StreamSource) Connect(ctx context.Context, instruments []string) (market.Stream, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("stream: no instruments")
	}
	endpoint := CombinedStreamURL(s.cfg.WSBaseURL, instruments, s.cfg.StreamInterval)
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	st := &wsStream{conn: conn, readTimeout: s.cfg.ReadTimeout}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(st.readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return st, nil
}

type wsStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

func (w *wsStream) Recv() ([]byte, error) {
	if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
		return nil, err
	}
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsStream) Close() error {
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
