package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brisk/internal/gateway/notifier"
	"brisk/internal/logger"
	"brisk/internal/trader"
)

// NotifySink sends a message per event. Delivery runs on its own goroutine
// so a slow chat API does not hold up the other sinks.
type NotifySink struct {
	n      notifier.TextNotifier
	queue  chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewNotifySink(n notifier.TextNotifier, queue int) *NotifySink {
	if queue <= 0 {
		queue = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &NotifySink{n: n, queue: make(chan Event, queue), ctx: ctx, cancel: cancel}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Write(_ context.Context, ev Event) error {
	select {
	case s.queue <- ev:
		return nil
	default:
		return fmt.Errorf("notify queue full")
	}
}

func (s *NotifySink) run() {
	defer s.wg.Done()
	for ev := range s.queue {
		if err := s.n.SendText(s.ctx, RenderMessage(ev)); err != nil {
			logger.Warnf("[journal] notify %s %s: %v", ev.Action, ev.Instrument, err)
		}
	}
}

// Close delivers what is queued, giving up after a grace period.
func (s *NotifySink) Close() error {
	s.once.Do(func() {
		close(s.queue)
		timer := time.AfterFunc(10*time.Second, s.cancel)
		s.wg.Wait()
		timer.Stop()
		s.cancel()
	})
	return nil
}

func RenderMessage(ev Event) string {
	p := ev.Position
	mode := "live"
	if p.Simulated {
		mode = "paper"
	}
	msg := notifier.StructuredMessage{
		Title:     fmt.Sprintf("%s %s (%s)", ev.Action, ev.Instrument, mode),
		Timestamp: ev.Time,
	}
	if ev.Action == trader.ActionSell {
		msg.Icon = "🔴"
		msg.Sections = []notifier.MessageSection{{
			Title: "Exit",
			Lines: []string{
				fmt.Sprintf("entry %.8g exit %.8g qty %.8g", p.EntryPrice, p.ExitPrice, p.Quantity),
				fmt.Sprintf("net %.4f (gross %.4f, fees %.4f)", p.NetProfit, p.GrossProfit, p.FeeEntry+p.FeeExit),
				fmt.Sprintf("reason %s", p.CloseReason),
			},
		}}
		m := ev.Metrics
		msg.Footer = fmt.Sprintf("total %.4f over %d trades, winrate %.1f%%", m.TotalProfit, m.TotalTrades, m.WinratePercent)
		return msg.RenderMarkdown()
	}
	msg.Icon = "🟢"
	msg.Sections = []notifier.MessageSection{{
		Title: "Entry",
		Lines: []string{
			fmt.Sprintf("price %.8g qty %.8g", p.EntryPrice, p.Quantity),
			fmt.Sprintf("stop %.8g take %.8g", p.StopLossPrice, p.TakeProfitPrice),
		},
	}}
	return msg.RenderMarkdown()
}
