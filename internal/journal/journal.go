package journal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"brisk/internal/logger"
	"brisk/internal/trader"

	"github.com/google/uuid"
)

const (
	defaultQueue       = 256
	defaultSinkTimeout = 5 * time.Second
)

var ErrClosed = errors.New("journal closed")

// Event is a journaled trade event.
type Event struct {
	ID         string          `json:"id"`
	Time       time.Time       `json:"time"`
	Action     string          `json:"action"`
	Instrument string          `json:"instrument"`
	Position   trader.Position `json:"position"`
	Metrics    trader.Metrics  `json:"metrics"`
}

// NewEvent assigns a fresh id to a trader event.
func NewEvent(ev trader.TradeEvent) Event {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		ID:         uuid.NewString(),
		Time:       at.UTC(),
		Action:     ev.Action,
		Instrument: strings.ToUpper(ev.Position.Instrument),
		Position:   ev.Position,
		Metrics:    ev.Metrics,
	}
}

// Sink persists or forwards events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
	Close() error
}

// Journal fans trade events out to its sinks from a background goroutine, so
// the trader loop only pays for a channel send. Events are dropped when the
// queue is full.
type Journal struct {
	sinks   []Sink
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

var _ trader.EventSink = (*Journal)(nil)

// Multi builds a journal over the non-nil sinks.
func Multi(sinks ...Sink) *Journal {
	return NewWithQueue(defaultQueue, sinks...)
}

func NewWithQueue(queue int, sinks ...Sink) *Journal {
	if queue <= 0 {
		queue = defaultQueue
	}
	j := &Journal{
		timeout: defaultSinkTimeout,
		queue:   make(chan Event, queue),
		done:    make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			j.sinks = append(j.sinks, s)
		}
	}
	go j.run()
	return j
}

// Record implements trader.EventSink.
func (j *Journal) Record(_ context.Context, ev trader.TradeEvent) {
	if err := j.Append(NewEvent(ev)); err != nil {
		logger.Warnf("[journal] %s %s not recorded: %v", ev.Action, ev.Position.Instrument, err)
	}
}

// Append queues ev for every sink.
func (j *Journal) Append(ev Event) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	select {
	case j.queue <- ev:
		return nil
	default:
		j.dropped.Add(1)
		return errors.New("journal queue full")
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for ev := range j.queue {
		for _, s := range j.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
			err := s.Write(ctx, ev)
			cancel()
			if err != nil {
				j.failed.Add(1)
				logger.Warnf("[journal] sink %s failed for %s %s: %v", s.Name(), ev.Action, ev.Instrument, err)
			}
		}
		j.recorded.Add(1)
	}
}

// Close drains pending events and closes every sink.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.done
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done

	var errs []error
	for _, s := range j.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

func (j *Journal) Stats() Stats {
	return Stats{
		Recorded: j.recorded.Load(),
		Dropped:  j.dropped.Load(),
		Failed:   j.failed.Load(),
	}
}
