package scheduler

import (
	"context"
	"time"

	"brisk/internal/logger"
)

// AlignedScheduler runs a task at every multiple of Interval on the wall
// clock, shifted by Offset. A task that overruns skips the boundaries it
// missed.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run blocks until ctx is done.
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("[scheduler] %s: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		logger.Warnf("[scheduler] %s: offset=%s outside interval, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Debugf("[scheduler] %s: started interval=%s offset=%s run_immediately=%v",
		s.Name, s.Interval, s.Offset, s.RunImmediately)
	if s.RunImmediately {
		task(ctx)
	}
	for {
		wakeAt, wait := s.nextWake(s.nowFn())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		logger.Debugf("[scheduler] %s: tick at %s", s.Name, wakeAt.Format(time.RFC3339))
		task(ctx)
	}
}

// nextWake is the first aligned boundary plus offset strictly after now.
func (s *AlignedScheduler) nextWake(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
