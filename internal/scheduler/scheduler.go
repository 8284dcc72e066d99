// Package scheduler triggers scan cycles on a fixed interval or at set hours of the day.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = time.Hour

type Config struct {
	Interval time.Duration
	// Hours, if set, replaces Interval: a run fires at the top of each listed hour (0-23, local time).
	Hours []int
	// RunAtStart fires once immediately. With Hours set it only fires when the
	// current hour is one of them.
	RunAtStart bool
}

type Scheduler struct {
	cfg    Config
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger *zap.Logger
}

type Option func(*Scheduler)

// WithClock replaces the time source and timer; used by tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

func New(cfg Config, log *zap.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	hours := append([]int(nil), cfg.Hours...)
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("schedule hour %d out of range 0-23", h)
		}
	}
	sort.Ints(hours)
	cfg.Hours = hours
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scheduler{cfg: cfg, now: time.Now, after: time.After, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns when the run after now should fire.
func (s *Scheduler) Next(now time.Time) time.Time {
	if len(s.cfg.Hours) == 0 {
		return now.Add(s.cfg.Interval)
	}
	y, m, d := now.Date()
	for _, h := range s.cfg.Hours {
		if t := time.Date(y, m, d, h, 0, 0, 0, now.Location()); t.After(now) {
			return t
		}
	}
	return time.Date(y, m, d+1, s.cfg.Hours[0], 0, 0, 0, now.Location())
}

func (s *Scheduler) startNow() bool {
	if !s.cfg.RunAtStart {
		return false
	}
	if len(s.cfg.Hours) == 0 {
		return true
	}
	hour := s.now().Hour()
	for _, h := range s.cfg.Hours {
		if h == hour {
			return true
		}
	}
	return false
}

// Run calls fn on schedule until ctx is done. Runs never overlap: a slow run delays the next.
func (s *Scheduler) Run(ctx context.Context, fn func(context.Context)) {
	if s.startNow() {
		fn(ctx)
	}
	for ctx.Err() == nil {
		next := s.Next(s.now())
		wait := next.Sub(s.now())
		s.logger.Info("next scan scheduled", zap.Time("at", next), zap.Duration("in", wait))

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-s.after(wait):
			fn(ctx)
		}
	}
	s.logger.Info("scheduler stopped")
}
