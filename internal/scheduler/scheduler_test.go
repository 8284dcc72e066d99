package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"go.uber.org/zap/zaptest"
)

func TestNextInterval(t *testing.T) {
	s, err := New(Config{}, nil)
	be.Err(t, err, nil)
	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	be.Equal(t, s.Next(now), now.Add(time.Hour))
}

func TestNextHours(t *testing.T) {
	s, err := New(Config{Hours: []int{21, 9, 16}}, nil)
	be.Err(t, err, nil)

	at := func(d, h, m int) time.Time { return time.Date(2026, 1, d, h, m, 0, 0, time.UTC) }
	be.Equal(t, s.Next(at(1, 8, 59)), at(1, 9, 0))
	be.Equal(t, s.Next(at(1, 9, 0)), at(1, 16, 0))
	be.Equal(t, s.Next(at(1, 17, 0)), at(1, 21, 0))
	be.Equal(t, s.Next(at(1, 22, 0)), at(2, 9, 0))
}

func TestRejectsBadHour(t *testing.T) {
	_, err := New(Config{Hours: []int{24}}, nil)
	be.Err(t, err, "out of range")
}

func TestRunFiresUntilCancelled(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var waits []time.Duration
	after := func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		now = now.Add(d)
		ch := make(chan time.Time, 1)
		ch <- now
		return ch
	}
	s, err := New(Config{Interval: 15 * time.Minute, RunAtStart: true}, zaptest.NewLogger(t),
		WithClock(func() time.Time { return now }, after))
	be.Err(t, err, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	s.Run(ctx, func(context.Context) {
		runs++
		if runs == 3 {
			cancel()
		}
	})
	be.Equal(t, runs, 3)
	be.Equal(t, waits[0], 15*time.Minute)
}

func TestNextHoursAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	s, err := New(Config{Hours: []int{9}}, nil)
	be.Err(t, err, nil)

	// clocks spring forward at 02:00 on 2026-03-08 and fall back on 2026-11-01
	spring := s.Next(time.Date(2026, 3, 8, 0, 30, 0, 0, loc))
	be.Equal(t, spring, time.Date(2026, 3, 8, 9, 0, 0, 0, loc))
	be.Equal(t, spring.Hour(), 9)

	fall := s.Next(time.Date(2026, 10, 31, 22, 0, 0, 0, loc))
	be.Equal(t, fall.Day(), 1)
	be.Equal(t, fall.Hour(), 9)
}

func TestRunAtStartRespectsHours(t *testing.T) {
	cases := []struct {
		name  string
		start time.Time
		runs  int
	}{
		{"outside hours", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), 0},
		{"inside hours", time.Date(2026, 1, 1, 9, 15, 0, 0, time.UTC), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			// stop at the first wait
			after := func(time.Duration) <-chan time.Time {
				cancel()
				return make(chan time.Time)
			}
			s, err := New(Config{Hours: []int{9, 16}, RunAtStart: true}, zaptest.NewLogger(t),
				WithClock(func() time.Time { return tc.start }, after))
			be.Err(t, err, nil)

			runs := 0
			s.Run(ctx, func(context.Context) { runs++ })
			be.Equal(t, runs, tc.runs)
		})
	}
}
