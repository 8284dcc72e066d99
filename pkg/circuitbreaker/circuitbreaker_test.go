package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/nalgeon/be"
)

var errBoom = errors.New("boom")

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute}).
		WithClock(func() time.Time { return now })

	be.Err(t, cb.Execute(func() error { return errBoom }), errBoom)
	be.Equal(t, cb.State(), StateClosed)
	be.Err(t, cb.Execute(func() error { return errBoom }), errBoom)
	be.Equal(t, cb.State(), StateOpen)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	be.Err(t, err, ErrOpen)
	be.True(t, !called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, Cooldown: time.Minute})
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	be.Equal(t, cb.State(), StateClosed)
}

func TestHalfOpenProbeClosesOrReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var transitions []string
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}).WithClock(func() time.Time { return now })

	_ = cb.Execute(func() error { return errBoom })
	be.Equal(t, cb.State(), StateOpen)

	now = now.Add(time.Minute)
	be.Equal(t, cb.State(), StateHalfOpen)

	// failed probe reopens
	be.Err(t, cb.Execute(func() error { return errBoom }), errBoom)
	be.Equal(t, cb.State(), StateOpen)

	now = now.Add(time.Minute)
	be.Err(t, cb.Execute(func() error { return nil }), nil)
	be.Equal(t, cb.State(), StateClosed)

	be.Equal(t, transitions, []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	})
}

func TestReset(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, Cooldown: time.Hour})
	_ = cb.Execute(func() error { return errBoom })
	be.Equal(t, cb.State(), StateOpen)
	cb.Reset()
	be.Equal(t, cb.State(), StateClosed)
}
