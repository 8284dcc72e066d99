package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State of a breaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected until Cooldown elapses
	StateHalfOpen              // a limited number of probe calls pass through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker.
type Config struct {
	// Consecutive failures that trip a closed breaker.
	FailureThreshold int
	// Successful probes that close a half-open breaker.
	SuccessThreshold int
	// How long the breaker stays open before probing.
	Cooldown time.Duration
	// Concurrent probes allowed while half-open.
	HalfOpenMaxRequests int
	// OnStateChange, if set, is called (outside the lock) on every transition.
	OnStateChange func(from, to State)
}

// DefaultConfig suits a slow remote dependency called a handful of times per cycle.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Cooldown:            time.Minute,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker guards calls to a flaky dependency.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Execute runs fn unless the breaker is open, and records its result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err == nil)
	return err
}

// State returns the current state, promoting open to half-open once the cooldown elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to := cb.refresh()
	state := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	from, to := cb.refresh()
	var err error
	switch cb.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxRequests {
			err = ErrOpen
		} else {
			cb.inFlight++
		}
	}
	cb.mu.Unlock()
	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) after(ok bool) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		if ok {
			cb.failures = 0
		} else {
			cb.failures++
			if cb.failures >= cb.cfg.FailureThreshold {
				cb.trip()
			}
		}
	case StateHalfOpen:
		cb.inFlight--
		if !ok {
			cb.trip()
		} else {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.successes = 0
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()
	if from != to {
		cb.notify(from, to)
	}
}

// refresh must hold mu.
func (cb *CircuitBreaker) refresh() (State, State) {
	from := cb.state
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.inFlight = 0
	}
	return from, cb.state
}

// trip must hold mu.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.inFlight = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0
}
