package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpen is returned when the circuit is open and calls are short-circuited
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe budget is used up
	ErrTooManyRequests = errors.New("circuit breaker: too many half-open requests")
)

// Settings holds the configuration for a circuit breaker
type Settings struct {
	Name string
	// MaxHalfOpen is the number of probe calls allowed while half-open
	MaxHalfOpen uint32
	// Interval is the window after which consecutive failures are forgotten
	Interval time.Duration
	// Timeout is how long the circuit stays open before probing
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// OnStateChange runs with the breaker lock held and must not call back into it
	OnStateChange func(name string, from State, to State)
	// IsFailure decides whether an error counts against the circuit.
	// Defaults to every error except context cancellation.
	IsFailure func(err error) bool

	now func() time.Time
}

// Counts is a snapshot of the breaker counters
type Counts struct {
	Failures  uint32 `json:"failures"`
	Successes uint32 `json:"successes"`
	InFlight  uint32 `json:"half_open_in_flight"`
}

// CircuitBreaker guards calls to a flaky dependency
type CircuitBreaker struct {
	settings Settings

	mu          sync.Mutex
	state       State
	counts      Counts
	lastFailure time.Time
	openedUntil time.Time
}

// New creates a circuit breaker with the given settings
func New(settings Settings) *CircuitBreaker {
	if settings.MaxHalfOpen == 0 {
		settings.MaxHalfOpen = 1
	}
	if settings.Interval == 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = defaultIsFailure
	}
	if settings.now == nil {
		settings.now = time.Now
	}
	return &CircuitBreaker{settings: settings, state: StateClosed}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn if the circuit allows it and records the outcome
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	halfOpen, err := cb.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.after(halfOpen, false)
			panic(r)
		}
	}()

	err = fn(ctx)
	cb.after(halfOpen, !cb.settings.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) before() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.settings.now()
	switch cb.state {
	case StateClosed:
		if !cb.lastFailure.IsZero() && now.Sub(cb.lastFailure) > cb.settings.Interval {
			cb.counts.Failures = 0
		}
		return false, nil
	case StateOpen:
		if now.Before(cb.openedUntil) {
			return false, ErrOpen
		}
		cb.setState(StateHalfOpen)
		cb.counts = Counts{}
	}

	if cb.counts.InFlight >= cb.settings.MaxHalfOpen {
		return true, ErrTooManyRequests
	}
	cb.counts.InFlight++
	return true, nil
}

func (cb *CircuitBreaker) after(halfOpen, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.settings.now()
	if halfOpen && cb.counts.InFlight > 0 {
		cb.counts.InFlight--
	}

	if success {
		if cb.state == StateHalfOpen {
			cb.counts.Successes++
			if cb.counts.Successes >= cb.settings.SuccessThreshold {
				cb.setState(StateClosed)
				cb.counts = Counts{}
			}
		} else {
			cb.counts.Successes++
		}
		return
	}

	cb.lastFailure = now
	cb.counts.Failures++
	switch cb.state {
	case StateClosed:
		if cb.counts.Failures >= cb.settings.FailureThreshold {
			cb.trip(now)
		}
	case StateHalfOpen:
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.setState(StateOpen)
	cb.openedUntil = now.Add(cb.settings.Timeout)
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, prev, state)
	}
}

// State returns the current state, promoting an expired open circuit to half-open
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.settings.now().Before(cb.openedUntil) {
		cb.setState(StateHalfOpen)
		cb.counts = Counts{}
	}
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// Counts returns a snapshot of the current counters
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}
