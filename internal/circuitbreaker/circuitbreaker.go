// Package circuitbreaker adapts sony/gobreaker to the service: consecutive
// upstream failures open the circuit, and after a cool-down a limited number of
// trial calls decide whether it closes again.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned without calling fn while the circuit is open or the
// half-open trial budget is used up.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive trial successes close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// Interval clears closed-state counts periodically; 0 never clears.
	Interval  time.Duration
	Component string
	// IsFailure decides whether an error from fn counts against the circuit.
	// Defaults to every non-nil error except context cancellation.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

// CircuitBreaker protects upstream calls.
type CircuitBreaker struct {
	cb        *gobreaker.CircuitBreaker
	component string
	isFailure func(error) bool
}

// New creates a CircuitBreaker with the given config, filling zero fields with defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}

	threshold := uint32(cfg.FailureThreshold)
	settings := gobreaker.Settings{
		Name:        cfg.Component,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	}
	if cfg.OnStateChange != nil {
		onChange := cfg.OnStateChange
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onChange(fromGobreaker(from), fromGobreaker(to))
		}
	}

	return &CircuitBreaker{
		cb:        gobreaker.NewCircuitBreaker(settings),
		component: cfg.Component,
		isFailure: cfg.IsFailure,
	}
}

// Call runs fn when the circuit allows it. Errors that IsFailure rejects are
// returned to the caller but recorded as successes, so a caller asking for an
// unknown place cannot open the circuit for everyone.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	var callErr error
	_, err := b.cb.Execute(func() (interface{}, error) {
		callErr = fn(ctx)
		if callErr != nil && b.isFailure(callErr) {
			return nil, callErr
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrOpen, b.component)
	}
	if err != nil {
		return err
	}
	return callErr
}

// State returns the current state (for metrics and health).
func (b *CircuitBreaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Component returns the name the breaker was configured with.
func (b *CircuitBreaker) Component() string {
	return b.component
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}
