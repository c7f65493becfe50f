// Package circuitbreaker stops calling an upstream that keeps failing and
// lets a few probe calls through once a cooldown has passed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/portfolio-dashboard/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the upstream has recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open probe budget is spent
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Cooldown is how long the circuit stays open before probing
	Cooldown time.Duration
	// HalfOpenMaxCalls successful probes close the circuit again
	HalfOpenMaxCalls int
	// IsFailure decides which errors count against the upstream. The default
	// ignores context cancellation and deadlines, which belong to the caller.
	IsFailure func(err error) bool
	Clock     func() time.Time
	Logger    *logging.Logger
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// IsUpstreamFailure reports whether err should count against the upstream
func IsUpstreamFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Breaker implements the circuit breaker pattern. A nil *Breaker runs every
// call unguarded.
type Breaker struct {
	name             string
	maxFailures      int
	cooldown         time.Duration
	halfOpenMaxCalls int
	isFailure        func(error) bool
	clock            func() time.Time
	logger           *logging.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	probes           int
	probeSuccesses   int
	lastStateChange  time.Time
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = IsUpstreamFailure
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Breaker{
		name:             cfg.Name,
		maxFailures:      cfg.MaxFailures,
		cooldown:         cfg.Cooldown,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		isFailure:        cfg.IsFailure,
		clock:            cfg.Clock,
		logger:           cfg.Logger.WithField("circuit_breaker", cfg.Name),
		state:            StateClosed,
		lastStateChange:  cfg.Clock(),
	}
}

// Execute runs fn unless the circuit is open, and records its outcome
func (b *Breaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock().Sub(b.lastStateChange) < b.cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.logger.Info("Circuit breaker half-open, probing upstream")
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.halfOpenMaxCalls {
			return ErrTooManyRequests
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFails = 0
		if b.state == StateHalfOpen {
			b.probeSuccesses++
			if b.probeSuccesses >= b.halfOpenMaxCalls {
				b.setState(StateClosed)
				b.logger.Info("Circuit breaker closed after successful recovery")
			}
		}
		return
	}

	if !b.isFailure(err) {
		// neither outcome; hand the probe slot back
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
		return
	}

	b.consecutiveFails++
	switch b.state {
	case StateClosed:
		if b.consecutiveFails >= b.maxFailures {
			b.setState(StateOpen)
			b.logger.WithError(err).WithField("consecutive_failures", b.consecutiveFails).
				Warn("Circuit breaker opened due to failures")
		}
	case StateHalfOpen:
		// any failed probe reopens the circuit
		b.setState(StateOpen)
		b.logger.WithError(err).Warn("Circuit breaker reopened after failure in half-open state")
	}
}

// setState changes state and clears the probe counters
func (b *Breaker) setState(state State) {
	b.state = state
	b.lastStateChange = b.clock()
	b.probes = 0
	b.probeSuccesses = 0
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// Stats returns a point-in-time view of the breaker
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:             b.name,
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		LastStateChange:  b.lastStateChange,
	}
}
