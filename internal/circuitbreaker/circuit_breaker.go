package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position. The numeric value is exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config tunes a breaker.
type Config struct {
	// MaxRequests caps trial calls while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counters. Zero keeps them forever.
	Interval time.Duration
	// Timeout is how long the breaker stays open before allowing trials.
	Timeout time.Duration
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive trial successes that close it again.
	SuccessThreshold uint32
	OnStateChange    func(name string, from State, to State)
	// IsFailure decides whether an error counts against the breaker.
	// Nil means every non-nil error except caller cancellation counts.
	IsFailure func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts covers the current window only; every transition starts a new one.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards calls to one backend (graph store, LLM service,
// facts store) and fails fast while that backend is unhealthy.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time

	mu        sync.Mutex
	state     State
	window    uint64
	counts    Counts
	deadline  time.Time
	listeners []func(name string, from State, to State)
}

func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{
		name:   name,
		cfg:    config,
		logger: logger.With(zap.String("breaker", name)),
		clock:  time.Now,
		state:  StateClosed,
	}
	cb.startWindow(cb.clock())
	return cb
}

// Name returns the breaker name used in logs and metrics.
func (cb *CircuitBreaker) Name() string { return cb.name }

// OnTransition adds a listener called on every state change. Listeners run
// with the breaker locked and must not call back into it.
func (cb *CircuitBreaker) OnTransition(fn func(name string, from State, to State)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, fn)
	cb.mu.Unlock()
}

// Execute runs fn unless the breaker rejects it. A context that is already
// done returns its error without touching the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			done(false)
			panic(r)
		}
	}()

	err = fn()
	done(!cb.countsAsFailure(err))
	return err
}

// State reports the position, applying any expired timeout first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tick(cb.clock())
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case cb.cfg.IsFailure != nil:
		return cb.cfg.IsFailure(err)
	default:
		return !errors.Is(err, context.Canceled)
	}
}

// admit reserves a slot in the current window and returns the callback that
// settles it. Results from an earlier window are dropped.
func (cb *CircuitBreaker) admit() (func(ok bool), error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tick(cb.clock())
	switch cb.state {
	case StateOpen:
		return nil, ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.cfg.MaxRequests {
			return nil, ErrTooManyRequests
		}
	}
	cb.counts.Requests++

	window := cb.window
	return func(ok bool) { cb.settle(window, ok) }, nil
}

func (cb *CircuitBreaker) settle(window uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	cb.tick(now)
	if window != cb.window {
		return
	}

	c := &cb.counts
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.moveTo(StateClosed, now)
		}
		return
	}

	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || c.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		cb.moveTo(StateOpen, now)
	}
}

// tick applies time-based changes: closed windows roll over and an open
// breaker becomes half-open once its timeout passes.
func (cb *CircuitBreaker) tick(now time.Time) {
	if cb.deadline.IsZero() || now.Before(cb.deadline) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.startWindow(now)
	case StateOpen:
		cb.moveTo(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	failures := cb.counts.ConsecutiveFailures
	cb.state = to
	cb.startWindow(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	for _, fn := range cb.listeners {
		fn(cb.name, from, to)
	}

	log := cb.logger.Info
	if to == StateOpen {
		log = cb.logger.Warn
	}
	log("Circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint32("consecutive_failures", failures),
	)
}

func (cb *CircuitBreaker) startWindow(now time.Time) {
	cb.window++
	cb.counts = Counts{}
	cb.deadline = time.Time{}
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	}
}
