// Package circuitbreaker stops calling endpoints that keep failing.
//
// Each key moves closed → open after Threshold consecutive failures, stays
// open for OpenFor, then lets a single probe through (half-open). The probe's
// outcome closes or reopens the circuit.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Breaker.Do while a circuit rejects calls.
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
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

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paybox",
	Subsystem: "circuitbreaker",
	Name:      "transitions_total",
	Help:      "Circuit state transitions by breaker and target state.",
}, []string{"breaker", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks one circuit per key, such as one per webhook subscription.
type Breaker struct {
	name      string
	threshold int
	openFor   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
	onChange func(key string, from, to State)
}

// New creates a breaker. name labels its metrics.
func New(name string, threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
}

// OnTransition registers fn to run, synchronously and without the lock
// held, after every state change.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a call for key may proceed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return true
	}
	var notify func()
	allowed := true
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) >= b.openFor {
			notify = b.transition(c, key, StateHalfOpen)
		} else {
			allowed = false
		}
	case StateHalfOpen:
		allowed = false
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
	return allowed
}

// RecordSuccess closes key's circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	c.failures = 0
	notify := b.transition(c, key, StateClosed)
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// RecordFailure counts a failure and opens the circuit when the threshold
// is reached or a probe failed.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	var notify func()
	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
		c.openedAt = b.now()
		notify = b.transition(c, key, StateOpen)
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Do runs fn if key's circuit allows it and records the outcome.
func (b *Breaker) Do(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// State returns key's state. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Forget drops key, for example once its subscription is deleted.
func (b *Breaker) Forget(key string) {
	b.mu.Lock()
	delete(b.circuits, key)
	b.mu.Unlock()
}

// transition must be called with b.mu held. The returned func, if any,
// runs the callback and must be called after unlocking.
func (b *Breaker) transition(c *circuit, key string, to State) func() {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	transitionsTotal.WithLabelValues(b.name, to.String()).Inc()
	if b.onChange == nil {
		return nil
	}
	fn := b.onChange
	return func() { fn(key, from, to) }
}
