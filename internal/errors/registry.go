package errors

import "sync"

// BreakerRegistry tracks the circuit breakers of a process so health
// reporting can name the open ones.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds a breaker under its name, replacing any previous one.
func (r *BreakerRegistry) Register(cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.Name()] = cb
}

// States returns a snapshot of breaker states keyed by name.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State().String()
	}
	return states
}

// OpenNames returns the names of breakers currently in the OPEN state.
func (r *BreakerRegistry) OpenNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, cb := range r.breakers {
		if cb.State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}
