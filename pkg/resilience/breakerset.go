package resilience

import (
	"sync"
)

const defaultMaxBreakers = 1024

// BreakerSet keeps one CircuitBreaker per partition (a firm, a caller's
// model key) so one tenant's failures never open the circuit for another.
// State changes are reported under the set's name. Past max partitions a
// closed breaker is evicted to make room.
type BreakerSet struct {
	name string
	cfg  CircuitBreakerConfig
	max  int

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewBreakerSet(name string, cfg CircuitBreakerConfig, max int) *BreakerSet {
	if max <= 0 {
		max = defaultMaxBreakers
	}
	if report := cfg.OnStateChange; report != nil {
		cfg.OnStateChange = func(_ string, state float64) { report(name, state) }
	}
	return &BreakerSet{name: name, cfg: cfg, max: max, breakers: map[string]*CircuitBreaker{}}
}

// Get returns the breaker for partition, creating it on first use.
func (s *BreakerSet) Get(partition string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[partition]; ok {
		return cb
	}
	if len(s.breakers) >= s.max {
		s.evictLocked()
	}
	cb := NewCircuitBreaker(s.name+"["+partition+"]", s.cfg)
	s.breakers[partition] = cb
	return cb
}

func (s *BreakerSet) Execute(partition string, fn func() error) error {
	return s.Get(partition).Execute(fn)
}

func (s *BreakerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.breakers)
}

// evictLocked drops a closed breaker, or any breaker when all are tripped.
func (s *BreakerSet) evictLocked() {
	victim := ""
	for p, cb := range s.breakers {
		victim = p
		if cb.State() == "closed" {
			break
		}
	}
	delete(s.breakers, victim)
}
