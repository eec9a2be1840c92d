package mcpserver

import (
	"sync"

	"golang.org/x/time/rate"
)

const defaultRefillPerSecond = 100.0 / 60.0

// limiterSet is a token bucket per client identity, keyed by whatever
// string the transport considers a client (a session id, an API key hash,
// or "" for an unauthenticated single-client transport like stdio).
// SPEC_FULL.md §4.1 step 2: default capacity 100, refill 100/60 per second.
type limiterSet struct {
	mu       sync.Mutex
	capacity int
	buckets  map[string]*rate.Limiter
}

func newLimiterSet(capacity int) *limiterSet {
	if capacity <= 0 {
		capacity = 100
	}
	return &limiterSet{capacity: capacity, buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether clientID has a token available, consuming one if
// so.
func (s *limiterSet) Allow(clientID string) bool {
	s.mu.Lock()
	l, ok := s.buckets[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(defaultRefillPerSecond), s.capacity)
		s.buckets[clientID] = l
	}
	s.mu.Unlock()
	return l.Allow()
}
