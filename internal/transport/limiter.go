package transport

import "sync"

// ipLimiter bounds concurrent inbound channels per remote IP. A zero or
// negative max disables the limit.
type ipLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func newIPLimiter(max int) *ipLimiter {
	return &ipLimiter{
		max:    max,
		counts: make(map[string]int),
	}
}

func (l *ipLimiter) acquire(ip string) bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] >= l.max {
		return false
	}
	l.counts[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	if l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] <= 1 {
		delete(l.counts, ip)
		return
	}
	l.counts[ip]--
}
