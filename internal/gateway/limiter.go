// ABOUTME: Per-user token bucket pool for the message routes
// ABOUTME: Idle limiters are pruned once the pool grows past its soft cap

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSoftCap  = 10000
	limiterIdleTime = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one rate.Limiter per key
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int
	now   func() time.Time
}

// newLimiterPool returns nil when rps is not positive, which disables limiting
func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		now:   time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(p.m) >= limiterSoftCap {
		p.pruneLocked(now)
	}
	e := &limiterEntry{limiter: rate.NewLimiter(p.rps, p.burst), lastSeen: now}
	p.m[key] = e
	return e.limiter
}

func (p *limiterPool) pruneLocked(now time.Time) {
	for k, e := range p.m {
		if now.Sub(e.lastSeen) > limiterIdleTime {
			delete(p.m, k)
		}
	}
}

// Allow reports whether key may proceed. A nil pool allows everything.
func (p *limiterPool) Allow(key string) bool {
	if p == nil {
		return true
	}
	return p.get(key).AllowN(p.now(), 1)
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
