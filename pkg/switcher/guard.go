package switcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "closed"
}

// BreakerConfig configures the per-profile circuit breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Zero disables it.
	FailureThreshold int `yaml:"failure_threshold" json:"failureThreshold"`
	// OpenTimeout is how long an open circuit rejects calls before one probe
	// call is let through.
	OpenTimeout time.Duration `yaml:"open_timeout" json:"openTimeout"`
}

type circuitBreaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	now         func() time.Time
	failures    int
	lastFailure time.Time
	state       circuitState
	probing     bool
}

func newCircuitBreaker(cfg BreakerConfig, now func() time.Time) *circuitBreaker {
	return &circuitBreaker{cfg: cfg, now: now}
}

// Allow reports whether a call may proceed. In half-open state only one
// probe call is admitted until it reports back.
func (cb *circuitBreaker) Allow() bool {
	if cb.cfg.FailureThreshold <= 0 {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.OpenTimeout {
			return false
		}
		cb.state = circuitHalfOpen
		cb.probing = true
		return true
	case circuitHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return true
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = circuitClosed
	cb.probing = false
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	cb.probing = false
	if cb.state == circuitHalfOpen || (cb.cfg.FailureThreshold > 0 && cb.failures >= cb.cfg.FailureThreshold) {
		cb.state = circuitOpen
	}
}

// Release ends a half-open probe that was abandoned by the caller without
// counting it either way.
func (cb *circuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

func (cb *circuitBreaker) State() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// providerGuard throttles one provider/model with a request-rate limiter and
// a concurrency semaphore.
type providerGuard struct {
	breaker *circuitBreaker
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

func newProviderGuard(p ProviderProfile, breaker BreakerConfig, now func() time.Time) *providerGuard {
	g := &providerGuard{breaker: newCircuitBreaker(breaker, now)}
	if rl := p.RateLimit; rl.RequestsPerMinute > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerMinute/60), burst)
	}
	if p.RateLimit.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(p.RateLimit.MaxConcurrent)
	}
	return g
}

// acquire waits for the rate limiter and a concurrency slot. The returned
// release must be called when acquire succeeds.
func (g *providerGuard) acquire(ctx context.Context) (func(), error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if g.sem == nil {
		return func() {}, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("concurrency slot wait: %w", err)
	}
	return func() { g.sem.Release(1) }, nil
}

// guards lazily creates one providerGuard per profile key.
type guards struct {
	mu      sync.Mutex
	byKey   map[string]*providerGuard
	breaker BreakerConfig
	now     func() time.Time
}

func newGuards(breaker BreakerConfig, now func() time.Time) *guards {
	return &guards{byKey: make(map[string]*providerGuard), breaker: breaker, now: now}
}

func (g *guards) get(p ProviderProfile) *providerGuard {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pg, ok := g.byKey[p.Key()]; ok {
		return pg
	}
	pg := newProviderGuard(p, g.breaker, g.now)
	g.byKey[p.Key()] = pg
	return pg
}
