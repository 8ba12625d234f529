package httpserver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleExpiry      = 10 * time.Minute
)

// LimitReason describes why a stream was rejected before reaching the registry.
type LimitReason string

const (
	LimitReasonPerIP LimitReason = "per_ip_limit"
	LimitReasonRate  LimitReason = "rate_limit"
)

// ipStreamCounter limits concurrent streams per IP address.
type ipStreamCounter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipStreamCounter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipStreamCounter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ipStreamCounter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// connectRateLimiter is a token bucket per IP for new stream connections.
type connectRateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *connectRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}

	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanup must be called with mu held.
func (l *connectRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleExpiry)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *connectRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// StreamLimits guards the stream endpoint per client IP. The global ceiling
// is enforced by the registry itself.
type StreamLimits struct {
	perIP *ipStreamCounter
	rate  *connectRateLimiter
}

func NewStreamLimits(clock clockwork.Clock, maxPerIP int, connectionsPerSecond float64, burst int) *StreamLimits {
	return &StreamLimits{
		perIP: &ipStreamCounter{ips: make(map[string]int), maxPer: maxPerIP},
		rate: &connectRateLimiter{
			clock:     clock,
			limiters:  make(map[string]*rateLimiterEntry),
			rate:      rate.Limit(connectionsPerSecond),
			burst:     burst,
			cleanupAt: clock.Now().Add(limiterCleanupInterval),
		},
	}
}

// Acquire reserves a stream slot for ip. Every successful Acquire must be
// paired with Release.
func (l *StreamLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.perIP.acquire(ip) {
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *StreamLimits) Release(ip string) {
	l.perIP.release(ip)
}

// Count returns the number of open streams for ip.
func (l *StreamLimits) Count(ip string) int {
	return l.perIP.count(ip)
}
