package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	streamRateCleanupInterval = 5 * time.Minute
	streamRateIdleExpiry      = 10 * time.Minute
)

// LimitReason describes why a stream was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// globalStreamLimiter caps concurrent streams on this instance with a
// lock-free counter.
type globalStreamLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalStreamLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalStreamLimiter) release() {
	l.current.Add(-1)
}

// ipStreamLimiter caps concurrent streams per client IP.
type ipStreamLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipStreamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipStreamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ipStreamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// openRateLimiter limits how fast one IP may open new streams, using a
// token bucket per IP. Idle buckets are swept lazily.
type openRateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

func (l *openRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-streamRateIdleExpiry)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(streamRateCleanupInterval)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *openRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// ConnectionLimits guards stream endpoints with an open rate per IP, a
// global concurrency cap and a per-IP concurrency cap.
type ConnectionLimits struct {
	global *globalStreamLimiter
	perIP  *ipStreamLimiter
	rate   *openRateLimiter
}

func NewConnectionLimits(globalMax, perIPMax int, opensPerSecond float64, burst int, clock clockwork.Clock) *ConnectionLimits {
	return &ConnectionLimits{
		global: &globalStreamLimiter{max: int64(globalMax)},
		perIP:  &ipStreamLimiter{ips: make(map[string]int), maxPer: perIPMax},
		rate: &openRateLimiter{
			clock:     clock,
			limiters:  make(map[string]*rateEntry),
			rate:      rate.Limit(opensPerSecond),
			burst:     burst,
			cleanupAt: clock.Now().Add(streamRateCleanupInterval),
		},
	}
}

// Acquire reserves a stream slot for ip. On success the caller must call
// Release exactly once.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

// Active returns the number of streams currently holding a slot.
func (l *ConnectionLimits) Active() int64 {
	return l.global.current.Load()
}
