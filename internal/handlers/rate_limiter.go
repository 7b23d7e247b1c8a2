package handlers

import (
	"net"
	"strings"
	"sync"
	"time"
)

// checkoutLimiter throttles anonymous checkouts by client host.
type checkoutLimiter interface {
	// Take consumes one slot for the client. When the window is exhausted it reports
	// how long the caller should wait before the next attempt.
	Take(remoteAddr string) (bool, time.Duration)
}

type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	used    int
	resetAt time.Time
}

func newWindowLimiter(limit int, span time.Duration, clock func() time.Time) checkoutLimiter {
	if limit <= 0 || span <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  span,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *windowLimiter) Take(remoteAddr string) (bool, time.Duration) {
	host := clientHost(remoteAddr)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok || !now.Before(b.resetAt) {
		l.evict(now)
		l.buckets[host] = &bucket{used: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if b.used >= l.limit {
		return false, b.resetAt.Sub(now)
	}
	b.used++
	return true, 0
}

// evict drops expired buckets; callers hold mu.
func (l *windowLimiter) evict(now time.Time) {
	for host, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, host)
		}
	}
}

func clientHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	if remoteAddr == "" {
		return "unknown"
	}
	return remoteAddr
}
