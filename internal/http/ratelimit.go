package http

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// limiter applies a fixed per-minute request budget per client address.
// Stale clients are swept periodically so the map stays bounded.
type limiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow

	perMinute int
	done      chan struct{}
	once      sync.Once
}

type clientWindow struct {
	windowStart time.Time
	requests    int
}

func newLimiter(perMinute int) *limiter {
	l := &limiter{
		clients:   make(map[string]*clientWindow),
		perMinute: perMinute,
		done:      make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *limiter) allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.clients[clientIP]
	if !ok || now.Sub(c.windowStart) > time.Minute {
		l.clients[clientIP] = &clientWindow{windowStart: now, requests: 1}
		return true
	}

	if c.requests >= l.perMinute {
		return false
	}
	c.requests++
	return true
}

func (l *limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for ip, c := range l.clients {
				if c.windowStart.Before(cutoff) {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *limiter) stop() {
	l.once.Do(func() { close(l.done) })
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
