package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
)

const (
	defaultRatePerMinute = 10

	// Tracked clients are capped: idle limiters go first, then least recently seen ones
	maxClients = 1000
	clientIdle = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit throttles requests per client ip with token bucket
// Client ip is taken from RemoteAddr, so chi RealIP has to run earlier when behind proxy
type RateLimit struct {
	perMinute  int
	maxClients int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func NewRateLimit(perMinute int) *RateLimit {
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}

	return &RateLimit{
		perMinute:  perMinute,
		maxClients: maxClients,
		clients:    make(map[string]*clientLimiter),
	}
}

func (m *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter(ClientIP(r)).Allow() {
			retryAfter := time.Minute / time.Duration(m.perMinute)
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retryAfter.Seconds()))))
			render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimit) limiter(clientIP string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if c, ok := m.clients[clientIP]; ok {
		c.lastSeen = now
		return c.limiter
	}

	m.gcLocked(now)
	c := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.perMinute)), m.perMinute),
		lastSeen: now,
	}
	m.clients[clientIP] = c

	return c.limiter
}

func (m *RateLimit) gcLocked(now time.Time) {
	if len(m.clients) < m.maxClients {
		return
	}

	cutoff := now.Add(-clientIdle)
	for ip, c := range m.clients {
		if c.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}

	// Burst of distinct clients: make room by evicting the least recently seen
	for len(m.clients) >= m.maxClients {
		var oldestIP string
		var oldest time.Time
		for ip, c := range m.clients {
			if oldestIP == "" || c.lastSeen.Before(oldest) {
				oldestIP, oldest = ip, c.lastSeen
			}
		}
		delete(m.clients, oldestIP)
	}
}

// ClientIP returns host part of request remote address
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
