package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cl3t4p/ip-notifier/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	// idleLimiterTTL is how long a client limiter survives without requests.
	idleLimiterTTL = 10 * time.Minute
	sweepInterval  = time.Minute
)

// Limit is a token bucket for one route, applied per client IP.
type Limit struct {
	Method string // empty matches any method
	Prefix string // empty matches any path
	RPS    rate.Limit
	Burst  int
}

func (l Limit) key() string {
	if l.Method == "" && l.Prefix == "" {
		return "default"
	}
	return l.Method + " " + l.Prefix
}

func (l Limit) matches(method, path string) bool {
	if l.Method != "" && !strings.EqualFold(l.Method, method) {
		return false
	}
	return l.Prefix == "" || strings.HasPrefix(path, l.Prefix)
}

// DefaultLimits lets a dashboard poll the status endpoint every second and
// keeps everything else at one request per second.
var DefaultLimits = []Limit{
	{Method: http.MethodGet, Prefix: "/admin/v1/status", RPS: 2, Burst: 10},
	{RPS: 1, Burst: 5},
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per route and client IP. The first
// matching Limit wins.
type RateLimiter struct {
	limits []Limit
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter // "route|ip"

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter starts a background sweep of idle clients; call Stop to
// release it. No limits means DefaultLimits.
func NewRateLimiter(logger *slog.Logger, limits ...Limit) *RateLimiter {
	if len(limits) == 0 {
		limits = DefaultLimits
	}
	rl := &RateLimiter{
		limits:  limits,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > idleLimiterTTL {
			delete(rl.clients, key)
		}
	}
}

// Clients returns the number of tracked route/client pairs.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, ok := rl.match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if !rl.limiter(limit, ip).Allow() {
			metrics.AdminRateLimited.WithLabelValues(limit.key()).Inc()
			rl.logger.Warn("status server rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", ip,
			)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) match(method, path string) (Limit, bool) {
	for _, l := range rl.limits {
		if l.matches(method, path) {
			return l, true
		}
	}
	return Limit{}, false
}

func (rl *RateLimiter) limiter(l Limit, ip string) *rate.Limiter {
	key := l.key() + "|" + ip
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if c, ok := rl.clients[key]; ok {
		c.lastSeen = now
		return c.limiter
	}
	c := &clientLimiter{limiter: rate.NewLimiter(l.RPS, l.Burst), lastSeen: now}
	rl.clients[key] = c
	return c.limiter
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
