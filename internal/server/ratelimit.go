package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/MrWong99/skystories/internal/clock"
)

// limiterIdle is how long a client may stay silent before its bucket is
// forgotten.
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterPool keeps one token bucket per client key.
type limiterPool struct {
	limit rate.Limit
	burst int
	clock clock.Clock

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newLimiterPool(rps float64, burst int, clk clock.Clock) *limiterPool {
	if burst < 1 {
		burst = 1
	}
	return &limiterPool{
		limit:     rate.Limit(rps),
		burst:     burst,
		clock:     clk,
		clients:   make(map[string]*clientLimiter),
		lastSweep: clk.Now(),
	}
}

// allow reports whether key may start another session now.
func (p *limiterPool) allow(key string) bool {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastSweep) >= limiterIdle {
		for k, c := range p.clients {
			if now.Sub(c.seen) >= limiterIdle {
				delete(p.clients, k)
			}
		}
		p.lastSweep = now
	}

	c, ok := p.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(p.limit, p.burst)}
		p.clients[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// limited rejects requests from clients that exceeded the session-start rate.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			s.metrics.RateLimited.Add(r.Context(), 1,
				metric.WithAttributes(attribute.String("route", r.Pattern)))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many sessions started, slow down")
			return
		}
		next(w, r)
	}
}

// clientIP returns the host part of the peer address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
