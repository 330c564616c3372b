// Package ratelimiter throttles requests per client IP.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options configures an IPRateLimiter.
type Options struct {
	// Requests may be made in a burst by one client; the bucket refills
	// evenly over Window.
	Requests int
	Window   time.Duration

	// TrustedProxies are the peers whose X-Forwarded-For header is honored.
	// Requests from anyone else are keyed by their socket address.
	TrustedProxies []netip.Prefix

	// Idle clients are forgotten after TTL, checked every Interval.
	TTL      time.Duration
	Interval time.Duration
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	opts    Options
	limit   rate.Limit
	retry   time.Duration
	mu      sync.Mutex
	clients map[netip.Addr]*client
}

// NewIPRateLimiter returns a limiter whose idle entries are swept until ctx
// is cancelled.
func NewIPRateLimiter(ctx context.Context, opts Options) *IPRateLimiter {
	if opts.Requests <= 0 {
		opts.Requests = 1
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}

	every := opts.Window / time.Duration(opts.Requests)
	rl := &IPRateLimiter{
		opts:    opts,
		limit:   rate.Every(every),
		retry:   every,
		clients: make(map[netip.Addr]*client),
	}

	go rl.sweep(ctx)

	return rl
}

// ParsePrefixes reads CIDR blocks or bare addresses, as found in the
// TRUSTED_PROXIES setting.
func ParsePrefixes(raw []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("internal/ratelimiter: trusted proxy %q: %w", s, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("internal/ratelimiter: trusted proxy %q: %w", s, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (rl *IPRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(rl.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for addr, c := range rl.clients {
				if now.Sub(c.lastSeen) > rl.opts.TTL {
					delete(rl.clients, addr)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *IPRateLimiter) trusted(addr netip.Addr) bool {
	for _, p := range rl.opts.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request is accounted to. X-Forwarded-For is
// only read when the socket peer is a trusted proxy; it is walked from the
// right, skipping trusted hops, and the first other valid address wins.
func (rl *IPRateLimiter) ClientIP(r *http.Request) (netip.Addr, bool) {
	remote, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return netip.Addr{}, false
	}
	if !rl.trusted(remote) {
		return remote, true
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseAddr(strings.TrimSpace(hops[i]))
		if !ok {
			break
		}
		if !rl.trusted(hop) {
			return hop, true
		}
	}
	return remote, true
}

// parseAddr accepts "host:port" or a bare address.
func parseAddr(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Allow takes one token from addr's bucket.
func (rl *IPRateLimiter) Allow(addr netip.Addr) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[addr]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rl.limit, rl.opts.Requests)}
		rl.clients[addr] = c
	}
	c.lastSeen = time.Now()
	return c.bucket.Allow()
}

// Middleware answers 429 with a Retry-After hint once a client's bucket is
// empty. Requests without a parseable peer address are let through.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := rl.ClientIP(r)
		if !ok {
			slog.WarnContext(r.Context(), "cannot rate limit request without a peer address",
				"remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r)
			return
		}

		if !rl.Allow(addr) {
			slog.WarnContext(r.Context(), "rate limit exceeded",
				"ip", addr.String(),
				"path", r.URL.Path,
				"method", r.Method)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.retry.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests, try again later"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
