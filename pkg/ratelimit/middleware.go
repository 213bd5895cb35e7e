package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
)

// Config holds the request limits of the backend
type Config struct {
	// Per-IP limit over every route the middleware wraps
	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64

	// Extra per-IP limits keyed by "METHOD /path"
	EndpointLimits map[string]EndpointLimit

	// How long an idle bucket is kept
	BucketTTL time.Duration

	// Proxies, as IPs or CIDRs, whose X-Forwarded-For and X-Real-IP headers
	// are believed. Requests from anywhere else are keyed by RemoteAddr.
	TrustedProxies []string

	// Time source for every limiter; nil means time.Now
	Clock Clock
}

// EndpointLimit is the bucket shape of one route
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig allows 100 requests per minute per IP
func DefaultConfig() *Config {
	return &Config{
		PerIPEnabled:    true,
		PerIPCapacity:   100,
		PerIPRefillRate: 100.0 / 60.0,
		BucketTTL:       time.Hour,
		EndpointLimits:  make(map[string]EndpointLimit),
	}
}

type Middleware struct {
	ipLimiter        *RateLimiter
	endpointLimiters map[string]*RateLimiter
	trusted          []netip.Prefix
}

// NewMiddleware creates the limiters described by config
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	var opts []Option
	if config.Clock != nil {
		opts = append(opts, WithClock(config.Clock))
	}

	m := &Middleware{endpointLimiters: make(map[string]*RateLimiter)}
	for _, proxy := range config.TrustedProxies {
		prefix, err := ParseProxy(proxy)
		if err != nil {
			slog.Warn("Ignoring trusted proxy", "proxy", proxy, "err", err)
			continue
		}
		m.trusted = append(m.trusted, prefix)
	}
	if config.PerIPEnabled {
		m.ipLimiter = NewRateLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL, opts...)
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewRateLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL, opts...)
	}
	return m
}

// Handler rejects requests over a limit with 429 and a Retry-After header
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.clientIP(r)
		if m.ipLimiter != nil && ip != "" && !m.ipLimiter.Allow(ip) {
			tooManyRequests(w, r, ip, "ip", m.ipLimiter.RetryAfter(ip))
			return
		}

		endpoint := r.Method + " " + r.URL.Path
		if limiter, ok := m.endpointLimiters[endpoint]; ok {
			key := ip + ":" + endpoint
			if !limiter.Allow(key) {
				tooManyRequests(w, r, ip, "endpoint", limiter.RetryAfter(key))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, ip, limitType string, retryAfter time.Duration) {
	slog.Warn("Rate limit exceeded", "type", limitType, "ip", ip, "method", r.Method, "path", r.URL.Path)

	w.Header().Set("Retry-After", errors.RetryAfterSeconds(retryAfter))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, api.ErrorResponse{
		Code:    errors.ToWireCode(errors.ErrCodeRateLimitExceeded),
		Message: "Too many requests. Please try again later.",
	})
}

// ParseProxy reads a trusted proxy given as a bare IP or a CIDR
func ParseProxy(proxy string) (netip.Prefix, error) {
	proxy = strings.TrimSpace(proxy)
	if strings.Contains(proxy, "/") {
		prefix, err := netip.ParsePrefix(proxy)
		return prefix.Masked(), err
	}
	addr, err := netip.ParseAddr(proxy)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (m *Middleware) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range m.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the RemoteAddr host unless that peer is a trusted proxy. Behind
// one, it is the nearest X-Forwarded-For hop that is not itself trusted,
// then X-Real-IP.
func (m *Middleware) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !m.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !m.isTrusted(hop) {
				return hop
			}
		}
		if first := strings.TrimSpace(hops[0]); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}
