package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

var defaultPrivateCIDRs = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// LocalOnly rejects any request whose remote address does not fall inside
// cidrs (RFC1918 + loopback when cidrs is empty), returning HTTP 403.
//
// Grounded on spec.md §3 item 12 and §6's "localhost or RFC1918 only"
// contract — the teacher's handler package has no equivalent, since its
// deployment sits behind a cluster ingress rather than serving loopback
// clients directly.
func LocalOnly(cidrs []string) gin.HandlerFunc {
	if len(cidrs) == 0 {
		cidrs = defaultPrivateCIDRs
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		nets = append(nets, n)
	}

	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ipAllowed(ip, nets) {
			c.AbortWithStatusJSON(http.StatusForbidden, Envelope{Success: false, Error: "remote address not permitted"})
			return
		}
		c.Next()
	}
}

func ipAllowed(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

type remoteLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimit applies a token-bucket limiter per remote address, evicting
// entries idle for longer than 30 minutes.
//
// Grounded on gosuda-Aira's internal/server/middleware/ratelimit.go
// (RateLimitByIP), adapted from net/http to gin.HandlerFunc and keyed by
// RemoteAddr rather than a tenant/auth context this runtime doesn't have.
func RateLimit(requestsPerSecond float64, burst int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*remoteLimiter)
	)

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			cutoff := time.Now().Add(-30 * time.Minute)
			for addr, rl := range limiters {
				if rl.lastAccess.Before(cutoff) {
					delete(limiters, addr)
				}
			}
			mu.Unlock()
		}
	}()

	limiterFor := func(addr string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		rl, ok := limiters[addr]
		if !ok {
			rl = &remoteLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
			limiters[addr] = rl
		}
		rl.lastAccess = time.Now()
		return rl.limiter
	}

	return func(c *gin.Context) {
		addr := c.Request.RemoteAddr
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		if !limiterFor(addr).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Envelope{Success: false, Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// sseHeaders sets the headers spec.md §6 requires for every SSE response.
func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}
