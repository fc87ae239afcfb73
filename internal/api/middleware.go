package api

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/audioserve/audioserve/internal/config"
)

// stripURLPathPrefix removes cfg's configured path prefix from every
// incoming request before routing: a configured prefix is stripped from
// every request path before routing. A no-op middleware when
// no prefix is configured.
func stripURLPathPrefix(prefix string) func(http.Handler) http.Handler {
	if prefix == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	prefix = "/" + strings.Trim(prefix, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rest := strings.TrimPrefix(r.URL.Path, prefix); rest != r.URL.Path {
				if rest == "" {
					rest = "/"
				}
				r.URL.Path = rest
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware attaches permissive CORS headers when cfg.CORS is set,
// restricted to Origins matching cfg.CORSRegex when one is configured.
func corsMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.CORS {
				origin := r.Header.Get("Origin")
				if origin != "" && (cfg.CORSRegex == nil || cfg.CORSRegex.MatchString(origin)) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// perIPLimiters hands out one token-bucket limiter per client IP, in the
// style of x/time/rate-based limiters elsewhere in the ecosystem (e.g.
// xg2g's internal/ratelimit), minus any prometheus instrumentation.
type perIPLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerIPLimiters(rps float64) *perIPLimiters {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &perIPLimiters{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (p *perIPLimiters) allow(ip string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[ip] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

// rateLimitMiddleware enforces cfg.LimitRate requests/sec per client IP,
// responding 429 over the bucket. A no-op when LimitRate
// is 0.
func rateLimitMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	if cfg.LimitRate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := newPerIPLimiters(cfg.LimitRate)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientIP(r, cfg.BehindProxy)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the request's client address, honoring
// X-Forwarded-For/X-Real-IP only when the server is configured to trust a
// reverse proxy.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return real
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
