package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

type ctxKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the user stored by Authenticate.
func UserFrom(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(domain.User)
	return u, ok
}

// CanManageStore reports whether u may act on storeID.
func CanManageStore(u domain.User, storeID string) bool {
	if u.Role == domain.RolePlatformAdmin {
		return true
	}
	return storeID != "" && u.StoreID == storeID
}

// UserGetter loads the current state of a user.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// Guard authenticates requests and enforces roles.
type Guard struct {
	tokens *Tokens
	users  UserGetter
	rp     httpx.Responder
}

func NewGuard(tokens *Tokens, users UserGetter, rp httpx.Responder) *Guard {
	return &Guard{tokens: tokens, users: users, rp: rp}
}

func bearer(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Authenticate requires a valid bearer token and reloads the user it names, so
// deactivation takes effect on the next request.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			g.rp.Fail(w, r, httpx.E("auth.Authenticate", httpx.ErrUnauthenticated, "not authorized, no token"), "")
			return
		}
		claims, err := g.tokens.Parse(raw)
		if err != nil {
			g.rp.Fail(w, r, httpx.Wrap("auth.Authenticate", httpx.ErrUnauthenticated, "not authorized, invalid token", err), "")
			return
		}
		u, err := g.users.GetUser(r.Context(), claims.Subject)
		if storage.IsNotFound(err) {
			g.rp.Fail(w, r, httpx.E("auth.Authenticate", httpx.ErrUnauthenticated, "user no longer exists"), "")
			return
		}
		if err != nil {
			g.rp.Fail(w, r, err, "authentication failed")
			return
		}
		if !u.IsActive {
			g.rp.Fail(w, r, httpx.Forbidden("auth.Authenticate", "account is disabled"), "")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// RequireRole rejects users whose role is not listed. It must run after
// Authenticate.
func (g *Guard) RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFrom(r.Context())
			if !ok {
				g.rp.Fail(w, r, httpx.E("auth.RequireRole", httpx.ErrUnauthenticated, "not authorized"), "")
				return
			}
			for _, role := range roles {
				if u.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			g.rp.Fail(w, r, httpx.Forbidden("auth.RequireRole", "role "+string(u.Role)+" is not allowed to access this route"), "")
		})
	}
}

// RequireStore rejects users without a store. Platform admins pass.
func (g *Guard) RequireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UserFrom(r.Context())
		if u.StoreID == "" && u.Role != domain.RolePlatformAdmin {
			g.rp.Fail(w, r, httpx.Forbidden("auth.RequireStore", "you must own a store"), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter throttles requests per client IP.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	idle      time.Duration
	rp        httpx.Responder
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter allows perMinute requests per IP with the given burst.
func NewRateLimiter(perMinute float64, burst int, rp httpx.Responder) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		perSecond: rate.Limit(perMinute / 60),
		burst:     burst,
		idle:      30 * time.Minute,
		rp:        rp,
		now:       time.Now,
		clients:   make(map[string]*clientLimiter),
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}
	c.last = now
	return c.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than the idle window.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for ip, c := range l.clients {
		if c.last.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// Run sweeps idle clients every interval until ctx is done.
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			l.rp.Fail(w, r, httpx.E("auth.RateLimit", httpx.ErrRateLimited, "too many attempts, try again later"), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already rewritten
// from X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
