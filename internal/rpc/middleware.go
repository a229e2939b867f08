package rpc

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mqc3/scheduler/internal/clock"
	"github.com/mqc3/scheduler/internal/statusmsg"
	"github.com/mqc3/scheduler/internal/tokenservice"
)

// RecoveryMiddleware converts a panicking handler into an INTERNAL_ERROR
// response instead of crashing the server.
func RecoveryMiddleware(catalog *statusmsg.Catalog, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in RPC handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeSchedulerError(w, catalog.Get("INTERNAL_ERROR", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware stamps every request with an id, generating one when
// the caller did not supply X-Request-ID.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
		})
	}
}

// CORSMiddleware mirrors the admin API's permissive-but-explicit CORS
// handling: only echoes an Origin the caller allow-listed.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
					break
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

// AuthMiddleware resolves the bearer token against the token service and
// stashes the resolved tokenservice.Info in the request context. Every
// failure mode here becomes INVALID_TOKEN except a token-service call
// failure, which is uniformly INTERNAL_ERROR per the error handling design.
func AuthMiddleware(tokens *tokenservice.Client, catalog *statusmsg.Catalog, clk clock.Clock, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				writeSchedulerError(w, catalog.Get("INVALID_TOKEN", map[string]string{"reason": "missing or malformed Authorization header"}))
				return
			}
			token := parts[1]

			info, err := tokens.GetTokenInfo(r.Context(), token)
			if err != nil {
				logger.Error("token service call failed", zap.Error(err))
				writeSchedulerError(w, catalog.Get("INTERNAL_ERROR", nil))
				return
			}
			if info == nil {
				writeSchedulerError(w, catalog.Get("INVALID_TOKEN", map[string]string{"reason": "unknown token"}))
				return
			}
			if info.IsExpired(clk.Now()) {
				writeSchedulerError(w, catalog.Get("INVALID_TOKEN", map[string]string{"reason": "token expired"}))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyTokenInfo, info)
			ctx = context.WithValue(ctx, ctxKeyToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Limiters is a per-token rate.Limiter pool, replacing the teacher's
// hand-rolled token bucket with golang.org/x/time/rate.
type Limiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewLimiters constructs a pool handing out limiters of the given
// requests-per-second rate and burst size, one per distinct token seen.
func NewLimiters(requestsPerSecond float64, burst int) *Limiters {
	return &Limiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (l *Limiters) forToken(token string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[token]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[token] = lim
	}
	return lim
}

// RateLimitMiddleware must run after AuthMiddleware: it keys off the
// token AuthMiddleware stashed in the request context.
func RateLimitMiddleware(limiters *Limiters, catalog *statusmsg.Catalog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFrom(r.Context())
			if token != "" && !limiters.forToken(token).Allow() {
				writeSchedulerError(w, catalog.Get("RESOURCE_LIMIT_EXCEEDED", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

