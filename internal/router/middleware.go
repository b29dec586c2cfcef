// internal/router/middleware.go
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

type contextKey string

const ContextClaims contextKey = "serviceClaims"

// ClaimsFromContext returns the verified service claims of an admin request.
func ClaimsFromContext(ctx context.Context) (*security.ServiceClaims, bool) {
	c, ok := ctx.Value(ContextClaims).(*security.ServiceClaims)
	return c, ok
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}

// MetricsMiddleware records request counts and latency per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RequireServiceToken admits requests carrying a valid service bearer token
// with one of the allowed roles.
func RequireServiceToken(tokens *security.ServiceTokens, logger *zap.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				authError(w, http.StatusUnauthorized, "No token provided")
				return
			}

			if tokens == nil {
				authError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			claims, err := tokens.Verify(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
			if err != nil {
				logger.Warn("rejected service token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				authError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if len(roles) > 0 && !contains(roles, claims.Role) {
				authError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), ContextClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
