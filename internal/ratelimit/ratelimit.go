// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Policy is a fixed window: at most Max requests per Window for one identifier.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	InitiatePolicy = Policy{Name: "initiate", Max: 5, Window: 5 * time.Minute}
	StatusPolicy   = Policy{Name: "status", Max: 30, Window: time.Minute}
	CallbackPolicy = Policy{Name: "callback", Max: 100, Window: time.Minute}
	PurchasePolicy = Policy{Name: "purchase", Max: 10, Window: 5 * time.Minute}
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// ClientKey identifies the caller: first X-Forwarded-For hop, then X-Real-IP,
// then fallback.
func ClientKey(r *http.Request, fallback string) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return fallback
}
