package handler

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/internal/ratelimit"
)

// RateGate applies one limiter policy to the requests of a route.
type RateGate struct {
	Policy   string
	Limiter  ratelimit.Limiter
	Fallback string
}

func NewRateGate(p ratelimit.Policy, l ratelimit.Limiter, fallback string) RateGate {
	return RateGate{Policy: p.Name, Limiter: l, Fallback: fallback}
}

// allow counts r against the policy and sets the X-RateLimit headers. A
// limiter error lets the request through.
func (g RateGate) allow(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (ratelimit.Decision, bool) {
	if g.Limiter == nil {
		return ratelimit.Decision{Allowed: true}, true
	}

	key := ratelimit.ClientKey(r, g.Fallback)
	d, err := g.Limiter.Allow(r.Context(), key)
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing request",
			zap.String("policy", g.Policy),
			zap.Error(err))
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		metrics.RateLimitRejections.WithLabelValues(g.Policy).Inc()
		logger.Warn("rate limit exceeded",
			zap.String("policy", g.Policy),
			zap.String("client", key))
	}
	return d, d.Allowed
}

func sendRateLimited(w http.ResponseWriter, d ratelimit.Decision, message string) {
	retry := d.RetryAfter(time.Now())
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"success":   false,
		"error":     message,
		"resetTime": d.ResetAt.UTC().Format(time.RFC3339),
	})
}
