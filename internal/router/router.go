// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/handler"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

// AdminRoles may change payment status by hand.
var AdminRoles = []string{"admin", "operator"}

type Handlers struct {
	Payment  *handler.PaymentHandler
	Callback *handler.CallbackHandler
	Purchase *handler.PurchaseHandler
	Price    *handler.PriceHandler
	Stream   *handler.StreamHandler
}

type Options struct {
	AllowedOrigins []string
	ServiceTokens  *security.ServiceTokens
	// Ready reports whether backing stores are reachable.
	Ready func(r *http.Request) error
}

func SetupRoutes(h Handlers, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.SignatureHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(req); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The stream is long lived and must not sit behind the request timeout.
	r.Get("/payment/status/stream", h.Stream.Stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/payment", func(r chi.Router) {
			r.Post("/initiate", h.Payment.Initiate)

			r.Post("/callback", h.Callback.HandleSTKCallback)
			r.Get("/callback", h.Callback.Liveness)

			r.Get("/status", h.Payment.GetStatus)
			r.With(RequireServiceToken(opts.ServiceTokens, logger, AdminRoles...)).
				Post("/status", h.Payment.UpdateStatus)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/purchase", h.Purchase.Complete)
			r.Get("/purchase", h.Purchase.History)
		})

		r.Get("/prices", h.Price.GetPrices)
	})

	return r
}
