// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nomatoken_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nomatoken_mpesa_request_duration_seconds",
			Help:    "Duration of M-Pesa gateway calls, retries included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "outcome"},
	)

	PaymentsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_payments_initiated_total",
			Help: "STK push initiations by outcome",
		},
		[]string{"outcome"},
	)

	CallbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_callbacks_received_total",
			Help: "Gateway callbacks by processing outcome",
		},
		[]string{"outcome"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_payment_status_transitions_total",
			Help: "Payment status changes by target status and source",
		},
		[]string{"status", "source"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_rate_limit_rejections_total",
			Help: "Requests rejected by a rate limit policy",
		},
		[]string{"policy"},
	)

	TokenPurchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_token_purchases_total",
			Help: "Token purchase completions by outcome",
		},
		[]string{"outcome"},
	)

	PriceSourceUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomatoken_price_source_total",
			Help: "Price cache refills by source",
		},
		[]string{"source"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nomatoken_status_stream_subscribers",
			Help: "Open websocket status subscriptions",
		},
	)
)
