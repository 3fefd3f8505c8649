package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of committed checkouts",
	}, []string{"method"})

	CheckoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Total number of rejected or rolled back checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of the checkout transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentInitiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_initiations_total",
		Help: "Total number of outbound payment requests",
	}, []string{"gateway", "outcome"})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of gateway callbacks by outcome",
	}, []string{"gateway", "outcome"})

	SignatureMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_signature_mismatch_total",
		Help: "Total number of callbacks rejected for a bad signature",
	}, []string{"gateway"})

	LateCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_late_callbacks_total",
		Help: "Total number of verified callbacks for orders already settled",
	}, []string{"gateway", "status"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders that entered Paid",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders that entered PaymentFailed",
	}, []string{"gateway"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of orders expired on read",
	})

	StockShortfallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_shortfall_total",
		Help: "Total number of paid lines that found less stock than ordered",
	})

	ShippingQuoteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipping_quote_latency_seconds",
		Help:    "Latency of routing provider calls",
		Buckets: prometheus.DefBuckets,
	})

	ShippingUnavailableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipping_unavailable_total",
		Help: "Total number of shipping quotes that could not be computed",
	}, []string{"reason"})

	ShippingCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipping_quote_cache_hits_total",
		Help: "Total number of shipping quotes served from cache",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notifications by outcome",
	}, []string{"outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"breaker"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
