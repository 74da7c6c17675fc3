// Package metrics exposes Prometheus collectors for HTTP traffic, order
// operations and payment flow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malricpharma_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malricpharma_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malricpharma_order_operations_total",
			Help: "Total number of order operations",
		},
		[]string{"operation", "status"},
	)

	catalogOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malricpharma_catalog_operations_total",
			Help: "Total number of product catalog writes",
		},
		[]string{"operation", "status"},
	)

	paymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malricpharma_payment_outcomes_total",
			Help: "Payment status changes by method",
		},
		[]string{"method", "status"},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malricpharma_payment_callbacks_total",
			Help: "Gateway callbacks by processing result",
		},
		[]string{"provider", "result"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malricpharma_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "status"},
	)
)

// Middleware records request count and latency labelled by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		httpRequestsTotal.WithLabelValues(r.Method, path, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOrderOperation counts an order operation outcome.
func RecordOrderOperation(operation string, success bool) {
	orderOperations.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordCatalogOperation counts a product catalog write.
func RecordCatalogOperation(operation string, success bool) {
	catalogOperations.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordPayment counts a payment entering status.
func RecordPayment(method, status string) {
	paymentOutcomes.WithLabelValues(method, status).Inc()
}

// RecordCallback counts a processed gateway callback.
func RecordCallback(provider, result string) {
	callbacksTotal.WithLabelValues(provider, result).Inc()
}

// ObserveGateway times one gateway call.
func ObserveGateway(provider, operation string, start time.Time, err error) {
	gatewayDuration.WithLabelValues(provider, operation, outcome(err == nil)).Observe(time.Since(start).Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
