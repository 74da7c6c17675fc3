package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"malricpharma/internal/auth"
	"malricpharma/internal/config"
	"malricpharma/internal/http/handlers"
	middlewarex "malricpharma/internal/http/middleware"
	"malricpharma/internal/metrics"
	authsvc "malricpharma/internal/services/auth"
	eventsvc "malricpharma/internal/services/event"
	ordersvc "malricpharma/internal/services/order"
	paysvc "malricpharma/internal/services/payment"
	productsvc "malricpharma/internal/services/product"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDependencies holds all dependencies for the HTTP router
type RouterDependencies struct {
	Config         config.Cfg
	Issuer         *auth.Issuer
	AuthService    *authsvc.Service
	OrderService   *ordersvc.Service
	PaymentService *paysvc.Service
	ProductService *productsvc.Service
	EventProcessor *eventsvc.Processor
	EventReplay    *eventsvc.ReplayService
}

// NewRouter mounts the public API under /api/v1.
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":      "ok",
				"environment": deps.Config.App.Env,
				"time":        time.Now().UTC().Format(time.RFC3339),
			})
		})
		r.Handle("/metrics", metrics.Handler())

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handlers.Register(deps.AuthService))
			r.Post("/login", handlers.Login(deps.AuthService))
			r.Post("/refresh", handlers.Refresh(deps.AuthService))
			r.Post("/logout", handlers.Logout(deps.AuthService))
			r.With(middlewarex.RequireAuth(deps.Issuer)).Get("/me", handlers.Me(deps.AuthService))
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", handlers.ListProducts(deps.ProductService))
			r.Get("/{id}", handlers.GetProduct(deps.ProductService))

			r.Group(func(r chi.Router) {
				r.Use(middlewarex.RequireAuth(deps.Issuer), middlewarex.AdminOnly)

				r.Post("/", handlers.CreateProduct(deps.ProductService))
				r.Put("/{id}", handlers.UpdateProduct(deps.ProductService))
				r.Delete("/{id}", handlers.DeleteProduct(deps.ProductService))
			})
		})

		// Daraja posts here without credentials.
		r.Post("/payments/mpesa/callback", handlers.MpesaCallback(deps.EventProcessor))

		r.Group(func(r chi.Router) {
			r.Use(middlewarex.RequireAuth(deps.Issuer))

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", handlers.CreateOrder(deps.OrderService))
				r.Get("/", handlers.ListOrders(deps.OrderService))
				r.Get("/track/{orderNumber}", handlers.TrackOrder(deps.OrderService))
				r.Get("/{id}", handlers.GetOrder(deps.OrderService))
				r.Patch("/{id}/cancel", handlers.CancelOrder(deps.OrderService))
				r.Post("/{id}/payments/retry", handlers.RetryPayment(deps.PaymentService))
			})

			r.Get("/payments/mpesa/{checkoutRequestId}/status", handlers.QueryMpesaStatus(deps.PaymentService))
			r.Get("/payments/{id}", handlers.GetPayment(deps.PaymentService))

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarex.AdminOnly)

				r.Get("/orders", handlers.ListAllOrders(deps.OrderService))
				r.Get("/orders/awaiting-payment", handlers.ListAwaitingPayment(deps.OrderService))
				r.Get("/orders/stats", handlers.OrderStats(deps.OrderService))
				r.Patch("/orders/{id}/status", handlers.UpdateOrderStatus(deps.OrderService))
				r.Post("/callbacks/replay", handlers.ReplayCallbacks(deps.EventReplay))
			})
		})
	})

	return r
}
