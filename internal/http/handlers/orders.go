package handlers

import (
	"net/http"
	"strings"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/user"
	middlewarex "malricpharma/internal/http/middleware"
	ordersvc "malricpharma/internal/services/order"

	"github.com/go-chi/chi/v5"
)

func caller(r *http.Request) (user.Principal, error) {
	p, ok := middlewarex.Principal(r.Context())
	if !ok {
		return user.Principal{}, core.Unauthorized(core.CodeUnauthorized, "access token required")
	}
	return p, nil
}

func listRequest(r *http.Request) ordersvc.ListRequest {
	return ordersvc.ListRequest{Page: queryInt(r, "page"), Limit: queryInt(r, "limit")}
}

func statusFilter(r *http.Request) (*order.Status, error) {
	v := strings.TrimSpace(r.URL.Query().Get("status"))
	if v == "" {
		return nil, nil
	}
	st, err := order.ParseStatus(v)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateOrder places an order and starts its payment.
func CreateOrder(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		var in ordersvc.CreateRequest
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		resp, err := svc.CreateOrder(r.Context(), p.UserID, in)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusCreated, resp)
	}
}

func ListOrders(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		status, err := statusFilter(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		resp, err := svc.ListUserOrders(r.Context(), p, listRequest(r), status)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, resp)
	}
}

func GetOrder(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		o, err := svc.GetOrder(r.Context(), p, chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, o)
	}
}

func TrackOrder(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		o, err := svc.TrackOrder(r.Context(), p, chi.URLParam(r, "orderNumber"))
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, o)
	}
}

func CancelOrder(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		o, err := svc.CancelOrder(r.Context(), p, chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, o)
	}
}

// ListAllOrders serves the admin order list with status and paymentStatus filters.
func ListAllOrders(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := statusFilter(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		var paymentStatus *payment.Status
		if v := strings.TrimSpace(r.URL.Query().Get("paymentStatus")); v != "" {
			ps, err := payment.ParseStatus(v)
			if err != nil {
				fail(w, r, err)
				return
			}
			paymentStatus = &ps
		}
		resp, err := svc.ListAllOrders(r.Context(), listRequest(r), status, paymentStatus)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, resp)
	}
}

func ListAwaitingPayment(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.ListAwaitingPayment(r.Context(), listRequest(r))
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, resp)
	}
}

type statusUpdateReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func UpdateOrderStatus(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		var in statusUpdateReq
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		o, err := svc.UpdateStatus(r.Context(), p, chi.URLParam(r, "id"), in.Status, in.Notes)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, o)
	}
}

func OrderStats(svc *ordersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Stats(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, st)
	}
}
