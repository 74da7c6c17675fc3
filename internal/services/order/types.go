package order

import (
	"malricpharma/internal/core"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"

	"github.com/shopspring/decimal"
)

// CreateRequest is a checkout submitted by a customer.
type CreateRequest struct {
	Items         []order.Line       `json:"items"`
	Shipping      order.ShippingInfo `json:"shippingInfo"`
	PaymentMethod string             `json:"paymentMethod"`
	// Phone is the M-Pesa number; the shipping phone is used when empty.
	Phone string `json:"phoneNumber,omitempty"`
	// Total must equal the item subtotal. Delivery fees are not part of it.
	Total decimal.Decimal `json:"total"`
}

// PaymentFailure describes why payment initiation failed after the order
// was saved.
type PaymentFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateResponse is the result of a checkout.
type CreateResponse struct {
	Order        *order.Order    `json:"order"`
	Payment      *payment.Result `json:"payment"`
	PaymentError *PaymentFailure `json:"paymentError,omitempty"`
}

// ListRequest represents a paginated list request
type ListRequest struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Normalize applies defaults and the page size ceiling.
func (req *ListRequest) Normalize(defaultLimit, maxLimit int) {
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	req.Page = core.ClampPage(req.Page, req.Limit)
}

func (req ListRequest) offset() int {
	return (req.Page - 1) * req.Limit
}

// ListResponse represents a paginated list response
type ListResponse struct {
	Orders     []*order.Order `json:"orders"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

func newListResponse(orders []*order.Order, total int, req ListRequest) *ListResponse {
	if orders == nil {
		orders = []*order.Order{}
	}
	pages := 0
	if req.Limit > 0 {
		pages = (total + req.Limit - 1) / req.Limit
	}
	return &ListResponse{Orders: orders, Total: total, Page: req.Page, Limit: req.Limit, TotalPages: pages}
}
