package payment

import (
	"fmt"
	"strings"
	"time"

	"malricpharma/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is one attempt to settle an order. An order may own several
// payments over time, but at most one of them is open.
type Payment struct {
	ID                    string          `json:"id"`
	OrderID               string          `json:"orderId"`
	Method                Method          `json:"paymentMethod"`
	Amount                decimal.Decimal `json:"amount"`
	Status                Status          `json:"status"`
	ProviderTransactionID *string         `json:"providerTransactionId,omitempty"`
	Metadata              Metadata        `json:"metadata,omitempty"`
	FailureReason         string          `json:"failureReason,omitempty"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Metadata holds provider request/response snapshots.
type Metadata map[string]any

// Status represents payment status
type Status string

const (
	StatusPending         Status = "pending"
	StatusInitiated       Status = "initiated"
	StatusPendingDelivery Status = "pending_delivery"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsOpen reports whether the payment still occupies the order's single open slot.
func (s Status) IsOpen() bool {
	switch s {
	case StatusPending, StatusInitiated, StatusPendingDelivery:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInitiated, StatusPendingDelivery, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", core.Validation(core.CodeInvalidStatus, fmt.Sprintf("unknown payment status %q", s))
	}
	return st, nil
}

// Method represents payment method
type Method string

const (
	MethodMpesa Method = "mpesa"
	MethodCard  Method = "card"
	MethodCOD   Method = "cod"
)

// Methods lists every supported method tag.
var Methods = []Method{MethodMpesa, MethodCard, MethodCOD}

// ParseMethod maps client input onto a method tag.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mpesa", "m-pesa":
		return MethodMpesa, nil
	case "card":
		return MethodCard, nil
	case "cod", "cash_on_delivery", "cash-on-delivery":
		return MethodCOD, nil
	}
	return "", core.Validation(core.CodeInvalidPaymentMethod, fmt.Sprintf("unsupported payment method %q", s))
}

// NewPayment creates a new payment with validation
func NewPayment(orderID string, method Method, amount decimal.Decimal, status Status, meta Metadata, now time.Time) (*Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, core.Validation(core.CodeInvalidRequest, "payment requires an order")
	}
	if !amount.IsPositive() {
		return nil, core.Validation(core.CodeInvalidTotal, "payment amount must be positive")
	}
	if !status.IsOpen() {
		return nil, core.Validation(core.CodeInvalidStatus, fmt.Sprintf("payment cannot start in status %s", status))
	}
	if meta == nil {
		meta = Metadata{}
	}
	return &Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Method:    method,
		Amount:    amount,
		Status:    status,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkInitiated records the gateway acknowledgment.
func (p *Payment) MarkInitiated(providerTxID string, meta Metadata, now time.Time) error {
	if p.Status != StatusPending {
		return p.readOnly(StatusInitiated)
	}
	p.Status = StatusInitiated
	p.ProviderTransactionID = &providerTxID
	p.Merge(meta)
	p.UpdatedAt = now
	return nil
}

// MarkFailed moves an open payment to failed.
func (p *Payment) MarkFailed(reason string, meta Metadata, now time.Time) error {
	if p.Status.IsTerminal() {
		return p.readOnly(StatusFailed)
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	p.Merge(meta)
	p.UpdatedAt = now
	return nil
}

// MarkCompleted moves an open payment to completed.
func (p *Payment) MarkCompleted(meta Metadata, now time.Time) error {
	if p.Status.IsTerminal() {
		return p.readOnly(StatusCompleted)
	}
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.Merge(meta)
	p.UpdatedAt = now
	return nil
}

// Merge copies meta into the payment metadata, overwriting existing keys.
func (p *Payment) Merge(meta Metadata) {
	if p.Metadata == nil {
		p.Metadata = Metadata{}
	}
	for k, v := range meta {
		p.Metadata[k] = v
	}
}

// Phone returns the payer phone recorded at initiation, if any.
func (p *Payment) Phone() string {
	s, _ := p.Metadata["phoneNumber"].(string)
	return s
}

func (p *Payment) readOnly(to Status) error {
	return core.Conflict(core.CodeInvalidTransition,
		fmt.Sprintf("payment %s cannot move from %s to %s", p.ID, p.Status, to))
}

// Request is the payment part of a checkout or retry.
type Request struct {
	Method Method
	Phone  string
}

// Result is returned to the client after a payment strategy ran.
type Result struct {
	Success                 bool    `json:"success"`
	PaymentID               string  `json:"paymentId"`
	Method                  Method  `json:"method"`
	Status                  Status  `json:"status"`
	ProviderTransactionID   *string `json:"providerTransactionId,omitempty"`
	Message                 string  `json:"message"`
	CustomerMessage         string  `json:"customerMessage,omitempty"`
	RequiresDeliveryPayment bool    `json:"requiresDeliveryPayment,omitempty"`
}
