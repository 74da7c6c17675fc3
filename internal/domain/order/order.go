package order

import (
	"fmt"
	"strings"
	"time"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// NumberPrefix tags every human-readable order number.
	NumberPrefix = "MP"
	// DeliveryLeadTime is added to the creation time for the delivery estimate.
	DeliveryLeadTime = 48 * time.Hour
)

// Order is a placed checkout with its line items and status log.
type Order struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"orderNumber"`
	UserID            int64              `json:"userId"`
	Status            Status             `json:"status"`
	TotalAmount       decimal.Decimal    `json:"totalAmount"`
	Shipping          ShippingInfo       `json:"shippingInfo"`
	PaymentMethod     payment.Method     `json:"paymentMethod"`
	PaymentStatus     payment.Status     `json:"paymentStatus"`
	EstimatedDelivery time.Time          `json:"estimatedDelivery"`
	Notes             string             `json:"notes,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Items             []Item             `json:"items,omitempty"`
	History           []StatusHistory    `json:"statusHistory,omitempty"`
	Payments          []*payment.Payment `json:"payments,omitempty"`
}

// Item is a line item carrying a snapshot of the product at order time.
type Item struct {
	ID                 string          `json:"id"`
	OrderID            string          `json:"orderId"`
	ProductID          int64           `json:"productId"`
	ProductName        string          `json:"productName"`
	ProductDescription string          `json:"productDescription,omitempty"`
	ProductCategory    string          `json:"productCategory,omitempty"`
	ProductImageURL    string          `json:"productImageUrl,omitempty"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	Quantity           int             `json:"quantity"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// StatusHistory is one append-only status log row.
type StatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Status    Status    `json:"status"`
	ChangedBy *int64    `json:"changedBy,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ShippingInfo is the delivery address snapshot.
type ShippingInfo struct {
	FullName      string `json:"fullName"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	Address       string `json:"address"`
	City          string `json:"city,omitempty"`
	County        string `json:"county,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	DeliveryNotes string `json:"deliveryNotes,omitempty"`
}

func (s ShippingInfo) Validate() error {
	if strings.TrimSpace(s.FullName) == "" || strings.TrimSpace(s.Address) == "" {
		return core.Validation(core.CodeInvalidShipping, "shipping info must include full name and address")
	}
	return nil
}

// Line is one requested cart entry.
type Line struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// ValidateCart checks the cart shape before any lookup.
func ValidateCart(lines []Line) error {
	if len(lines) == 0 {
		return core.Validation(core.CodeInvalidItems, "order must contain at least one item")
	}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return core.Validation(core.CodeInvalidItems, fmt.Sprintf("item %d has an invalid product id", i))
		}
		if l.Quantity < 1 {
			return core.Validation(core.CodeInvalidItems, fmt.Sprintf("item %d must have quantity of at least 1", i))
		}
	}
	return nil
}

// NewNumber derives an order number from the creation time.
// attempt > 0 adds a suffix so a retry after a collision yields a new value.
func NewNumber(now time.Time, attempt int) string {
	n := fmt.Sprintf("%s%d", NumberPrefix, now.UnixMicro())
	if attempt > 0 {
		n = fmt.Sprintf("%s%d", n, attempt)
	}
	return n
}

// New builds a PENDING order together with its initial history row.
func New(number string, userID int64, items []Item, shipping ShippingInfo, method payment.Method, now time.Time) *Order {
	id := uuid.NewString()
	total := decimal.Zero
	for i := range items {
		items[i].OrderID = id
		total = total.Add(items[i].Subtotal)
	}
	o := &Order{
		ID:                id,
		OrderNumber:       number,
		UserID:            userID,
		Status:            StatusPending,
		TotalAmount:       total,
		Shipping:          shipping,
		PaymentMethod:     method,
		PaymentStatus:     payment.StatusPending,
		EstimatedDelivery: now.Add(DeliveryLeadTime),
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             items,
	}
	o.History = []StatusHistory{o.historyRow(StatusPending, &userID, "Order created", now)}
	return o
}

// NewItem snapshots a product line. Subtotal = unit price x quantity.
func NewItem(productID int64, name, description, category, imageURL string, unitPrice decimal.Decimal, qty int, now time.Time) Item {
	return Item{
		ID:                 uuid.NewString(),
		ProductID:          productID,
		ProductName:        name,
		ProductDescription: description,
		ProductCategory:    category,
		ProductImageURL:    imageURL,
		UnitPrice:          unitPrice,
		Quantity:           qty,
		Subtotal:           unitPrice.Mul(decimal.NewFromInt(int64(qty))),
		CreatedAt:          now,
	}
}

// Transition moves the order along the state machine and returns the history
// row that must be persisted with it.
func (o *Order) Transition(next Status, actor *int64, notes string, now time.Time) (*StatusHistory, error) {
	if !o.Status.CanTransitionTo(next) {
		return nil, core.Conflict(core.CodeInvalidTransition,
			fmt.Sprintf("order %s cannot move from %s to %s", o.OrderNumber, o.Status, next)).
			WithDetails(map[string]any{"currentStatus": o.Status, "requestedStatus": next})
	}
	o.Status = next
	o.UpdatedAt = now
	h := o.historyRow(next, actor, notes, now)
	o.History = append(o.History, h)
	return &h, nil
}

// Cancel is Transition to CANCELLED with the cancellation guard error.
func (o *Order) Cancel(actor *int64, notes string, now time.Time) (*StatusHistory, error) {
	if !o.Status.CanCancel() {
		return nil, core.Conflict(core.CodeCannotCancel,
			fmt.Sprintf("order in status %s cannot be cancelled", o.Status)).
			WithDetails(map[string]any{"currentStatus": o.Status})
	}
	return o.Transition(StatusCancelled, actor, notes, now)
}

// RecordPaymentFailure notes a failed payment initiation on the order.
func (o *Order) RecordPaymentFailure(msg string, now time.Time) {
	o.Notes = "Payment failed: " + truncate(msg, 200)
	o.PaymentStatus = payment.StatusFailed
	o.UpdatedAt = now
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID int64) bool {
	return o.UserID == userID
}

func (o *Order) historyRow(st Status, actor *int64, notes string, now time.Time) StatusHistory {
	return StatusHistory{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Status:    st,
		ChangedBy: actor,
		Notes:     notes,
		CreatedAt: now,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ListFilter selects orders for listing endpoints.
type ListFilter struct {
	UserID        *int64
	Status        *Status
	PaymentStatus *payment.Status
	Limit         int
	Offset        int
}

// Stats aggregates order counters for the admin view.
type Stats struct {
	TotalOrders     int             `json:"totalOrders"`
	PendingOrders   int             `json:"pendingOrders"`
	CompletedOrders int             `json:"completedOrders"`
	CancelledOrders int             `json:"cancelledOrders"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	TodayOrders     int             `json:"todayOrders"`
}
