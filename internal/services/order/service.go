package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
	"malricpharma/internal/messaging"
	"malricpharma/internal/metrics"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// maxNumberAttempts bounds retries after an order number collision.
	maxNumberAttempts = 3

	userListDefault  = 10
	adminListDefault = 20
	maxListLimit     = 100

	totalsHint = "The order total is the sum of item subtotals at current prices and excludes delivery fees."
)

// totalTolerance absorbs currency rounding in the client-computed total.
var totalTolerance = decimal.NewFromFloat(0.01)

// PaymentProcessor starts payment for a committed order.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req payment.Request, o *order.Order) (*payment.Result, error)
}

// Service places orders and drives them through their status lifecycle.
type Service struct {
	unitOfWork repositories.UnitOfWork
	orders     repositories.OrderRepository
	payments   repositories.PaymentRepository
	processor  PaymentProcessor
	events     messaging.Publisher
	now        func() time.Time
}

// NewService creates a new order service
func NewService(
	unitOfWork repositories.UnitOfWork,
	orders repositories.OrderRepository,
	payments repositories.PaymentRepository,
	processor PaymentProcessor,
	events messaging.Publisher,
) *Service {
	if events == nil {
		events = messaging.NoopPublisher{}
	}
	return &Service{
		unitOfWork: unitOfWork,
		orders:     orders,
		payments:   payments,
		processor:  processor,
		events:     events,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateOrder validates the cart against live prices, saves the order with
// its items and first history row in one transaction, then starts payment.
// A payment failure does not undo the order; it is reported in the response
// and recorded on the order for a later retry.
func (s *Service) CreateOrder(ctx context.Context, userID int64, req CreateRequest) (*CreateResponse, error) {
	method, err := validateCreate(req)
	if err != nil {
		metrics.RecordOrderOperation("create", false)
		return nil, err
	}

	o, err := s.persist(ctx, userID, req, method)
	if err != nil {
		metrics.RecordOrderOperation("create", false)
		return nil, err
	}
	metrics.RecordOrderOperation("create", true)
	s.publish(ctx, messaging.OrderCreated, o)

	log.Info().
		Str("order_number", o.OrderNumber).
		Int64("user_id", userID).
		Str("total", o.TotalAmount.StringFixed(2)).
		Str("payment_method", string(method)).
		Msg("order created")

	resp := &CreateResponse{Order: o}
	phone := req.Phone
	if phone == "" {
		phone = req.Shipping.Phone
	}
	result, err := s.processor.ProcessPayment(ctx, payment.Request{Method: method, Phone: phone}, o)
	if err != nil {
		log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("payment initiation failed; order kept for retry")
		resp.PaymentError = &PaymentFailure{Code: core.CodeOf(err), Message: core.MessageOf(err)}
	}
	resp.Payment = result

	if fresh, err := s.load(ctx, o.ID); err == nil {
		resp.Order = fresh
	} else {
		log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("reload after payment failed")
	}
	return resp, nil
}

func validateCreate(req CreateRequest) (payment.Method, error) {
	if err := order.ValidateCart(req.Items); err != nil {
		return "", err
	}
	if err := req.Shipping.Validate(); err != nil {
		return "", err
	}
	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		return "", err
	}
	if !req.Total.IsPositive() {
		return "", core.Validation(core.CodeInvalidTotal, "total must be a positive amount")
	}
	return method, nil
}

// persist runs the create transaction, retrying with a new order number
// when the generated one is already taken.
func (s *Service) persist(ctx context.Context, userID int64, req CreateRequest, method payment.Method) (*order.Order, error) {
	now := s.now()
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		o, err := s.createInTx(ctx, userID, req, method, order.NewNumber(now, attempt), now)
		if errors.Is(err, repositories.ErrConflict) {
			log.Warn().Int("attempt", attempt).Msg("order number collision, retrying")
			continue
		}
		return o, err
	}
	return nil, fmt.Errorf("could not allocate a unique order number after %d attempts", maxNumberAttempts)
}

func (s *Service) createInTx(ctx context.Context, userID int64, req CreateRequest, method payment.Method, number string, now time.Time) (*order.Order, error) {
	tx, err := s.unitOfWork.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]int64, 0, len(req.Items))
	for _, l := range req.Items {
		ids = append(ids, l.ProductID)
	}
	products, err := tx.Products().FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[int64]*product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var missing []int64
	items := make([]order.Item, 0, len(req.Items))
	for _, l := range req.Items {
		p, ok := byID[l.ProductID]
		if !ok {
			missing = append(missing, l.ProductID)
			continue
		}
		items = append(items, order.NewItem(p.ID, p.Name, p.Description, p.Category, p.ImageURL, p.Price, l.Quantity, now))
	}
	if len(missing) > 0 {
		return nil, core.Validation(core.CodeItemsUnavailable, "some items are no longer available").
			WithDetails(map[string]any{"missingProductIds": missing})
	}

	o := order.New(number, userID, items, req.Shipping, method, now)
	if o.TotalAmount.Sub(req.Total).Abs().GreaterThan(totalTolerance) {
		return nil, core.Conflict(core.CodeTotalMismatch, "order total does not match current prices").
			WithDetails(map[string]any{
				"clientTotal": req.Total.StringFixed(2),
				"serverTotal": o.TotalAmount.StringFixed(2),
				"hint":        totalsHint,
			})
	}

	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return o, nil
}

// GetOrder returns an order with items, history and payments.
func (s *Service) GetOrder(ctx context.Context, caller user.Principal, id string) (*order.Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		metrics.RecordOrderOperation("details", false)
		return nil, err
	}
	if !caller.CanAccess(o.UserID) {
		return nil, core.Forbidden(core.CodeForbidden, "you do not have access to this order")
	}
	metrics.RecordOrderOperation("details", true)
	return o, nil
}

// TrackOrder looks an order up by its order number.
func (s *Service) TrackOrder(ctx context.Context, caller user.Principal, number string) (*order.Order, error) {
	o, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return nil, lookupError(err)
	}
	if !caller.CanAccess(o.UserID) {
		return nil, core.Forbidden(core.CodeForbidden, "you do not have access to this order")
	}
	if err := s.attachPayments(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListUserOrders pages through the caller's own orders, newest first.
func (s *Service) ListUserOrders(ctx context.Context, caller user.Principal, req ListRequest, status *order.Status) (*ListResponse, error) {
	req.Normalize(userListDefault, maxListLimit)
	uid := caller.UserID
	orders, total, err := s.orders.List(ctx, order.ListFilter{
		UserID: &uid,
		Status: status,
		Limit:  req.Limit,
		Offset: req.offset(),
	})
	metrics.RecordOrderOperation("list", err == nil)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return newListResponse(orders, total, req), nil
}

// ListAllOrders pages through every order.
func (s *Service) ListAllOrders(ctx context.Context, req ListRequest, status *order.Status, paymentStatus *payment.Status) (*ListResponse, error) {
	req.Normalize(adminListDefault, maxListLimit)
	orders, total, err := s.orders.List(ctx, order.ListFilter{
		Status:        status,
		PaymentStatus: paymentStatus,
		Limit:         req.Limit,
		Offset:        req.offset(),
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return newListResponse(orders, total, req), nil
}

// ListAwaitingPayment returns PENDING orders whose last payment failed.
func (s *Service) ListAwaitingPayment(ctx context.Context, req ListRequest) (*ListResponse, error) {
	pending := order.StatusPending
	failed := payment.StatusFailed
	return s.ListAllOrders(ctx, req, &pending, &failed)
}

// CancelOrder cancels the caller's order.
func (s *Service) CancelOrder(ctx context.Context, caller user.Principal, id string) (*order.Order, error) {
	o, err := s.changeStatus(ctx, id, func(o *order.Order, now time.Time) (*order.StatusHistory, error) {
		if !caller.CanAccess(o.UserID) {
			return nil, core.Forbidden(core.CodeForbidden, "you do not have access to this order")
		}
		actor := caller.UserID
		return o.Cancel(&actor, "Cancelled by customer", now)
	})
	metrics.RecordOrderOperation("cancel", err == nil)
	return o, err
}

// UpdateStatus moves an order to status on behalf of an administrator.
func (s *Service) UpdateStatus(ctx context.Context, caller user.Principal, id, status, notes string) (*order.Order, error) {
	next, err := order.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o, err := s.changeStatus(ctx, id, func(o *order.Order, now time.Time) (*order.StatusHistory, error) {
		actor := caller.UserID
		return o.Transition(next, &actor, notes, now)
	})
	metrics.RecordOrderOperation("update_status", err == nil)
	return o, err
}

// changeStatus locks the order, applies fn and writes the new status with
// its history row in one transaction.
func (s *Service) changeStatus(ctx context.Context, id string, fn func(*order.Order, time.Time) (*order.StatusHistory, error)) (*order.Order, error) {
	now := s.now()
	tx, err := s.unitOfWork.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := tx.Orders().FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	h, err := fn(o, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Orders().AppendHistory(ctx, h); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status change: %w", err)
	}

	log.Info().
		Str("order_number", o.OrderNumber).
		Str("status", string(o.Status)).
		Msg("order status changed")

	typ := messaging.OrderStatusChanged
	if o.Status == order.StatusCancelled {
		typ = messaging.OrderCancelled
	}
	s.publish(ctx, typ, o)

	if err := s.attachPayments(ctx, o); err != nil {
		log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("load payments failed")
	}
	return o, nil
}

// Stats aggregates order counters; today starts at local midnight.
func (s *Service) Stats(ctx context.Context) (*order.Stats, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	st, err := s.orders.Stats(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("order stats: %w", err)
	}
	return st, nil
}

func (s *Service) load(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	if err := s.attachPayments(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) attachPayments(ctx context.Context, o *order.Order) error {
	ps, err := s.payments.FindByOrderID(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	o.Payments = ps
	return nil
}

func (s *Service) publish(ctx context.Context, typ string, o *order.Order) {
	messaging.Emit(ctx, s.events, messaging.Event{
		Type:          typ,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.TotalAmount,
		OccurredAt:    s.now(),
	})
}

func lookupError(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return core.NotFound(core.CodeOrderNotFound, "order not found")
	}
	return fmt.Errorf("load order: %w", err)
}
