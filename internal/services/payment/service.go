package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/user"
	"malricpharma/internal/messaging"
	"malricpharma/internal/metrics"
	"malricpharma/internal/provider"
	"malricpharma/internal/provider/base"
	"malricpharma/internal/store/repositories"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	mpesaInitiatedMessage = "Payment initiated. Please check your phone and enter your M-Pesa PIN."
	codConfirmedMessage   = "Order confirmed. Payment will be collected on delivery."
	codNote               = "Cash on Delivery - Payment due on delivery"
	descriptionPrefix     = "Payment for MalricPharma order "

	defaultLedgerRetries  = 3
	defaultLedgerInterval = 100 * time.Millisecond
)

// Service chooses a payment strategy for an order, talks to the gateway and
// keeps the payment ledger and the order's payment status in step.
type Service struct {
	gateway    provider.Gateway
	payments   repositories.PaymentRepository
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	reconciler *Reconciler
	events     messaging.Publisher
	now        func() time.Time

	// Writes that follow an accepted push are retried: the payer may
	// already be paying against that checkout id.
	ledgerRetries  uint64
	ledgerInterval time.Duration
}

// NewService creates a new payment service
func NewService(
	gateway provider.Gateway,
	payments repositories.PaymentRepository,
	orders repositories.OrderRepository,
	unitOfWork repositories.UnitOfWork,
	reconciler *Reconciler,
	events messaging.Publisher,
) *Service {
	if events == nil {
		events = messaging.NoopPublisher{}
	}
	return &Service{
		gateway:    gateway,
		payments:   payments,
		orders:     orders,
		unitOfWork: unitOfWork,
		reconciler: reconciler,
		events:     events,
		now:        time.Now,

		ledgerRetries:  defaultLedgerRetries,
		ledgerInterval: defaultLedgerInterval,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ProcessPayment runs the strategy for req.Method against o. Any failure
// other than a conflicting open payment is recorded on the order.
func (s *Service) ProcessPayment(ctx context.Context, req payment.Request, o *order.Order) (*payment.Result, error) {
	var (
		res *payment.Result
		err error
	)
	switch req.Method {
	case payment.MethodMpesa:
		res, err = s.processMpesa(ctx, req, o)
	case payment.MethodCOD:
		res, err = s.processCOD(ctx, o)
	case payment.MethodCard:
		err = core.NotImplemented(core.CodeNotImplemented, "Card payment not yet implemented")
	default:
		err = core.Validation(core.CodeInvalidPaymentMethod, fmt.Sprintf("unsupported payment method %q", req.Method))
	}
	if err != nil {
		var rec *recordedError
		if errors.As(err, &rec) {
			return nil, rec.err
		}
		if core.KindOf(err) != core.KindConflict {
			if ferr := s.fail(ctx, o.ID, nil, core.MessageOf(err), req.Method); ferr != nil {
				log.Error().Err(ferr).Str("order_number", o.OrderNumber).Msg("failed to record payment failure on order")
			}
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) processMpesa(ctx context.Context, req payment.Request, o *order.Order) (*payment.Result, error) {
	if err := s.gateway.ValidateConfig(); err != nil {
		return nil, core.Upstream(core.CodeConfigIncomplete, "M-Pesa is not configured").Wrap(err)
	}
	if req.Phone == "" {
		return nil, core.Validation(core.CodePhoneRequired, "phone number is required for M-Pesa payments")
	}
	phone, err := base.ValidatePhone(req.Phone)
	if err != nil {
		return nil, core.Validation(core.CodeInvalidPhone, "phone number is not a valid Kenyan mobile number").Wrap(err)
	}

	p, err := s.openPayment(ctx, o, payment.MethodMpesa, payment.StatusPending, payment.Metadata{
		"phoneNumber": phone,
		"orderNumber": o.OrderNumber,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.gateway.InitiatePushPayment(ctx, provider.PushPaymentReq{
		Phone:          phone,
		Amount:         o.TotalAmount,
		OrderReference: o.OrderNumber,
		Description:    descriptionPrefix + o.OrderNumber,
	})
	metrics.ObserveGateway(s.gateway.Name(), "stk_push", start, err)
	if err != nil {
		log.Warn().Err(err).Str("order_number", o.OrderNumber).Str("payment_id", p.ID).Msg("STK push failed")
		if ferr := s.fail(ctx, o.ID, p, err.Error(), payment.MethodMpesa); ferr != nil {
			log.Error().Err(ferr).Str("payment_id", p.ID).Msg("failed to record STK push failure")
		}
		return nil, &recordedError{err: upstreamError(err)}
	}

	meta := payment.Metadata{
		"merchantRequestId":   resp.MerchantRequestID,
		"checkoutRequestId":   resp.ProviderTransactionID,
		"responseCode":        resp.AckCode,
		"responseDescription": resp.AckDescription,
		"customerMessage":     resp.CustomerMessage,
	}

	if !resp.Accepted() {
		if resp.ProviderTransactionID != "" {
			txID := resp.ProviderTransactionID
			p.ProviderTransactionID = &txID
		}
		p.Merge(meta)
		reason := resp.AckDescription
		if reason == "" {
			reason = "M-Pesa did not accept the payment request"
		}
		if err := s.fail(ctx, o.ID, p, reason, payment.MethodMpesa); err != nil {
			return nil, err
		}
		return &payment.Result{
			Success:               false,
			PaymentID:             p.ID,
			Method:                payment.MethodMpesa,
			Status:                payment.StatusFailed,
			ProviderTransactionID: p.ProviderTransactionID,
			Message:               reason,
			CustomerMessage:       resp.CustomerMessage,
		}, nil
	}

	if err := s.markInitiated(ctx, o.ID, p, resp.ProviderTransactionID, meta); err != nil {
		// The push reached the phone; failing the order here would allow a
		// second charge. Leave it open for the callback and a manual check.
		log.Error().Err(err).
			Str("order_number", o.OrderNumber).
			Str("payment_id", p.ID).
			Str("checkout_request_id", resp.ProviderTransactionID).
			Str("merchant_request_id", resp.MerchantRequestID).
			Msg("STK push accepted but not recorded")
		return nil, &recordedError{err: fmt.Errorf("record checkout request %s: %w", resp.ProviderTransactionID, err)}
	}
	s.publish(ctx, messaging.PaymentInitiated, o, p)
	metrics.RecordPayment(string(payment.MethodMpesa), string(payment.StatusInitiated))

	log.Info().
		Str("order_number", o.OrderNumber).
		Str("payment_id", p.ID).
		Str("checkout_request_id", resp.ProviderTransactionID).
		Msg("M-Pesa payment initiated")

	return &payment.Result{
		Success:               true,
		PaymentID:             p.ID,
		Method:                payment.MethodMpesa,
		Status:                payment.StatusInitiated,
		ProviderTransactionID: p.ProviderTransactionID,
		Message:               mpesaInitiatedMessage,
		CustomerMessage:       resp.CustomerMessage,
	}, nil
}

func (s *Service) processCOD(ctx context.Context, o *order.Order) (*payment.Result, error) {
	p, err := s.openPayment(ctx, o, payment.MethodCOD, payment.StatusPendingDelivery, payment.Metadata{
		"note":        codNote,
		"orderNumber": o.OrderNumber,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordPayment(string(payment.MethodCOD), string(payment.StatusPendingDelivery))
	return &payment.Result{
		Success:                 true,
		PaymentID:               p.ID,
		Method:                  payment.MethodCOD,
		Status:                  payment.StatusPendingDelivery,
		Message:                 codConfirmedMessage,
		RequiresDeliveryPayment: true,
	}, nil
}

// openPayment inserts the payment row and mirrors its status on the order
// in one transaction.
func (s *Service) openPayment(ctx context.Context, o *order.Order, method payment.Method, status payment.Status, meta payment.Metadata) (*payment.Payment, error) {
	now := s.now()
	p, err := payment.NewPayment(o.ID, method, o.TotalAmount, status, meta, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.unitOfWork.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := tx.Orders().FindByID(ctx, o.ID)
	if err != nil {
		return nil, orderLookupError(err)
	}
	if err := tx.Payments().Create(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, core.Conflict(core.CodePaymentInProgress, "order already has a payment in progress").Wrap(err)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}
	current.PaymentMethod = method
	current.PaymentStatus = status
	current.UpdatedAt = now
	if err := tx.Orders().Update(ctx, current); err != nil {
		return nil, fmt.Errorf("update order payment status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	o.PaymentMethod, o.PaymentStatus, o.UpdatedAt = method, status, now
	return p, nil
}

// markInitiated stores the gateway acknowledgment on the payment and the
// order, retrying with backoff. p is updated only once the write committed.
func (s *Service) markInitiated(ctx context.Context, orderID string, p *payment.Payment, txID string, meta payment.Metadata) error {
	ctx = context.WithoutCancel(ctx)

	var saved *payment.Payment
	op := func() error {
		var err error
		saved, err = s.writeInitiated(ctx, orderID, p.ID, txID, meta)
		if err != nil && core.KindOf(err) == core.KindConflict || core.KindOf(err) == core.KindNotFound {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.ledgerInterval
	err := backoff.RetryNotify(op, backoff.WithMaxRetries(eb, s.ledgerRetries), func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("payment_id", p.ID).Dur("wait", wait).Msg("retrying payment acknowledgment write")
	})
	if err != nil {
		return err
	}
	*p = *saved
	return nil
}

func (s *Service) writeInitiated(ctx context.Context, orderID, paymentID, txID string, meta payment.Metadata) (*payment.Payment, error) {
	now := s.now()
	tx, err := s.unitOfWork.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := tx.Payments().FindByID(ctx, paymentID)
	if err != nil {
		return nil, paymentLookupError(err)
	}
	if err := p.MarkInitiated(txID, meta, now); err != nil {
		return nil, err
	}
	if err := tx.Payments().Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	o, err := tx.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, orderLookupError(err)
	}
	o.PaymentStatus = payment.StatusInitiated
	o.UpdatedAt = now
	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order payment status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit payment acknowledgment: %w", err)
	}
	return p, nil
}

// fail closes p (when present) as failed and notes the failure on the order,
// leaving the order PENDING so the payment can be retried.
func (s *Service) fail(ctx context.Context, orderID string, p *payment.Payment, reason string, method payment.Method) error {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	tx, err := s.unitOfWork.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p != nil {
		if err := p.MarkFailed(reason, payment.Metadata{"error": reason}, now); err != nil {
			return err
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
	}
	o, err := tx.Orders().FindByID(ctx, orderID)
	if err != nil {
		return orderLookupError(err)
	}
	o.RecordPaymentFailure(reason, now)
	if err := tx.Orders().Update(ctx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if p != nil {
		s.publish(ctx, messaging.PaymentFailed, o, p)
	}
	metrics.RecordPayment(string(method), string(payment.StatusFailed))
	return nil
}

// RetryPayment starts a new payment for a PENDING order whose previous
// attempts all failed. Empty request fields fall back to the last attempt.
func (s *Service) RetryPayment(ctx context.Context, caller user.Principal, orderID string, req payment.Request) (*payment.Result, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, orderLookupError(err)
	}
	if !caller.CanAccess(o.UserID) {
		return nil, core.Forbidden(core.CodeForbidden, "you do not have access to this order")
	}
	if o.Status != order.StatusPending {
		return nil, core.Conflict(core.CodePaymentNotRetryable,
			fmt.Sprintf("payment cannot be retried for an order in status %s", o.Status))
	}

	history, err := s.payments.FindByOrderID(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	for _, p := range history {
		switch {
		case p.Status.IsOpen():
			return nil, core.Conflict(core.CodePaymentInProgress, "order already has a payment in progress")
		case p.Status == payment.StatusCompleted:
			return nil, core.Conflict(core.CodePaymentNotRetryable, "order is already paid")
		}
	}

	if req.Method == "" {
		req.Method = o.PaymentMethod
	}
	if req.Phone == "" && len(history) > 0 {
		req.Phone = history[0].Phone()
	}
	if req.Phone == "" {
		req.Phone = o.Shipping.Phone
	}

	log.Info().Str("order_number", o.OrderNumber).Str("method", string(req.Method)).Msg("retrying payment")
	return s.ProcessPayment(ctx, req, o)
}

// GetPayment returns a payment visible to caller.
func (s *Service) GetPayment(ctx context.Context, caller user.Principal, id string) (*payment.Payment, error) {
	p, err := s.payments.FindByID(ctx, id)
	if err != nil {
		return nil, paymentLookupError(err)
	}
	if err := s.authorize(ctx, caller, p); err != nil {
		return nil, err
	}
	return p, nil
}

// StatusQuery is the outcome of a manual gateway status check.
type StatusQuery struct {
	Payment    *payment.Payment       `json:"payment"`
	Result     *provider.StatusResult `json:"result"`
	Resolution *Resolution            `json:"resolution,omitempty"`
}

// QueryProviderStatus asks the gateway about a push payment, stores the
// answer on the payment and applies a final result.
func (s *Service) QueryProviderStatus(ctx context.Context, caller user.Principal, providerTxID string) (*StatusQuery, error) {
	p, err := s.payments.FindByProviderTransactionID(ctx, providerTxID)
	if err != nil {
		return nil, paymentLookupError(err)
	}
	if err := s.authorize(ctx, caller, p); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.gateway.QueryStatus(ctx, providerTxID)
	metrics.ObserveGateway(s.gateway.Name(), "stk_query", start, err)
	if err != nil {
		return nil, upstreamError(err)
	}

	resolution, err := s.reconciler.Apply(ctx, OutcomeFromStatus(res, SourceStatusQuery), StatusQueryMetadata(res, s.now()), nil)
	if err != nil {
		return nil, err
	}
	updated, err := s.payments.FindByID(ctx, p.ID)
	if err != nil {
		return nil, paymentLookupError(err)
	}
	return &StatusQuery{Payment: updated, Result: res, Resolution: resolution}, nil
}

func (s *Service) authorize(ctx context.Context, caller user.Principal, p *payment.Payment) error {
	if caller.IsAdmin {
		return nil
	}
	o, err := s.orders.FindByID(ctx, p.OrderID)
	if err != nil {
		return orderLookupError(err)
	}
	if !caller.CanAccess(o.UserID) {
		return core.Forbidden(core.CodeForbidden, "you do not have access to this payment")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ string, o *order.Order, p *payment.Payment) {
	messaging.Emit(ctx, s.events, messaging.Event{
		Type:          typ,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(p.Status),
		PaymentID:     p.ID,
		Total:         o.TotalAmount,
		OccurredAt:    s.now(),
	})
}

// recordedError marks a failure already written to the ledger and the order.
type recordedError struct{ err error }

func (e *recordedError) Error() string { return e.err.Error() }
func (e *recordedError) Unwrap() error { return e.err }

func upstreamError(err error) error {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return core.Upstream(core.CodeGatewayError, pe.Message).Wrap(err)
	}
	return core.Upstream(core.CodeGatewayError, "payment gateway request failed").Wrap(err)
}

func orderLookupError(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return core.NotFound(core.CodeOrderNotFound, "order not found")
	}
	return fmt.Errorf("load order: %w", err)
}

func paymentLookupError(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return core.NotFound(core.CodePaymentNotFound, "payment not found")
	}
	return fmt.Errorf("load payment: %w", err)
}
