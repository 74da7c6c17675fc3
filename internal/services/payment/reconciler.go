package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/event"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/messaging"
	"malricpharma/internal/metrics"
	"malricpharma/internal/provider"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// Where an outcome came from.
const (
	SourceCallback    = "callback"
	SourceStatusQuery = "status_query"
	SourceReconcile   = "reconcile"
)

// Outcome is a gateway verdict on one push payment.
type Outcome struct {
	ProviderTransactionID string
	// Final is false while the payer has not answered yet.
	Final      bool
	Success    bool
	ResultCode string
	ResultDesc string
	Details    *provider.TransactionDetails
	Source     string
}

// OutcomeFromCallback converts a parsed callback.
func OutcomeFromCallback(cb *provider.CallbackResult) Outcome {
	return Outcome{
		ProviderTransactionID: cb.ProviderTransactionID,
		Final:                 true,
		Success:               cb.Success,
		ResultCode:            strconv.Itoa(cb.ResultCode),
		ResultDesc:            cb.ResultDesc,
		Details:               cb.Details,
		Source:                SourceCallback,
	}
}

// OutcomeFromStatus converts a status query answer.
func OutcomeFromStatus(res *provider.StatusResult, source string) Outcome {
	return Outcome{
		ProviderTransactionID: res.ProviderTransactionID,
		Final:                 res.Final(),
		Success:               res.Succeeded(),
		ResultCode:            res.ResultCode,
		ResultDesc:            res.ResultDesc,
		Source:                source,
	}
}

// StatusQueryMetadata is what a status query leaves on the payment.
func StatusQueryMetadata(res *provider.StatusResult, at time.Time) payment.Metadata {
	return payment.Metadata{
		"lastStatusQuery":   at.UTC().Format(time.RFC3339),
		"statusQueryResult": res,
	}
}

// Resolution reports what reconciliation did.
type Resolution struct {
	Found         bool           `json:"found"`
	Applied       bool           `json:"applied"`
	PaymentID     string         `json:"paymentId,omitempty"`
	OrderID       string         `json:"orderId,omitempty"`
	OrderNumber   string         `json:"orderNumber,omitempty"`
	PaymentStatus payment.Status `json:"paymentStatus,omitempty"`
	OrderStatus   order.Status   `json:"orderStatus,omitempty"`
}

// Reconciler finalizes payments and their orders from gateway outcomes.
// Payment, order, history and inbox event are written in one transaction.
type Reconciler struct {
	gateway    provider.Gateway
	unitOfWork repositories.UnitOfWork
	events     messaging.Publisher
	now        func() time.Time
}

func NewReconciler(gateway provider.Gateway, unitOfWork repositories.UnitOfWork, events messaging.Publisher) *Reconciler {
	if events == nil {
		events = messaging.NoopPublisher{}
	}
	return &Reconciler{gateway: gateway, unitOfWork: unitOfWork, events: events, now: time.Now}
}

// SetClock replaces the time source.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// HandleCallback parses a raw provider callback and applies it.
func (r *Reconciler) HandleCallback(ctx context.Context, raw []byte) (*Resolution, error) {
	cb, err := r.gateway.ParseCallback(raw)
	if err != nil {
		return nil, err
	}
	return r.Apply(ctx, OutcomeFromCallback(cb), nil, nil)
}

// Apply settles the payment identified by out.ProviderTransactionID. A
// payment that is already terminal is left as is, so duplicate deliveries
// are harmless. meta is merged into the payment either way. When evt is set
// it is closed in the same transaction.
func (r *Reconciler) Apply(ctx context.Context, out Outcome, meta payment.Metadata, evt *event.Event) (*Resolution, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()

	tx, err := r.unitOfWork.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := tx.Payments().FindByProviderTransactionID(ctx, out.ProviderTransactionID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Warn().
			Str("checkout_request_id", out.ProviderTransactionID).
			Str("source", out.Source).
			Msg("no payment for provider transaction")
		if evt != nil {
			closed := *evt
			closed.MarkIgnored("no payment for checkout request "+out.ProviderTransactionID, now)
			if err := tx.Events().Save(ctx, &closed); err != nil {
				return nil, fmt.Errorf("save event: %w", err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			*evt = closed
		}
		metrics.RecordCallback(out.Source, "not_found")
		return &Resolution{Found: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}

	o, err := tx.Orders().FindByID(ctx, p.OrderID)
	if err != nil {
		return nil, orderLookupError(err)
	}

	res := &Resolution{Found: true, PaymentID: p.ID, OrderID: o.ID, OrderNumber: o.OrderNumber}
	var history *order.StatusHistory

	if out.Final && out.Success && p.Status == payment.StatusFailed {
		log.Error().
			Str("payment_id", p.ID).
			Str("order_number", o.OrderNumber).
			Str("checkout_request_id", out.ProviderTransactionID).
			Msg("payer completed a payment already closed as failed")
		if meta == nil {
			meta = payment.Metadata{}
		}
		meta["lateSuccess"] = true
		meta["lateSuccessAt"] = now.UTC().Format(time.RFC3339)
	}

	if !out.Final || p.Status.IsTerminal() {
		if len(meta) > 0 {
			p.Merge(meta)
			p.UpdatedAt = now
			if err := tx.Payments().Update(ctx, p); err != nil {
				return nil, fmt.Errorf("update payment: %w", err)
			}
		}
	} else {
		history, err = r.settle(p, o, out, meta, now)
		if err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			return nil, fmt.Errorf("update payment: %w", err)
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return nil, fmt.Errorf("update order: %w", err)
		}
		if history != nil {
			if err := tx.Orders().AppendHistory(ctx, history); err != nil {
				return nil, fmt.Errorf("append history: %w", err)
			}
		}
		res.Applied = true
	}

	var closed event.Event
	if evt != nil {
		closed = *evt
		closed.MarkProcessed(now)
		if err := tx.Events().Save(ctx, &closed); err != nil {
			return nil, fmt.Errorf("save event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reconciliation: %w", err)
	}
	if evt != nil {
		*evt = closed
	}

	res.PaymentStatus = p.Status
	res.OrderStatus = o.Status
	if res.Applied {
		r.afterCommit(ctx, out, p, o, history)
	} else {
		metrics.RecordCallback(out.Source, "duplicate")
	}
	return res, nil
}

// settle moves p to its terminal status and the order along the state
// machine where the current status allows it.
func (r *Reconciler) settle(p *payment.Payment, o *order.Order, out Outcome, meta payment.Metadata, now time.Time) (*order.StatusHistory, error) {
	m := payment.Metadata{"resultCode": out.ResultCode, "resultDesc": out.ResultDesc, "settledBy": out.Source}
	for k, v := range meta {
		m[k] = v
	}

	if out.Success {
		notes := "Payment confirmed via M-Pesa"
		if d := out.Details; d != nil {
			m["mpesaReceiptNumber"] = d.ReceiptNumber
			m["transactionDate"] = d.TransactionDate
			m["phoneNumber"] = d.PhoneNumber
			m["paidAmount"] = d.Amount.String()
			if !d.Amount.Equal(p.Amount.Round(0)) && !d.Amount.Equal(p.Amount) {
				m["amountMismatch"] = true
				log.Warn().
					Str("payment_id", p.ID).
					Str("expected", p.Amount.String()).
					Str("paid", d.Amount.String()).
					Msg("paid amount differs from payment amount")
			}
			notes = fmt.Sprintf("Payment confirmed via M-Pesa (receipt %s)", d.ReceiptNumber)
		}
		if err := p.MarkCompleted(m, now); err != nil {
			return nil, err
		}
		o.PaymentStatus = payment.StatusCompleted
		o.UpdatedAt = now
		if !o.Status.CanTransitionTo(order.StatusConfirmed) {
			log.Warn().
				Str("order_number", o.OrderNumber).
				Str("status", string(o.Status)).
				Msg("payment completed for an order that cannot be confirmed")
			return nil, nil
		}
		return o.Transition(order.StatusConfirmed, nil, notes, now)
	}

	reason := out.ResultDesc
	if reason == "" {
		reason = "Payment was not completed"
	}
	if err := p.MarkFailed(reason, m, now); err != nil {
		return nil, err
	}
	o.PaymentStatus = payment.StatusFailed
	o.UpdatedAt = now
	if !o.Status.CanTransitionTo(order.StatusCancelled) {
		return nil, nil
	}
	return o.Transition(order.StatusCancelled, nil, "Payment failed: "+reason, now)
}

func (r *Reconciler) afterCommit(ctx context.Context, out Outcome, p *payment.Payment, o *order.Order, history *order.StatusHistory) {
	metrics.RecordPayment(string(p.Method), string(p.Status))
	metrics.RecordCallback(out.Source, string(p.Status))

	log.Info().
		Str("payment_id", p.ID).
		Str("order_number", o.OrderNumber).
		Str("payment_status", string(p.Status)).
		Str("order_status", string(o.Status)).
		Str("source", out.Source).
		Msg("payment reconciled")

	typ := messaging.PaymentFailed
	if p.Status == payment.StatusCompleted {
		typ = messaging.PaymentCompleted
	}
	r.emit(ctx, typ, p, o)
	if history != nil {
		typ = messaging.OrderStatusChanged
		if o.Status == order.StatusCancelled {
			typ = messaging.OrderCancelled
		}
		r.emit(ctx, typ, p, o)
	}
}

func (r *Reconciler) emit(ctx context.Context, typ string, p *payment.Payment, o *order.Order) {
	messaging.Emit(ctx, r.events, messaging.Event{
		Type:          typ,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(p.Status),
		PaymentID:     p.ID,
		Total:         o.TotalAmount,
		OccurredAt:    r.now(),
	})
}

// Abandon fails a payment that never reached the gateway acknowledgment,
// freeing the order for a retry. Payments no longer pending are skipped.
func (r *Reconciler) Abandon(ctx context.Context, paymentID, reason string) (bool, error) {
	now := r.now()
	tx, err := r.unitOfWork.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := tx.Payments().FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, core.NotFound(core.CodePaymentNotFound, "payment not found")
		}
		return false, err
	}
	if p.Status != payment.StatusPending {
		return false, nil
	}
	if err := p.MarkFailed(reason, payment.Metadata{"settledBy": SourceReconcile}, now); err != nil {
		return false, err
	}
	if err := tx.Payments().Update(ctx, p); err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}
	o, err := tx.Orders().FindByID(ctx, p.OrderID)
	if err != nil {
		return false, orderLookupError(err)
	}
	o.RecordPaymentFailure(reason, now)
	if err := tx.Orders().Update(ctx, o); err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	metrics.RecordPayment(string(p.Method), string(p.Status))
	r.emit(ctx, messaging.PaymentFailed, p, o)
	return true, nil
}

// QueryExpiredReason closes payments the gateway keeps refusing to report on.
const QueryExpiredReason = "Payment provider no longer reports on this request"

// RecordQueryFailure notes a failed status query on an initiated payment and
// bumps its update time so other stale payments get their turn. Gateway
// rejections are counted; transport errors are not. At maxRejections the
// payment is closed as failed and the order is left PENDING for a retry.
// It reports whether the payment was closed.
func (r *Reconciler) RecordQueryFailure(ctx context.Context, paymentID string, queryErr error, maxRejections int) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	tx, err := r.unitOfWork.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := tx.Payments().FindByID(ctx, paymentID)
	if err != nil {
		return false, paymentLookupError(err)
	}
	if p.Status != payment.StatusInitiated {
		return false, nil
	}

	rejections := metaInt(p.Metadata["statusQueryRejections"])
	var pe *provider.ProviderError
	if errors.As(queryErr, &pe) && pe.Code == provider.ErrRejected {
		rejections++
	}
	meta := payment.Metadata{
		"lastStatusQuery":       now.UTC().Format(time.RFC3339),
		"lastStatusError":       queryErr.Error(),
		"statusQueryRejections": rejections,
	}

	if maxRejections <= 0 || rejections < maxRejections {
		p.Merge(meta)
		p.UpdatedAt = now
		if err := tx.Payments().Update(ctx, p); err != nil {
			return false, fmt.Errorf("update payment: %w", err)
		}
		return false, tx.Commit(ctx)
	}

	meta["settledBy"] = SourceReconcile
	if err := p.MarkFailed(QueryExpiredReason, meta, now); err != nil {
		return false, err
	}
	if err := tx.Payments().Update(ctx, p); err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}
	o, err := tx.Orders().FindByID(ctx, p.OrderID)
	if err != nil {
		return false, orderLookupError(err)
	}
	o.RecordPaymentFailure(QueryExpiredReason, now)
	if err := tx.Orders().Update(ctx, o); err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	log.Warn().
		Str("payment_id", p.ID).
		Str("order_number", o.OrderNumber).
		Int("rejections", rejections).
		Msg("closed payment after repeated status query rejections")
	metrics.RecordPayment(string(p.Method), string(p.Status))
	r.emit(ctx, messaging.PaymentFailed, p, o)
	return true, nil
}

// metaInt reads a counter that may have round-tripped through JSON.
func metaInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
