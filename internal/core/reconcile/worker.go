// Package reconcile settles push payments whose callback never arrived.
package reconcile

import (
	"context"
	"time"

	"malricpharma/internal/domain/payment"
	"malricpharma/internal/metrics"
	"malricpharma/internal/provider"
	paysvc "malricpharma/internal/services/payment"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

const (
	abandonReason = "Payment request did not reach the payment provider"

	defaultMaxRejections = 5
)

type Worker struct {
	payments   repositories.PaymentRepository
	gateway    provider.Gateway
	reconciler *paysvc.Reconciler
	pollEvery  time.Duration
	staleAfter time.Duration
	batch      int
	// maxRejections closes a payment once the gateway has refused that many
	// status queries for it.
	maxRejections int
	now           func() time.Time
}

func NewWorker(payments repositories.PaymentRepository, gateway provider.Gateway, reconciler *paysvc.Reconciler,
	pollEvery, staleAfter time.Duration, batch int) *Worker {
	if pollEvery <= 0 {
		pollEvery = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 3 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Worker{
		payments:   payments,
		gateway:    gateway,
		reconciler: reconciler,
		pollEvery:  pollEvery,
		staleAfter: staleAfter,
		batch:      batch,

		maxRejections: defaultMaxRejections,
		now:           time.Now,
	}
}

// SetClock replaces the time source.
func (w *Worker) SetClock(now func() time.Time) { w.now = now }

// SetMaxRejections overrides the default of 5. Values below 1 are ignored.
func (w *Worker) SetMaxRejections(n int) {
	if n > 0 {
		w.maxRejections = n
	}
}

func (w *Worker) Run(ctx context.Context) {
	log.Info().Dur("poll_every", w.pollEvery).Dur("stale_after", w.staleAfter).Msg("reconcile worker: started")
	t := time.NewTicker(w.pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile worker: stopping")
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Stats counts what one tick did.
type Stats struct {
	Queried   int
	Settled   int
	Pending   int
	Abandoned int
	Expired   int
	Errors    int
}

// Tick queries the gateway for stale initiated payments and fails pending
// ones that never got a provider transaction id.
func (w *Worker) Tick(ctx context.Context) Stats {
	var st Stats
	cutoff := w.now().Add(-w.staleAfter)

	initiated, err := w.payments.FindStale(ctx, payment.StatusInitiated, cutoff, w.batch)
	if err != nil {
		log.Error().Err(err).Msg("reconcile worker: fetch initiated payments failed")
		st.Errors++
	}
	for _, p := range initiated {
		if ctx.Err() != nil {
			return st
		}
		w.settle(ctx, p, &st)
	}

	pending, err := w.payments.FindStale(ctx, payment.StatusPending, cutoff, w.batch)
	if err != nil {
		log.Error().Err(err).Msg("reconcile worker: fetch pending payments failed")
		st.Errors++
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return st
		}
		if p.Method != payment.MethodMpesa || p.ProviderTransactionID != nil {
			continue
		}
		ok, err := w.reconciler.Abandon(ctx, p.ID, abandonReason)
		if err != nil {
			log.Error().Err(err).Str("payment_id", p.ID).Msg("reconcile worker: abandon failed")
			st.Errors++
			continue
		}
		if ok {
			st.Abandoned++
		}
	}

	if st.Queried+st.Abandoned+st.Errors > 0 {
		log.Info().
			Int("queried", st.Queried).
			Int("settled", st.Settled).
			Int("still_pending", st.Pending).
			Int("abandoned", st.Abandoned).
			Int("expired", st.Expired).
			Int("errors", st.Errors).
			Msg("reconcile worker: tick done")
	}
	return st
}

func (w *Worker) settle(ctx context.Context, p *payment.Payment, st *Stats) {
	if p.ProviderTransactionID == nil {
		return
	}
	txID := *p.ProviderTransactionID
	st.Queried++

	start := time.Now()
	res, err := w.gateway.QueryStatus(ctx, txID)
	metrics.ObserveGateway(w.gateway.Name(), "stk_query", start, err)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", p.ID).Str("checkout_request_id", txID).Msg("reconcile worker: status query failed")
		st.Errors++
		closed, rerr := w.reconciler.RecordQueryFailure(ctx, p.ID, err, w.maxRejections)
		if rerr != nil {
			log.Error().Err(rerr).Str("payment_id", p.ID).Msg("reconcile worker: recording query failure failed")
			return
		}
		if closed {
			st.Expired++
		}
		return
	}

	out := paysvc.OutcomeFromStatus(res, paysvc.SourceReconcile)
	resolution, err := w.reconciler.Apply(ctx, out, paysvc.StatusQueryMetadata(res, w.now()), nil)
	if err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("reconcile worker: apply failed")
		st.Errors++
		return
	}
	if resolution.Applied {
		st.Settled++
	} else if !out.Final {
		st.Pending++
	}
}
