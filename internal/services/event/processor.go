package event

import (
	"context"
	"errors"
	"time"

	"malricpharma/internal/domain/event"
	"malricpharma/internal/metrics"
	"malricpharma/internal/provider"
	"malricpharma/internal/services/payment"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// Processor keeps every provider callback in the inbox and reconciles it
// against the payment ledger.
type Processor struct {
	eventRepo  repositories.EventRepository
	gateway    provider.Gateway
	reconciler *payment.Reconciler
	now        func() time.Time
}

// NewProcessor creates a new event processor
func NewProcessor(
	eventRepo repositories.EventRepository,
	gateway provider.Gateway,
	reconciler *payment.Reconciler,
) *Processor {
	return &Processor{
		eventRepo:  eventRepo,
		gateway:    gateway,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// Receive stores a raw callback body and processes it. The body is kept even
// when it cannot be parsed so it can be inspected and replayed.
func (p *Processor) Receive(ctx context.Context, raw []byte) (*payment.Resolution, error) {
	externalID := ""
	if cb, err := p.gateway.ParseCallback(raw); err == nil {
		externalID = cb.ProviderTransactionID
	}

	evt, err := event.NewEvent(p.gateway.Name(), externalID, raw, p.now())
	if err != nil {
		metrics.RecordCallback(p.gateway.Name(), "rejected")
		return nil, err
	}
	if err := p.eventRepo.Save(ctx, evt); err != nil {
		// Reconciliation still runs; only the inbox copy is lost.
		log.Error().Err(err).Str("external_id", externalID).Msg("failed to store callback event")
	}
	return p.ProcessEvent(ctx, evt)
}

// ProcessEvent reconciles one stored callback. Unparseable bodies are closed
// as ignored; other failures leave the event open for the retry worker.
func (p *Processor) ProcessEvent(ctx context.Context, evt *event.Event) (*payment.Resolution, error) {
	cb, err := p.gateway.ParseCallback(evt.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", evt.ID).Msg("failed to parse callback payload")
		evt.MarkIgnored(err.Error(), p.now())
		p.save(ctx, evt)
		metrics.RecordCallback(evt.Provider, "invalid")
		return nil, err
	}

	res, err := p.reconciler.Apply(ctx, payment.OutcomeFromCallback(cb), nil, evt)
	if err != nil {
		log.Error().Err(err).Str("event_id", evt.ID).Str("external_id", evt.ExternalID).Msg("callback reconciliation failed")
		evt.MarkFailed(err)
		p.save(ctx, evt)
		metrics.RecordCallback(evt.Provider, "error")
		return nil, err
	}
	return res, nil
}

// ProcessEventByID processes a specific event by ID (useful for manual reprocessing)
func (p *Processor) ProcessEventByID(ctx context.Context, eventID string) (*payment.Resolution, error) {
	evt, err := p.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return p.ProcessEvent(ctx, evt)
}

func (p *Processor) save(ctx context.Context, evt *event.Event) {
	if err := p.eventRepo.Save(context.WithoutCancel(ctx), evt); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("event_id", evt.ID).Msg("failed to update callback event")
	}
}
