package event

import (
	"context"
	"time"

	"malricpharma/internal/domain/event"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// Worker retries callback events whose reconciliation failed.
type Worker struct {
	eventRepo   repositories.EventRepository
	processor   *Processor
	pollEvery   time.Duration
	batchSize   int
	maxAttempts int
	// minAge keeps the worker away from events the webhook is still handling.
	minAge time.Duration
	now    func() time.Time
}

// NewWorker creates a new callback retry worker
func NewWorker(eventRepo repositories.EventRepository, processor *Processor, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = 0
	}
	return &Worker{
		eventRepo:   eventRepo,
		processor:   processor,
		pollEvery:   cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		minAge:      cfg.MinAge,
		now:         time.Now,
	}
}

// Run starts the worker and processes events until context is cancelled
func (w *Worker) Run(ctx context.Context) {
	log.Info().
		Dur("poll_every", w.pollEvery).
		Int("batch_size", w.batchSize).
		Int("max_attempts", w.maxAttempts).
		Msg("callback retry worker started")

	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("callback retry worker stopping")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("error processing callback batch")
			}
		}
	}
}

// RunOnce processes one batch and reports how many events were closed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	events, err := w.eventRepo.FindRetryable(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		return 0, err
	}

	cutoff := w.now().Add(-w.minAge)
	closed := 0
	for _, evt := range events {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if evt.ReceivedAt.After(cutoff) {
			continue
		}
		if w.processEvent(ctx, evt) {
			closed++
		}
	}
	return closed, nil
}

func (w *Worker) processEvent(ctx context.Context, evt *event.Event) bool {
	start := time.Now()
	res, err := w.processor.ProcessEvent(ctx, evt)
	if err != nil {
		ev := log.Error()
		if !evt.Retryable(w.maxAttempts) {
			ev = log.Warn().Bool("exhausted", true)
		}
		ev.Err(err).
			Str("event_id", evt.ID).
			Str("external_id", evt.ExternalID).
			Int("attempts", evt.Attempts).
			Msg("callback event retry failed")
		return evt.IsProcessed()
	}

	log.Info().
		Str("event_id", evt.ID).
		Str("external_id", evt.ExternalID).
		Bool("found", res.Found).
		Bool("applied", res.Applied).
		Dur("duration", time.Since(start)).
		Msg("callback event processed")
	return true
}
