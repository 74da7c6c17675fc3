package event

import (
	"time"

	"malricpharma/internal/config"
	"malricpharma/internal/provider"
	"malricpharma/internal/services/payment"
	"malricpharma/internal/store/repositories"
)

// WorkerConfig holds configuration for the callback retry worker
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	MinAge       time.Duration
}

// DefaultWorkerConfig returns sensible defaults for the worker
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 15 * time.Second,
		BatchSize:    50,
		MaxAttempts:  5,
		MinAge:       10 * time.Second,
	}
}

// WorkerConfigFrom maps the worker settings.
func WorkerConfigFrom(cfg config.WorkerCfg) WorkerConfig {
	wc := DefaultWorkerConfig()
	wc.PollInterval = cfg.CallbackRetryEvery
	wc.MaxAttempts = cfg.CallbackMaxAttempts
	if cfg.ReconcileBatch > 0 {
		wc.BatchSize = cfg.ReconcileBatch
	}
	return wc
}

// System bundles the callback inbox pieces.
type System struct {
	Processor *Processor
	Worker    *Worker
	Replay    *ReplayService
}

// NewCallbackSystem wires processor, retry worker and replay service over
// one event repository.
func NewCallbackSystem(
	eventRepo repositories.EventRepository,
	gateway provider.Gateway,
	reconciler *payment.Reconciler,
	cfg WorkerConfig,
) *System {
	processor := NewProcessor(eventRepo, gateway, reconciler)
	return &System{
		Processor: processor,
		Worker:    NewWorker(eventRepo, processor, cfg),
		Replay:    NewReplayService(eventRepo, processor),
	}
}
