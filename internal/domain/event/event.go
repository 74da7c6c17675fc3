package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a raw provider callback kept in the inbox until it has been
// reconciled against a payment.
type Event struct {
	ID               string
	Provider         string
	ExternalID       string
	Payload          []byte
	ProcessingStatus ProcessingStatus
	Attempts         int
	LastError        string
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
}

// ProcessingStatus represents the event processing status
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingProcessed ProcessingStatus = "processed"
	ProcessingFailed    ProcessingStatus = "failed"
	ProcessingIgnored   ProcessingStatus = "ignored"
)

// NewEvent records a callback body as received.
func NewEvent(provider, externalID string, payload []byte, now time.Time) (*Event, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	return &Event{
		ID:               uuid.NewString(),
		Provider:         provider,
		ExternalID:       externalID,
		Payload:          payload,
		ProcessingStatus: ProcessingPending,
		ReceivedAt:       now,
	}, nil
}

// MarkProcessed closes the event after a successful reconciliation.
func (e *Event) MarkProcessed(now time.Time) {
	e.ProcessingStatus = ProcessingProcessed
	e.Attempts++
	e.LastError = ""
	e.ProcessedAt = &now
}

// MarkIgnored closes an event that can never be applied, such as an unknown
// transaction id or an unparseable body.
func (e *Event) MarkIgnored(reason string, now time.Time) {
	e.ProcessingStatus = ProcessingIgnored
	e.Attempts++
	e.LastError = reason
	e.ProcessedAt = &now
}

// MarkFailed leaves the event open for another attempt.
func (e *Event) MarkFailed(cause error) {
	e.ProcessingStatus = ProcessingFailed
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
}

// MarkForReprocessing reopens a closed or exhausted event.
func (e *Event) MarkForReprocessing() error {
	if e.ProcessingStatus == ProcessingPending {
		return fmt.Errorf("event %s is already pending", e.ID)
	}
	e.ProcessingStatus = ProcessingPending
	e.Attempts = 0
	e.ProcessedAt = nil
	return nil
}

// IsProcessed reports whether the event is closed.
func (e *Event) IsProcessed() bool {
	return e.ProcessingStatus == ProcessingProcessed || e.ProcessingStatus == ProcessingIgnored
}

// Retryable reports whether the worker may pick the event up again.
func (e *Event) Retryable(maxAttempts int) bool {
	return !e.IsProcessed() && e.Attempts < maxAttempts
}
