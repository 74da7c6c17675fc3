package event

import (
	"context"
	"errors"
	"fmt"

	"malricpharma/internal/core"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

const maxReplayBatch = 200

// ReplayService reopens stored callbacks and runs them again.
type ReplayService struct {
	eventRepo repositories.EventRepository
	processor *Processor
}

// NewReplayService creates a new event replay service
func NewReplayService(eventRepo repositories.EventRepository, processor *Processor) *ReplayService {
	return &ReplayService{
		eventRepo: eventRepo,
		processor: processor,
	}
}

// ReplayRequest represents an event replay request
type ReplayRequest struct {
	EventIDs []string `json:"eventIds"`
}

// ReplayResult is the outcome for one event.
type ReplayResult struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// ReplayResponse represents the result of an event replay operation
type ReplayResponse struct {
	RequeuedCount  int            `json:"requeued"`
	ProcessedCount int            `json:"processed"`
	Results        []ReplayResult `json:"results"`
}

// ReplayEvents reopens each listed event and processes it immediately.
// Unknown ids are reported per event, not as a request failure.
func (s *ReplayService) ReplayEvents(ctx context.Context, req ReplayRequest) (*ReplayResponse, error) {
	if len(req.EventIDs) == 0 {
		return nil, core.Validation(core.CodeInvalidRequest, "eventIds must not be empty")
	}
	if len(req.EventIDs) > maxReplayBatch {
		return nil, core.Validation(core.CodeInvalidRequest, fmt.Sprintf("at most %d events can be replayed at once", maxReplayBatch))
	}

	resp := &ReplayResponse{Results: make([]ReplayResult, 0, len(req.EventIDs))}
	for _, id := range req.EventIDs {
		r := ReplayResult{EventID: id}

		evt, err := s.eventRepo.FindByID(ctx, id)
		if err != nil {
			r.Status = "error"
			r.Error = err.Error()
			if errors.Is(err, repositories.ErrNotFound) {
				r.Status, r.Error = "not_found", ""
			}
			resp.Results = append(resp.Results, r)
			continue
		}

		// An event still pending is replayed as is.
		_ = evt.MarkForReprocessing()
		if err := s.eventRepo.Save(ctx, evt); err != nil {
			r.Status, r.Error = "error", err.Error()
			resp.Results = append(resp.Results, r)
			continue
		}
		resp.RequeuedCount++

		if _, err := s.processor.ProcessEvent(ctx, evt); err != nil {
			r.Error = err.Error()
		} else {
			resp.ProcessedCount++
		}
		r.Status = string(evt.ProcessingStatus)
		resp.Results = append(resp.Results, r)
	}

	log.Info().
		Int("requested", len(req.EventIDs)).
		Int("requeued", resp.RequeuedCount).
		Int("processed", resp.ProcessedCount).
		Msg("callback events replayed")
	return resp, nil
}
