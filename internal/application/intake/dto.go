package intake

import (
	"time"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/google/uuid"
)

// SubmitResult is what intake reports for one payload
type SubmitResult struct {
	EventID         uuid.UUID           `json:"event_id"`
	Status          intake.IngestStatus `json:"status"`
	Platform        string              `json:"platform"`
	ExternalOrderID string              `json:"external_order_id,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key"`
	Event           *intake.RawEvent    `json:"-"`
}

// EventResponse describes a stored event without its payload
type EventResponse struct {
	ID              uuid.UUID  `json:"id"`
	Platform        string     `json:"platform"`
	ExternalOrderID string     `json:"external_order_id,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
	EventType       string     `json:"event_type,omitempty"`
	SequenceHint    int64      `json:"sequence_hint"`
	ReceivedAt      time.Time  `json:"received_at"`
	Processed       bool       `json:"processed"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error,omitempty"`
	AttemptCount    int        `json:"attempt_count"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	DeadLettered    bool       `json:"dead_lettered"`
	Outcome         string     `json:"outcome,omitempty"`
}

// ToEventResponse converts a stored event
func ToEventResponse(e *intake.RawEvent) EventResponse {
	return EventResponse{
		ID:              e.ID,
		Platform:        string(e.Platform),
		ExternalOrderID: e.ExternalOrderID,
		IdempotencyKey:  e.IdempotencyKey,
		EventType:       e.EventType,
		SequenceHint:    e.SequenceHint,
		ReceivedAt:      e.ReceivedAt,
		Processed:       e.Processed,
		ProcessedAt:     e.ProcessedAt,
		ProcessingError: e.ProcessingError,
		AttemptCount:    e.AttemptCount,
		NextRetryAt:     e.NextRetryAt,
		DeadLettered:    e.DeadLettered,
		Outcome:         e.Outcome,
	}
}
