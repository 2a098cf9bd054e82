package models

import (
	"time"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/google/uuid"
)

// RawEventModel is the persistence model for the event log.
type RawEventModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Platform        string     `gorm:"type:varchar(20);not null;index:idx_raw_events_order,priority:1"`
	ExternalOrderID string     `gorm:"type:varchar(100);not null;default:'';index:idx_raw_events_order,priority:2"`
	IdempotencyKey  string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	EventType       string     `gorm:"type:varchar(50);not null;default:''"`
	SequenceHint    int64      `gorm:"not null;default:0"`
	Payload         []byte     `gorm:"not null"`
	ReceivedAt      time.Time  `gorm:"not null;index"`
	Processed       bool       `gorm:"not null;default:false"`
	ProcessedAt     *time.Time `gorm:"index:idx_raw_events_processed"`
	ProcessingError string     `gorm:"type:text;not null;default:''"`
	AttemptCount    int        `gorm:"not null;default:0"`
	NextRetryAt     *time.Time `gorm:"index"`
	DeadLettered    bool       `gorm:"not null;default:false;index"`
	Outcome         string     `gorm:"type:varchar(30);not null;default:''"`
}

// TableName returns the table name for GORM
func (RawEventModel) TableName() string {
	return "raw_events"
}

// ToDomain converts the model to a domain RawEvent
func (m *RawEventModel) ToDomain() *intake.RawEvent {
	return &intake.RawEvent{
		ID:              m.ID,
		Platform:        intake.PlatformCode(m.Platform),
		ExternalOrderID: m.ExternalOrderID,
		IdempotencyKey:  m.IdempotencyKey,
		EventType:       m.EventType,
		SequenceHint:    m.SequenceHint,
		Payload:         m.Payload,
		ReceivedAt:      m.ReceivedAt,
		Processed:       m.Processed,
		ProcessedAt:     m.ProcessedAt,
		ProcessingError: m.ProcessingError,
		AttemptCount:    m.AttemptCount,
		NextRetryAt:     m.NextRetryAt,
		DeadLettered:    m.DeadLettered,
		Outcome:         m.Outcome,
	}
}

// RawEventModelFromDomain builds a model from a domain RawEvent
func RawEventModelFromDomain(e *intake.RawEvent) *RawEventModel {
	return &RawEventModel{
		ID:              e.ID,
		Platform:        string(e.Platform),
		ExternalOrderID: e.ExternalOrderID,
		IdempotencyKey:  e.IdempotencyKey,
		EventType:       e.EventType,
		SequenceHint:    e.SequenceHint,
		Payload:         e.Payload,
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

// StateColumns are the mutable processing columns of a raw event.
func (m *RawEventModel) StateColumns() map[string]any {
	return map[string]any{
		"external_order_id": m.ExternalOrderID,
		"event_type":        m.EventType,
		"sequence_hint":     m.SequenceHint,
		"processed":         m.Processed,
		"processed_at":      m.ProcessedAt,
		"processing_error":  m.ProcessingError,
		"attempt_count":     m.AttemptCount,
		"next_retry_at":     m.NextRetryAt,
		"dead_lettered":     m.DeadLettered,
		"outcome":           m.Outcome,
	}
}
