package models

import (
	"time"

	"github.com/erp/reconciler/internal/domain/order"
	"github.com/google/uuid"
)

// OrderModel is the persistence model for the Order aggregate root.
// Lines and flags are small and always read with the order, so they are
// stored as JSON columns.
type OrderModel struct {
	AggregateModel
	Platform              string           `gorm:"type:varchar(20);not null;uniqueIndex:idx_orders_platform_external,priority:1"`
	ExternalOrderID       string           `gorm:"type:varchar(100);not null;uniqueIndex:idx_orders_platform_external,priority:2"`
	Status                string           `gorm:"type:varchar(30);not null;index"`
	Lines                 []order.LineItem `gorm:"serializer:json;type:text;not null"`
	LastAppliedSequence   int64            `gorm:"not null;default:0"`
	LastAppliedEventID    uuid.UUID        `gorm:"type:uuid"`
	LastAppliedReceivedAt time.Time        `gorm:"not null"`
	Flags                 []string         `gorm:"serializer:json;type:text;not null"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the model to a domain Order
func (m *OrderModel) ToDomain() *order.Order {
	return &order.Order{
		BaseAggregateRoot:     m.ToDomainAggregateRoot(),
		Platform:              m.Platform,
		ExternalOrderID:       m.ExternalOrderID,
		Status:                order.Status(m.Status),
		Lines:                 m.Lines,
		LastAppliedSequence:   m.LastAppliedSequence,
		LastAppliedEventID:    m.LastAppliedEventID,
		LastAppliedReceivedAt: m.LastAppliedReceivedAt,
		Flags:                 m.Flags,
	}
}

// OrderModelFromDomain builds a model from a domain Order
func OrderModelFromDomain(o *order.Order) *OrderModel {
	m := &OrderModel{
		Platform:              o.Platform,
		ExternalOrderID:       o.ExternalOrderID,
		Status:                string(o.Status),
		Lines:                 o.Lines,
		LastAppliedSequence:   o.LastAppliedSequence,
		LastAppliedEventID:    o.LastAppliedEventID,
		LastAppliedReceivedAt: o.LastAppliedReceivedAt,
		Flags:                 o.Flags,
	}
	if m.Lines == nil {
		m.Lines = []order.LineItem{}
	}
	if m.Flags == nil {
		m.Flags = []string{}
	}
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	return m
}

// OrderTransitionModel is one row of an order's transition history.
type OrderTransitionModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID      uuid.UUID `gorm:"type:uuid;not null;index:idx_order_transitions_order,priority:1"`
	EventID      uuid.UUID `gorm:"type:uuid;not null"`
	FromStatus   string    `gorm:"type:varchar(30);not null;default:''"`
	ToStatus     string    `gorm:"type:varchar(30);not null"`
	SequenceHint int64     `gorm:"not null;default:0"`
	Outcome      string    `gorm:"type:varchar(30);not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_order_transitions_order,priority:2"`
}

// TableName returns the table name for GORM
func (OrderTransitionModel) TableName() string {
	return "order_transitions"
}

// ToDomain converts the model to a domain Transition
func (m *OrderTransitionModel) ToDomain() *order.Transition {
	return &order.Transition{
		ID:           m.ID,
		OrderID:      m.OrderID,
		EventID:      m.EventID,
		FromStatus:   order.Status(m.FromStatus),
		ToStatus:     order.Status(m.ToStatus),
		SequenceHint: m.SequenceHint,
		Outcome:      order.Outcome(m.Outcome),
		CreatedAt:    m.CreatedAt,
	}
}

// OrderTransitionModelFromDomain builds a model from a domain Transition
func OrderTransitionModelFromDomain(t *order.Transition) *OrderTransitionModel {
	return &OrderTransitionModel{
		ID:           t.ID,
		OrderID:      t.OrderID,
		EventID:      t.EventID,
		FromStatus:   string(t.FromStatus),
		ToStatus:     string(t.ToStatus),
		SequenceHint: t.SequenceHint,
		Outcome:      string(t.Outcome),
		CreatedAt:    t.CreatedAt,
	}
}
