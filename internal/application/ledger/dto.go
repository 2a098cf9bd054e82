package ledger

import (
	"time"

	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// BalanceResponse is the stock position of one SKU
type BalanceResponse struct {
	SKU           string    `json:"sku"`
	OnHand        int64     `json:"on_hand"`
	Reserved      int64     `json:"reserved"`
	Available     int64     `json:"available"`
	Version       int       `json:"version"`
	MovementCount int64     `json:"movement_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MovementResponse is one ledger entry
type MovementResponse struct {
	ID                uuid.UUID  `json:"id"`
	SKU               string     `json:"sku"`
	Delta             int64      `json:"delta"`
	MovementType      string     `json:"movement_type"`
	ReferenceType     string     `json:"reference_type"`
	ReferenceOrderID  *uuid.UUID `json:"reference_order_id,omitempty"`
	ReferenceLineID   string     `json:"reference_line_id,omitempty"`
	ReceiptID         string     `json:"receipt_id,omitempty"`
	AllocationVersion int        `json:"allocation_version,omitempty"`
	Note              string     `json:"note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// DriftResponse is the result of auditing one SKU
type DriftResponse struct {
	SKU          string          `json:"sku"`
	Materialized ledger.Position `json:"materialized"`
	Replayed     ledger.Position `json:"replayed"`
	Diverged     bool            `json:"diverged"`
	Repaired     bool            `json:"repaired"`
}

// AuditReport summarizes an audit over many SKUs
type AuditReport struct {
	Checked  int             `json:"checked"`
	Diverged int             `json:"diverged"`
	Repaired int             `json:"repaired"`
	Drifts   []DriftResponse `json:"drifts"`
}

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// AdjustRequest records a receipt, opening stock or count correction
type AdjustRequest struct {
	Delta     int64  `json:"delta" binding:"required"`
	ReceiptID string `json:"receipt_id" binding:"required,max=64"`
	Note      string `json:"note" binding:"max=255"`
}

// ---------------------------------------------------------------------------
// Mappers
// ---------------------------------------------------------------------------

// ToBalanceResponse converts a domain balance
func ToBalanceResponse(b *ledger.Balance) BalanceResponse {
	return BalanceResponse{
		SKU:           b.SKU,
		OnHand:        b.OnHand,
		Reserved:      b.Reserved,
		Available:     b.Available(),
		Version:       b.Version,
		MovementCount: b.MovementCount,
		UpdatedAt:     b.UpdatedAt,
	}
}

// ToMovementResponse converts a domain movement
func ToMovementResponse(m *ledger.Movement) MovementResponse {
	resp := MovementResponse{
		ID:                m.ID,
		SKU:               m.SKU,
		Delta:             m.Delta,
		MovementType:      string(m.Type),
		ReferenceType:     string(m.ReferenceType),
		ReferenceLineID:   m.ReferenceLineID,
		ReceiptID:         m.ReceiptID,
		AllocationVersion: m.AllocationVersion,
		Note:              m.Note,
		CreatedAt:         m.CreatedAt,
	}
	if m.ReferenceOrderID != uuid.Nil {
		id := m.ReferenceOrderID
		resp.ReferenceOrderID = &id
	}
	return resp
}

func toMovementResponses(ms []*ledger.Movement) []MovementResponse {
	out := make([]MovementResponse, len(ms))
	for i, m := range ms {
		out[i] = ToMovementResponse(m)
	}
	return out
}

func toDriftResponse(d ledger.Drift, repaired bool) DriftResponse {
	return DriftResponse{
		SKU:          d.SKU,
		Materialized: d.Materialized,
		Replayed:     d.Replayed,
		Diverged:     d.Diverged(),
		Repaired:     repaired,
	}
}
