package ecommerce

import (
	"encoding/json"
	"fmt"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
)

// CanonicalEvent is an already-normalized webhook envelope. Internal
// collaborators post it with their own event id and sequence.
type CanonicalEvent struct {
	EventID   string           `json:"event_id"`
	OrderID   string           `json:"order_id"`
	EventType string           `json:"event_type,omitempty"`
	Status    string           `json:"status"`
	Sequence  int64            `json:"sequence"`
	Lines     []order.LineItem `json:"lines,omitempty"`
}

// CanonicalNormalizer accepts CanonicalEvent payloads
type CanonicalNormalizer struct{}

// NewCanonicalNormalizer creates a canonical normalizer
func NewCanonicalNormalizer() *CanonicalNormalizer {
	return &CanonicalNormalizer{}
}

// Platform returns the platform code
func (n *CanonicalNormalizer) Platform() intake.PlatformCode {
	return intake.PlatformCanonical
}

// Normalize decodes the envelope. The event id is the version token.
func (n *CanonicalNormalizer) Normalize(payload []byte) (*intake.Envelope, error) {
	var ev CanonicalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("canonical: decode event: %w", err)
	}
	if ev.OrderID == "" {
		return nil, intake.ErrMissingOrderID
	}
	if ev.EventID == "" {
		return nil, intake.ErrMissingVersionToken
	}
	status, ok := order.ParseStatus(ev.Status)
	if !ok {
		return nil, fmt.Errorf("%w: canonical %q", intake.ErrUnmappedStatus, ev.Status)
	}

	lines := make([]order.LineItem, 0, len(ev.Lines))
	for _, l := range ev.Lines {
		l.SKU = ledger.NormalizeSKU(l.SKU)
		lines = append(lines, l)
	}

	return &intake.Envelope{
		Platform:        intake.PlatformCanonical,
		ExternalOrderID: ev.OrderID,
		VersionToken:    ev.EventID,
		EventType:       ev.EventType,
		Status:          status,
		SequenceHint:    ev.Sequence,
		Lines:           lines,
		PlatformStatus:  ev.Status,
	}, nil
}
