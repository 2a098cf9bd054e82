package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/erp/reconciler/internal/domain/order"
)

// Envelope is a payload normalized into the canonical shape every platform
// maps onto.
type Envelope struct {
	Platform        PlatformCode     `validate:"required"`
	ExternalOrderID string           `validate:"required,max=128"`
	VersionToken    string           `validate:"required,max=128"`
	EventType       string           `validate:"max=64"`
	Status          order.Status     `validate:"required"`
	SequenceHint    int64            `validate:"gte=0"`
	Lines           []order.LineItem `validate:"dive"`
	// PlatformStatus is the raw status the platform reported, kept for logs.
	PlatformStatus string
}

// IdempotencyKey derives the dedup key from the platform's own data. It
// never depends on arrival time, so a redelivery collides with the first
// copy.
func (e *Envelope) IdempotencyKey() string {
	return IdempotencyKey(e.Platform, e.ExternalOrderID, e.VersionToken)
}

// Facts converts the envelope into what the order aggregate consumes.
func (e *Envelope) Facts(ev *RawEvent) order.EventFacts {
	return order.EventFacts{
		EventID:      ev.ID,
		Status:       e.Status,
		SequenceHint: e.SequenceHint,
		ReceivedAt:   ev.ReceivedAt,
		Lines:        e.Lines,
	}
}

// IdempotencyKey formats PLATFORM:external_order_id:version_token.
func IdempotencyKey(platform PlatformCode, externalOrderID, versionToken string) string {
	return fmt.Sprintf("%s:%s:%s", platform, externalOrderID, versionToken)
}

// MalformedKey is the key of a payload that could not be normalized. It
// hashes the payload so redelivering the same broken payload collides too.
func MalformedKey(platform PlatformCode, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s:malformed:%s", platform, hex.EncodeToString(sum[:]))
}

// IngestStatus is what intake reports back to the submitter.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"
	IngestDuplicate IngestStatus = "duplicate"
	IngestMalformed IngestStatus = "malformed"
)
