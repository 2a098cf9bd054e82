package intake

import (
	"errors"
	"strings"
)

// ---------------------------------------------------------------------------
// Intake Errors
// ---------------------------------------------------------------------------

var (
	ErrUnknownPlatform     = errors.New("intake: unknown platform")
	ErrEmptyPayload        = errors.New("intake: empty payload")
	ErrMissingOrderID      = errors.New("intake: payload has no external order id")
	ErrMissingVersionToken = errors.New("intake: payload has no version token")
	ErrUnmappedStatus      = errors.New("intake: platform status has no canonical mapping")
	ErrEventNotFound       = errors.New("intake: event not found")
	ErrNotDeadLettered     = errors.New("intake: event is not dead-lettered")
)

// ---------------------------------------------------------------------------
// PlatformCode
// ---------------------------------------------------------------------------

// PlatformCode identifies the dialect a payload is written in
type PlatformCode string

const (
	// PlatformTaobao is a Taobao/Tmall trade notification
	PlatformTaobao PlatformCode = "TAOBAO"
	// PlatformDouyin is a Douyin shop order push
	PlatformDouyin PlatformCode = "DOUYIN"
	// PlatformCanonical is an envelope already in canonical form, used by
	// internal collaborators
	PlatformCanonical PlatformCode = "CANONICAL"
)

// ParsePlatform parses a platform code case-insensitively
func ParsePlatform(s string) (PlatformCode, error) {
	c := PlatformCode(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", ErrUnknownPlatform
	}
	return c, nil
}

// IsValid returns true if the platform code is valid
func (c PlatformCode) IsValid() bool {
	switch c {
	case PlatformTaobao, PlatformDouyin, PlatformCanonical:
		return true
	default:
		return false
	}
}

// String returns the string representation of PlatformCode
func (c PlatformCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for the platform
func (c PlatformCode) DisplayName() string {
	switch c {
	case PlatformTaobao:
		return "Taobao/Tmall"
	case PlatformDouyin:
		return "Douyin Shop"
	case PlatformCanonical:
		return "Canonical"
	default:
		return string(c)
	}
}

// AllPlatforms returns every supported platform
func AllPlatforms() []PlatformCode {
	return []PlatformCode{PlatformTaobao, PlatformDouyin, PlatformCanonical}
}
