// Package intake contains the Event Intake bounded context.
// It turns raw marketplace payloads into normalized envelopes and keeps the
// append-only log of every event received.
//
// Key concepts:
//   - PlatformCode: the closed set of payload dialects accepted
//   - Envelope: a payload normalized into one canonical shape with an idempotency key
//   - RawEvent: the stored event plus its processing state (processed, retries, dead letter)
//   - Normalizer: port implemented per platform in the infrastructure layer
//   - FeedClient: port used by the poller to pull orders from a platform
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package intake
