package forward

import "patchbay/internal/domain"

// FeedbackKind is an RTCP feedback type the core understands and forwards
// upstream. Unknown feedback kinds are ignored at the source.
type FeedbackKind int

const (
	FeedbackPLI FeedbackKind = iota
	FeedbackFIR
)

// Feedback is published by a Subscribe Peer's RTCP loop and consumed by the
// owning stream's Publish Peer, which translates it to a wire RTCP packet
// addressed at the publisher.
type Feedback struct {
	Kind FeedbackKind
	SSRC uint32
}

// EventType enumerates the forwarding lifecycle events a PFI emits.
type EventType int

const (
	EventPublishUp EventType = iota
	EventPublishDown
	EventSubscribeUp
	EventSubscribeDown
)

// Event is a forwarding lifecycle notification, primarily consumed by
// ambient metrics/tracing wiring rather than by the core itself.
type Event struct {
	Type    EventType
	Stream  domain.StreamID
	Session domain.SessionID
}
