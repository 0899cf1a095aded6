package domain

// StreamID names a multi-party session uniquely within a process.
type StreamID string

// SessionID is the stable, opaque identifier of one publish or subscribe
// peer connection: the lowercase hex MD5 digest of the transport library's
// stats id.
type SessionID string

// Kind is a media track's type.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// DisabledRid is the reserved rid token meaning "no layer" for a subscriber
// that has explicitly opted out of a kind via select_layer.
const DisabledRid = "disabled"

// GroupID names a fanout destination independent of any media stream.
type GroupID string

// UserID identifies a participant in the non-media group fabric.
type UserID uint32

// DataChannelPeerID identifies one data-channel peer slot within a stream's
// DCF. It shares numeric space with UserID in the wire format but is
// kept as a distinct type since the DCF and the GM are independent fabrics.
type DataChannelPeerID uint32
