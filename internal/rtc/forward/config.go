package forward

import "time"

// TransportConfig carries the collaborator-supplied parameters the core
// needs from the realtime transport library.
type TransportConfig struct {
	ICEServers []ICEServer
}

// ICEServer mirrors the subset of webrtc.ICEServer the core cares about,
// keeping this package's public surface free of a hard pion import for
// callers that only want to build configuration.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Bus and timing defaults.
const (
	defaultTrackBusCapacity   = 64
	feedbackBusCapacity       = 64
	eventsBusCapacity         = 64
	dcfGroupBusCapacity       = 256
	dcfPublisherSlotCapacity  = 128
	dcfSubscriberSlotCapacity = 32

	defaultReaperInterval = time.Second
)
