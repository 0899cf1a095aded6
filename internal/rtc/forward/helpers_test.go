package forward

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func newTestForwarder(t *testing.T) *Forwarder {
	t.Helper()
	return NewForwarder(TransportConfig{}, time.Second, 50*time.Millisecond, testLogger(), nil)
}

// webRTCOffer returns an empty session description; it is only used in
// tests that fail out before the offer is ever parsed (e.g. subscribing to
// a stream that doesn't exist).
func webRTCOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}
}
