package forward

import (
	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PublishTrackRemote is one inbound media track from the stream's
// publisher. It owns a fanout bus of RTP packets tagged with the track's
// SSRC,
// kind, and rid.
type PublishTrackRemote struct {
	stream     domain.StreamID
	publisher  domain.SessionID
	kind       domain.Kind
	rid        string
	ssrc       webrtc.SSRC
	capability webrtc.RTPCodecCapability

	remote *webrtc.TrackRemote
	bus    *bus.Bus[*rtp.Packet]
	logger *zap.Logger
}

func newPublishTrackRemote(stream domain.StreamID, publisher domain.SessionID, remote *webrtc.TrackRemote, logger *zap.Logger) *PublishTrackRemote {
	kind := toDomainKind(remote.Kind())
	return &PublishTrackRemote{
		stream:     stream,
		publisher:  publisher,
		kind:       kind,
		rid:        remote.RID(),
		ssrc:       remote.SSRC(),
		capability: remote.Codec().RTPCodecCapability,
		remote:     remote,
		bus:        bus.New[*rtp.Packet](defaultTrackBusCapacity),
		logger: logger.With(
			zap.String("kind", string(kind)),
			zap.String("rid", remote.RID()),
			zap.Uint32("ssrc", uint32(remote.SSRC())),
		),
	}
}

// Subscribe obtains a new receiver on the track's fanout bus. It is
// restartable: an SP may call it again after unsubscribing (e.g. across a
// rebind) without affecting other subscribers.
func (t *PublishTrackRemote) Subscribe() (<-chan *rtp.Packet, func()) {
	return t.bus.Subscribe()
}

func (t *PublishTrackRemote) Kind() domain.Kind                { return t.kind }
func (t *PublishTrackRemote) Rid() string                      { return t.rid }
func (t *PublishTrackRemote) SSRC() webrtc.SSRC                { return t.ssrc }
func (t *PublishTrackRemote) Publisher() domain.SessionID      { return t.publisher }
func (t *PublishTrackRemote) Capability() webrtc.RTPCodecCapability { return t.capability }

// run reads RTP packets from the remote track until the transport errors,
// then closes the bus, signalling end-of-stream to every subscriber, and
// invokes onEnded with only this PTR's own value, never a back-pointer into
// the owning PFI's state.
func (t *PublishTrackRemote) run(onEnded func(*PublishTrackRemote)) {
	for {
		pkt, _, err := t.remote.ReadRTP()
		if err != nil {
			t.logger.Debug("publish track ended", zap.Error(err))
			break
		}
		t.bus.Send(pkt)
	}
	t.bus.Close()
	if onEnded != nil {
		onEnded(t)
	}
}
