package forward

import (
	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// MediaDescriptor describes a publisher's negotiated offer: the number of
// send/recv transceivers per kind, and whether video is simulcast. More
// than one sender per kind is rejected outright rather than just tracked
// as a present/absent flag.
type MediaDescriptor struct {
	AudioSend int
	AudioRecv int
	VideoSend int
	VideoRecv int
	Simulcast bool
}

// mediaDescriptorFromOffer derives the send/recv counts per kind from the
// offer's own SDP rather than trusting a caller-supplied summary.
// simulcast is still taken from the caller since it gates header-extension
// registration, which must happen before the offer is even parsed.
func mediaDescriptorFromOffer(offer webrtc.SessionDescription, simulcast bool) (MediaDescriptor, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return MediaDescriptor{}, domain.ErrMalformedInput
	}
	desc := mediaCountsFromDescriptions(parsed.MediaDescriptions)
	desc.Simulcast = simulcast
	return desc, nil
}

// mediaCountsFromDescriptions is the pure counting step, split out from SDP
// unmarshalling so it can be exercised directly against hand-built media
// sections.
func mediaCountsFromDescriptions(mds []*sdp.MediaDescription) MediaDescriptor {
	var desc MediaDescriptor
	for _, md := range mds {
		var send, recv *int
		switch md.MediaName.Media {
		case "audio":
			send, recv = &desc.AudioSend, &desc.AudioRecv
		case "video":
			send, recv = &desc.VideoSend, &desc.VideoRecv
		default:
			continue
		}

		direction := "sendrecv"
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "sendonly", "recvonly", "sendrecv", "inactive":
				direction = attr.Key
			}
		}
		switch direction {
		case "sendonly":
			*send++
		case "recvonly":
			*recv++
		case "sendrecv":
			*send++
			*recv++
		}
	}
	return desc
}

// PublishPeer wraps the single inbound transport session for a stream.
// It negotiates offer/answer, creates a PublishTrackRemote per
// track-up event, and maintains the upstream RTCP feedback listener.
type PublishPeer struct {
	session domain.SessionID
	stream  domain.StreamID
	dcID    domain.DataChannelPeerID
	pc      *webrtc.PeerConnection
	logger  *zap.Logger

	feedback *bus.Bus[Feedback]

	onTrack func(*PublishTrackRemote)
	onEnd   func()
}

func newMediaEngine(desc MediaDescriptor) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if desc.Simulcast {
		for _, uri := range []string{sdp.SDESMidURI, sdp.SDESRTPStreamIDURI, sdp.SDESRepairRTPStreamIDURI} {
			if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: uri}, webrtc.RTPCodecTypeVideo); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// newPublishPeer negotiates the inbound offer and returns the answer plus
// the newly assigned stable session id. onTrack and onEnd are narrow
// collaborator callbacks supplied by the owning PFI instead of a
// back-pointer.
func newPublishPeer(
	stream domain.StreamID,
	dcID domain.DataChannelPeerID,
	cfg TransportConfig,
	desc MediaDescriptor,
	offer webrtc.SessionDescription,
	feedback *bus.Bus[Feedback],
	onTrack func(*PublishTrackRemote),
	dcOpen func(*webrtc.DataChannel),
	logger *zap.Logger,
) (*PublishPeer, webrtc.SessionDescription, error) {
	negotiated, err := mediaDescriptorFromOffer(offer, desc.Simulcast)
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	if negotiated.AudioSend > 1 || negotiated.VideoSend > 1 {
		return nil, webrtc.SessionDescription{}, domain.ErrTooManySenders
	}
	desc = negotiated

	me, err := newMediaEngine(desc)
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	pc, err := newAPI(me).NewPeerConnection(webrtc.Configuration{ICEServers: toWebRTCICEServers(cfg.ICEServers)})
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}

	session := stableSessionID(pc)
	p := &PublishPeer{
		session:  session,
		stream:   stream,
		dcID:     dcID,
		pc:       pc,
		logger:   logger.With(zap.String("stream", string(stream)), zap.String("session", string(session))),
		feedback: feedback,
		onTrack:  onTrack,
	}

	pc.OnTrack(p.handleTrack)
	pc.OnConnectionStateChange(p.handleConnectionState)
	if dcOpen != nil {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			dc.OnOpen(func() { dcOpen(dc) })
		})
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	<-gatherComplete

	go p.runFeedbackListener()

	return p, *pc.LocalDescription(), nil
}

func (p *PublishPeer) Session() domain.SessionID { return p.session }

func (p *PublishPeer) Close() error { return p.pc.Close() }

func (p *PublishPeer) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	ptr := newPublishTrackRemote(p.stream, p.session, remote, p.logger)
	p.logger.Info("publisher track up",
		zap.String("kind", string(ptr.Kind())),
		zap.String("rid", ptr.Rid()),
	)
	if p.onTrack != nil {
		p.onTrack(ptr)
	}
}

// runFeedbackListener forwards RTCP feedback published by subscriber SPs
// toward the inbound transport. Only PLI and FIR are translated;
// anything else is ignored.
func (p *PublishPeer) runFeedbackListener() {
	ch, cancel := p.feedback.Subscribe()
	defer cancel()
	for fb := range ch {
		var pkt rtcp.Packet
		switch fb.Kind {
		case FeedbackPLI:
			pkt = &rtcp.PictureLossIndication{MediaSSRC: fb.SSRC}
		case FeedbackFIR:
			pkt = &rtcp.FullIntraRequest{FIR: []rtcp.FIREntry{{SSRC: fb.SSRC}}}
		default:
			continue
		}
		if err := p.pc.WriteRTCP([]rtcp.Packet{pkt}); err != nil {
			p.logger.Debug("failed to forward feedback upstream", zap.Error(err))
		}
	}
}

func (p *PublishPeer) handleConnectionState(state webrtc.PeerConnectionState) {
	p.logger.Info("publisher connection state changed", zap.String("state", state.String()))
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		_ = p.pc.Close()
	case webrtc.PeerConnectionStateClosed:
		if p.onEnd != nil {
			p.onEnd()
		}
	}
}
