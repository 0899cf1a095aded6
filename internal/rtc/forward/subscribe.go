package forward

import (
	"sync"

	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type subscribeBinding struct {
	ptr *PublishTrackRemote
}

// kindState holds the per-(SP, kind) forwarding state machine: the
// current binding (if any), the local sequence counter, and the
// sendonly transceiver created once at construction time so that later
// rebinds are a ReplaceTrack rather than a renegotiation.
type kindState struct {
	mu          sync.Mutex
	bound       *subscribeBinding
	packetCh    <-chan *rtp.Packet
	cancelSub   func()
	seq         uint16
	selectedRid string

	sender     *webrtc.RTPSender
	localTrack *webrtc.TrackLocalStaticRTP
	wake       chan struct{}
}

func (st *kindState) nextSeq() uint16 {
	seq := st.seq
	st.seq++
	return seq
}

// SubscribePeer is one subscribing peer. For each requested media
// kind it runs an independent forwarding task implementing the
// Unbound/Bound(ptr)/rebind state machine, plus a concurrent RTCP loop.
type SubscribePeer struct {
	session domain.SessionID
	stream  domain.StreamID
	dcID    domain.DataChannelPeerID
	pc      *webrtc.PeerConnection
	logger  *zap.Logger

	feedback      *bus.Bus[Feedback]
	tracksVersion *versionSignal
	listTracks    func(domain.Kind) []*PublishTrackRemote

	states map[domain.Kind]*kindState

	closing   chan struct{}
	closeOnce sync.Once
	onEnd     func()
}

func newSubscribePeer(
	stream domain.StreamID,
	dcID domain.DataChannelPeerID,
	cfg TransportConfig,
	kinds []domain.Kind,
	offer webrtc.SessionDescription,
	feedback *bus.Bus[Feedback],
	tracksVersion *versionSignal,
	listTracks func(domain.Kind) []*PublishTrackRemote,
	dcOpen func(*webrtc.DataChannel),
	logger *zap.Logger,
) (*SubscribePeer, webrtc.SessionDescription, error) {
	if len(kinds) == 0 {
		return nil, webrtc.SessionDescription{}, domain.ErrMalformedInput
	}
	seen := make(map[domain.Kind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			return nil, webrtc.SessionDescription{}, domain.ErrTooManySenders
		}
		seen[k] = true
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	pc, err := newAPI(me).NewPeerConnection(webrtc.Configuration{ICEServers: toWebRTCICEServers(cfg.ICEServers)})
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}

	session := stableSessionID(pc)
	s := &SubscribePeer{
		session:       session,
		stream:        stream,
		dcID:          dcID,
		pc:            pc,
		logger:        logger.With(zap.String("stream", string(stream)), zap.String("session", string(session))),
		feedback:      feedback,
		tracksVersion: tracksVersion,
		listTracks:    listTracks,
		states:        make(map[domain.Kind]*kindState, len(kinds)),
		closing:       make(chan struct{}),
	}

	for _, k := range kinds {
		transceiver, err := pc.AddTransceiverFromKind(toRTPCodecType(k), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			_ = pc.Close()
			return nil, webrtc.SessionDescription{}, err
		}
		s.states[k] = &kindState{sender: transceiver.Sender(), wake: make(chan struct{}, 1)}
	}

	pc.OnConnectionStateChange(s.handleConnectionState)
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

	for _, k := range kinds {
		k := k
		go s.runKind(k)
		go s.runRTCP(k)
	}

	return s, *pc.LocalDescription(), nil
}

func (s *SubscribePeer) Session() domain.SessionID { return s.session }

func (s *SubscribePeer) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.pc.Close()
}

// SelectRid records a subscriber's simulcast layer choice. The reserved
// rid "disabled" transitions the kind to Unbound until a different rid is
// selected.
func (s *SubscribePeer) SelectRid(kind domain.Kind, rid string) {
	st, ok := s.states[kind]
	if !ok {
		return
	}
	st.mu.Lock()
	st.selectedRid = rid
	st.mu.Unlock()
	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (s *SubscribePeer) handleConnectionState(state webrtc.PeerConnectionState) {
	s.logger.Info("subscriber connection state changed", zap.String("state", state.String()))
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		_ = s.pc.Close()
	case webrtc.PeerConnectionStateClosed:
		s.closeOnce.Do(func() { close(s.closing) })
		if s.onEnd != nil {
			s.onEnd()
		}
	}
}

func pickTarget(ptrs []*PublishTrackRemote, selectedRid string) *PublishTrackRemote {
	if selectedRid == domain.DisabledRid {
		return nil
	}
	if selectedRid != "" {
		for _, p := range ptrs {
			if p.Rid() == selectedRid {
				return p
			}
		}
		return nil
	}
	if len(ptrs) == 0 {
		return nil
	}
	return ptrs[0] // PFI's PTR list is already sorted by rid
}

// runKind is the one task per (SP, kind) forwarding state machine.
func (s *SubscribePeer) runKind(kind domain.Kind) {
	st := s.states[kind]
	for {
		_, changed := s.tracksVersion.snapshot()
		s.reconcileBinding(st, kind)

	inner:
		for {
			st.mu.Lock()
			var pktCh <-chan *rtp.Packet
			if st.bound != nil {
				pktCh = st.packetCh
			}
			st.mu.Unlock()

			select {
			case <-s.closing:
				return
			case <-changed:
				break inner
			case <-st.wake:
				break inner
			case pkt, ok := <-pktCh:
				if !ok {
					st.mu.Lock()
					st.bound = nil
					st.packetCh = nil
					st.mu.Unlock()
					break inner
				}
				s.forwardPacket(st, pkt)
			}
		}
	}
}

// reconcileBinding resolves the current target PTR for kind and rebinds if
// it differs from what's currently bound.
func (s *SubscribePeer) reconcileBinding(st *kindState, kind domain.Kind) {
	st.mu.Lock()
	selectedRid := st.selectedRid
	current := st.bound
	st.mu.Unlock()

	ptrs := s.listTracks(kind)
	target := pickTarget(ptrs, selectedRid)

	if current != nil && target != nil && current.ptr == target {
		return
	}
	if current == nil && target == nil {
		return
	}
	s.rebind(st, kind, target)
}

func (s *SubscribePeer) rebind(st *kindState, kind domain.Kind, target *PublishTrackRemote) {
	st.mu.Lock()
	if st.cancelSub != nil {
		st.cancelSub()
		st.cancelSub = nil
	}
	st.mu.Unlock()

	if target == nil {
		_ = st.sender.ReplaceTrack(nil)
		st.mu.Lock()
		st.bound = nil
		st.packetCh = nil
		st.localTrack = nil
		st.mu.Unlock()
		return
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(target.Capability(), string(kind), string(s.stream))
	if err != nil {
		s.logger.Warn("failed to create local track for subscriber binding", zap.Error(err))
		return
	}
	if err := st.sender.ReplaceTrack(localTrack); err != nil {
		s.logger.Warn("failed to replace subscriber track", zap.Error(err))
		return
	}

	ch, cancel := target.Subscribe()

	st.mu.Lock()
	st.bound = &subscribeBinding{ptr: target}
	st.packetCh = ch
	st.cancelSub = cancel
	st.localTrack = localTrack
	st.mu.Unlock()

	if kind == domain.KindVideo {
		s.feedback.Send(Feedback{Kind: FeedbackPLI, SSRC: uint32(target.SSRC())})
	}
}

func (s *SubscribePeer) forwardPacket(st *kindState, pkt *rtp.Packet) {
	cp := *pkt
	st.mu.Lock()
	cp.SequenceNumber = st.nextSeq()
	localTrack := st.localTrack
	st.mu.Unlock()
	if localTrack == nil {
		return
	}
	if err := localTrack.WriteRTP(&cp); err != nil {
		s.logger.Debug("failed to write RTP to subscriber", zap.Error(err))
	}
}

// runRTCP reads outbound RTCP from the kind's sender and republishes
// translatable feedback onto the shared feedback bus tagged with the bound
// PTR's SSRC. If no binding is active the
// packet is dropped.
func (s *SubscribePeer) runRTCP(kind domain.Kind) {
	st := s.states[kind]
	for {
		packets, _, err := st.sender.ReadRTCP()
		if err != nil {
			return
		}
		st.mu.Lock()
		bound := st.bound
		st.mu.Unlock()
		if bound == nil {
			continue
		}
		ssrc := uint32(bound.ptr.SSRC())
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				s.feedback.Send(Feedback{Kind: FeedbackPLI, SSRC: ssrc})
			case *rtcp.FullIntraRequest:
				s.feedback.Send(Feedback{Kind: FeedbackFIR, SSRC: ssrc})
			}
		}
	}
}
