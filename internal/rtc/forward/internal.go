package forward

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubscriberSummary is part of the Info() snapshot.
type SubscriberSummary struct {
	Session domain.SessionID
}

// Info is a point-in-time snapshot of a stream's lifecycle state.
type Info struct {
	Stream             domain.StreamID
	CreateTime         time.Time
	PublishLeaveTime   int64
	SubscribeLeaveTime int64
	Publisher          *domain.SessionID
	Subscribers        []SubscriberSummary
}

// PeerForwardInternal (PFI) coordinates the forwarding plane of a single
// stream. It uniquely owns the stream's PublishPeer, PTR list, SP set, and
// DataChannelFabric.
//
// Lock acquisition order is fixed: publishMu -> tracksMu -> sendersMu.
// No lock is held across a channel operation that could itself reacquire
// the same lock.
type PeerForwardInternal struct {
	stream domain.StreamID
	cfg    TransportConfig
	logger *zap.Logger

	publishMu sync.Mutex // the stream-scoped mutual-exclusion gate for SetPublish
	publish   *PublishPeer

	tracksMu sync.RWMutex
	tracks   []*PublishTrackRemote

	sendersMu sync.RWMutex
	subs      map[domain.SessionID]*SubscribePeer

	feedback      *bus.Bus[Feedback]
	events        *bus.Bus[Event]
	dcf           *DataChannelFabric
	tracksVersion *versionSignal

	createTime         time.Time
	publishLeaveTime   atomic.Int64
	subscribeLeaveTime atomic.Int64

	closeOnce sync.Once
}

func newPeerForwardInternal(stream domain.StreamID, cfg TransportConfig, logger *zap.Logger) *PeerForwardInternal {
	p := &PeerForwardInternal{
		stream:        stream,
		cfg:           cfg,
		logger:        logger.With(zap.String("stream", string(stream))),
		subs:          make(map[domain.SessionID]*SubscribePeer),
		feedback:      bus.New[Feedback](feedbackBusCapacity),
		events:        bus.New[Event](eventsBusCapacity),
		dcf:           newDataChannelFabric(stream, logger),
		tracksVersion: newVersionSignal(),
		createTime:    time.Now(),
	}
	p.subscribeLeaveTime.Store(time.Now().UnixMilli())
	return p
}

// Events exposes the PFI's lifecycle-event bus for ambient metrics/tracing
// consumers.
func (p *PeerForwardInternal) Events() *bus.Bus[Event] { return p.events }

// DataChannelFabric exposes the stream's DCF so the admission layer can
// route an inbound data channel for a peer that already has a publish or
// subscribe session.
func (p *PeerForwardInternal) DataChannelFabric() *DataChannelFabric { return p.dcf }

// SetPublish installs the stream's single publisher. It fails
// with ErrPublisherExists if one is already installed, resolving the
// "at-most-one publisher per stream" invariant via a per-stream mutex gate.
func (p *PeerForwardInternal) SetPublish(dcID domain.DataChannelPeerID, offer webrtc.SessionDescription, desc MediaDescriptor) (*PublishPeer, webrtc.SessionDescription, domain.SessionID, error) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	if p.publish != nil {
		return nil, webrtc.SessionDescription{}, "", domain.ErrPublisherExists
	}

	dcOpen := func(dc *webrtc.DataChannel) { p.dcf.OpenPeer(dcID, true, dc) }
	pp, answer, err := newPublishPeer(p.stream, dcID, p.cfg, desc, offer, p.feedback, p.onTrackUp, dcOpen, p.logger)
	if err != nil {
		return nil, webrtc.SessionDescription{}, "", err
	}
	pp.onEnd = p.RemovePublish

	p.publish = pp
	p.publishLeaveTime.Store(0)
	p.events.Send(Event{Type: EventPublishUp, Stream: p.stream, Session: pp.Session()})

	return pp, answer, pp.Session(), nil
}

// RemovePublish tears down the installed publisher, if any:
// clears the PTR list, marks the publish leave time, and notifies subscribers
// via publish-tracks-change.
func (p *PeerForwardInternal) RemovePublish() {
	p.publishMu.Lock()
	pp := p.publish
	p.publish = nil
	p.publishMu.Unlock()
	if pp == nil {
		return
	}

	p.tracksMu.Lock()
	p.tracks = nil
	p.tracksMu.Unlock()
	p.tracksVersion.bump()

	p.publishLeaveTime.Store(time.Now().UnixMilli())
	p.dcf.ClosePeer(pp.dcID)
	p.events.Send(Event{Type: EventPublishDown, Stream: p.stream, Session: pp.Session()})
}

func (p *PeerForwardInternal) onTrackUp(ptr *PublishTrackRemote) {
	p.tracksMu.Lock()
	p.tracks = insertSortedByRid(p.tracks, ptr)
	p.tracksMu.Unlock()
	p.tracksVersion.bump()
	go ptr.run(p.onTrackDown)
}

func (p *PeerForwardInternal) onTrackDown(ptr *PublishTrackRemote) {
	p.tracksMu.Lock()
	p.tracks = removeTrackFromSlice(p.tracks, ptr)
	p.tracksMu.Unlock()
	p.tracksVersion.bump()
}

func (p *PeerForwardInternal) listTracksOfKind(kind domain.Kind) []*PublishTrackRemote {
	p.tracksMu.RLock()
	defer p.tracksMu.RUnlock()
	out := make([]*PublishTrackRemote, 0, len(p.tracks))
	for _, t := range p.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// NewSubscriptionPeer installs a new SP. It requires a
// publisher to already be present.
func (p *PeerForwardInternal) NewSubscriptionPeer(dcID domain.DataChannelPeerID, kinds []domain.Kind, offer webrtc.SessionDescription) (*SubscribePeer, webrtc.SessionDescription, domain.SessionID, error) {
	p.publishMu.Lock()
	hasPublisher := p.publish != nil
	p.publishMu.Unlock()
	if !hasPublisher {
		return nil, webrtc.SessionDescription{}, "", domain.ErrStreamNotFound
	}

	dcOpen := func(dc *webrtc.DataChannel) { p.dcf.OpenPeer(dcID, false, dc) }
	sp, answer, err := newSubscribePeer(p.stream, dcID, p.cfg, kinds, offer, p.feedback, p.tracksVersion, p.listTracksOfKind, dcOpen, p.logger)
	if err != nil {
		return nil, webrtc.SessionDescription{}, "", err
	}
	session := sp.Session()
	sp.onEnd = func() { p.removeSubscribe(session) }

	p.sendersMu.Lock()
	p.subs[session] = sp
	p.sendersMu.Unlock()
	p.subscribeLeaveTime.Store(0)

	p.events.Send(Event{Type: EventSubscribeUp, Stream: p.stream, Session: session})

	return sp, answer, session, nil
}

// RemoveSubscribe removes a subscriber by session id.
func (p *PeerForwardInternal) RemoveSubscribe(session domain.SessionID) error {
	p.sendersMu.RLock()
	sp, ok := p.subs[session]
	p.sendersMu.RUnlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	return sp.Close()
}

func (p *PeerForwardInternal) removeSubscribe(session domain.SessionID) {
	p.sendersMu.Lock()
	sp, ok := p.subs[session]
	if ok {
		delete(p.subs, session)
	}
	remaining := len(p.subs)
	p.sendersMu.Unlock()
	if !ok {
		return
	}

	if remaining == 0 {
		p.subscribeLeaveTime.Store(time.Now().UnixMilli())
	}
	p.dcf.ClosePeer(sp.dcID)
	p.events.Send(Event{Type: EventSubscribeDown, Stream: p.stream, Session: session})
}

// SelectKindRid dispatches a subscriber's layer selection to the matching SP.
func (p *PeerForwardInternal) SelectKindRid(session domain.SessionID, kind domain.Kind, rid string) error {
	p.sendersMu.RLock()
	sp, ok := p.subs[session]
	p.sendersMu.RUnlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	sp.SelectRid(kind, rid)
	return nil
}

// PublishServiceRids returns the distinct rids over video PTRs, used by
// clients to enumerate simulcast layers.
func (p *PeerForwardInternal) PublishServiceRids() []string {
	p.tracksMu.RLock()
	defer p.tracksMu.RUnlock()

	seen := make(map[string]bool)
	rids := make([]string, 0, len(p.tracks))
	for _, t := range p.tracks {
		if t.Kind() != domain.KindVideo || t.Rid() == "" || seen[t.Rid()] {
			continue
		}
		seen[t.Rid()] = true
		rids = append(rids, t.Rid())
	}
	sort.Strings(rids)
	return rids
}

// Info returns a snapshot of timestamps, publisher session (if any), and
// subscriber session summaries.
func (p *PeerForwardInternal) Info() Info {
	p.publishMu.Lock()
	var pub *domain.SessionID
	if p.publish != nil {
		session := p.publish.Session()
		pub = &session
	}
	p.publishMu.Unlock()

	p.sendersMu.RLock()
	subs := make([]SubscriberSummary, 0, len(p.subs))
	for session := range p.subs {
		subs = append(subs, SubscriberSummary{Session: session})
	}
	p.sendersMu.RUnlock()

	return Info{
		Stream:             p.stream,
		CreateTime:         p.createTime,
		PublishLeaveTime:   p.publishLeaveTime.Load(),
		SubscribeLeaveTime: p.subscribeLeaveTime.Load(),
		Publisher:          pub,
		Subscribers:        subs,
	}
}

// Close tears the whole stream down: the publisher, every subscriber, and
// the DCF. Subscriber shutdown fans out concurrently via errgroup.
func (p *PeerForwardInternal) Close() {
	p.closeOnce.Do(func() {
		p.publishMu.Lock()
		pp := p.publish
		p.publish = nil
		p.publishMu.Unlock()
		if pp != nil {
			_ = pp.Close()
		}

		p.sendersMu.Lock()
		subs := p.subs
		p.subs = make(map[domain.SessionID]*SubscribePeer)
		p.sendersMu.Unlock()

		var g errgroup.Group
		for _, sp := range subs {
			sp := sp
			g.Go(func() error { return sp.Close() })
		}
		_ = g.Wait()

		p.dcf.Close()
		p.feedback.Close()
		p.events.Close()

		p.tracksMu.Lock()
		p.tracks = nil
		p.tracksMu.Unlock()
	})
}
