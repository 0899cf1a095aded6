package forward

import (
	"context"
	"sync"
	"time"

	"patchbay/internal/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MetricsSink receives stream lifecycle counts for ambient metrics
// export. Implementations must be safe for concurrent use.
type MetricsSink interface {
	StreamCreated(stream domain.StreamID)
	StreamDestroyed(stream domain.StreamID)
}

// Forwarder (F) is the process-wide map {stream-name -> PFI} with a
// background reaper.
type Forwarder struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*PeerForwardInternal

	cfg                 TransportConfig
	publishLeaveTimeout time.Duration
	reaperInterval      time.Duration

	logger  *zap.Logger
	metrics MetricsSink

	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

// NewForwarder starts the reaper immediately. publishLeaveTimeout is the
// grace window a departed publisher has to reconnect before the stream is
// reaped; if reaperInterval is zero it defaults to one second.
func NewForwarder(cfg TransportConfig, publishLeaveTimeout time.Duration, reaperInterval time.Duration, logger *zap.Logger, metrics MetricsSink) *Forwarder {
	if reaperInterval <= 0 {
		reaperInterval = defaultReaperInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{
		streams:             make(map[domain.StreamID]*PeerForwardInternal),
		cfg:                 cfg,
		publishLeaveTimeout: publishLeaveTimeout,
		reaperInterval:      reaperInterval,
		logger:              logger,
		metrics:             metrics,
		stopReaper:          cancel,
		reaperDone:          make(chan struct{}),
	}
	go f.runReaper(ctx)
	return f
}

// StreamCreate fails with ErrStreamExists on collision.
func (f *Forwarder) StreamCreate(stream domain.StreamID) (*PeerForwardInternal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.streams[stream]; exists {
		return nil, domain.ErrStreamExists
	}
	pfi := newPeerForwardInternal(stream, f.cfg, f.logger)
	f.streams[stream] = pfi
	if f.metrics != nil {
		f.metrics.StreamCreated(stream)
	}
	return pfi, nil
}

// StreamDelete closes all of the stream's peers and removes it from the
// map.
func (f *Forwarder) StreamDelete(stream domain.StreamID) error {
	f.mu.Lock()
	pfi, exists := f.streams[stream]
	if exists {
		delete(f.streams, stream)
	}
	f.mu.Unlock()
	if !exists {
		return domain.ErrStreamNotFound
	}
	pfi.Close()
	if f.metrics != nil {
		f.metrics.StreamDestroyed(stream)
	}
	return nil
}

// Lookup returns the stream's PFI without creating it.
func (f *Forwarder) Lookup(stream domain.StreamID) (*PeerForwardInternal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pfi, exists := f.streams[stream]
	return pfi, exists
}

// Streams lists every stream name currently tracked, for admission-layer
// room listings.
func (f *Forwarder) Streams() []domain.StreamID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.StreamID, 0, len(f.streams))
	for name := range f.streams {
		out = append(out, name)
	}
	return out
}

// getOrCreate lazily creates the stream on first publish. The loser of a
// concurrent create race closes its half-constructed PFI and returns the
// winner's.
func (f *Forwarder) getOrCreate(stream domain.StreamID) *PeerForwardInternal {
	f.mu.RLock()
	pfi, exists := f.streams[stream]
	f.mu.RUnlock()
	if exists {
		return pfi
	}

	candidate := newPeerForwardInternal(stream, f.cfg, f.logger)
	f.mu.Lock()
	if existing, exists := f.streams[stream]; exists {
		f.mu.Unlock()
		candidate.Close()
		return existing
	}
	f.streams[stream] = candidate
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.StreamCreated(stream)
	}
	return candidate
}

// Publish dispatches to the stream's PFI, creating the stream lazily if
// this is the first publish request for it.
func (f *Forwarder) Publish(stream domain.StreamID, dcID domain.DataChannelPeerID, offer webrtc.SessionDescription, desc MediaDescriptor) (*PublishPeer, webrtc.SessionDescription, domain.SessionID, error) {
	pfi := f.getOrCreate(stream)
	return pfi.SetPublish(dcID, offer, desc)
}

// Subscribe dispatches to an existing stream's PFI; it does not create the
// stream.
func (f *Forwarder) Subscribe(stream domain.StreamID, dcID domain.DataChannelPeerID, kinds []domain.Kind, offer webrtc.SessionDescription) (*SubscribePeer, webrtc.SessionDescription, domain.SessionID, error) {
	pfi, exists := f.Lookup(stream)
	if !exists {
		return nil, webrtc.SessionDescription{}, "", domain.ErrStreamNotFound
	}
	return pfi.NewSubscriptionPeer(dcID, kinds, offer)
}

func (f *Forwarder) runReaper(ctx context.Context) {
	defer close(f.reaperDone)
	ticker := time.NewTicker(f.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.reapOnce()
		}
	}
}

type staleStream struct {
	name domain.StreamID
	pfi  *PeerForwardInternal
}

// reapOnce snapshots each stream's publish leave time under the read lock, then
// for every candidate past the grace window, re-acquires the write lock and
// re-verifies the condition before removing it, avoiding a race with a
// reconnecting publisher.
func (f *Forwarder) reapOnce() {
	timeoutMillis := f.publishLeaveTimeout.Milliseconds()
	now := time.Now().UnixMilli()

	f.mu.RLock()
	var candidates []staleStream
	for name, pfi := range f.streams {
		leaveTime := pfi.publishLeaveTime.Load()
		if leaveTime != 0 && now-leaveTime > timeoutMillis {
			candidates = append(candidates, staleStream{name, pfi})
		}
	}
	f.mu.RUnlock()

	for _, c := range candidates {
		f.mu.Lock()
		pfi, exists := f.streams[c.name]
		if !exists || pfi != c.pfi {
			f.mu.Unlock()
			continue
		}
		leaveTime := pfi.publishLeaveTime.Load()
		if leaveTime == 0 || time.Now().UnixMilli()-leaveTime <= timeoutMillis {
			f.mu.Unlock()
			continue
		}
		delete(f.streams, c.name)
		f.mu.Unlock()

		pfi.Close()
		if f.metrics != nil {
			f.metrics.StreamDestroyed(c.name)
		}
		f.logger.Info("reaped stale stream", zap.String("stream", string(c.name)))
	}
}

// Close stops the reaper and closes every stream concurrently via errgroup.
func (f *Forwarder) Close() {
	f.stopReaper()
	<-f.reaperDone

	f.mu.Lock()
	streams := f.streams
	f.streams = make(map[domain.StreamID]*PeerForwardInternal)
	f.mu.Unlock()

	var g errgroup.Group
	for _, pfi := range streams {
		pfi := pfi
		g.Go(func() error {
			pfi.Close()
			return nil
		})
	}
	_ = g.Wait()
}
