package forward

import (
	"sync"

	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type dcfPeerSlot struct {
	id         domain.DataChannelPeerID
	bus        *bus.Bus[domain.DataChannelFrame]
	cancelRead func()
}

// DataChannelFabric is the per-stream data-plane fanout and routing
// layer. It owns a stream-wide group bus and a map of per-peer buses;
// each peer that opens a data channel gets read, write, and broadcast-pipe
// tasks.
type DataChannelFabric struct {
	stream domain.StreamID
	group  *bus.Bus[domain.DataChannelFrame]

	mu     sync.RWMutex
	peers  map[domain.DataChannelPeerID]*dcfPeerSlot
	logger *zap.Logger
}

func newDataChannelFabric(stream domain.StreamID, logger *zap.Logger) *DataChannelFabric {
	return &DataChannelFabric{
		stream: stream,
		group:  bus.New[domain.DataChannelFrame](dcfGroupBusCapacity),
		peers:  make(map[domain.DataChannelPeerID]*dcfPeerSlot),
		logger: logger.With(zap.String("stream", string(stream))),
	}
}

// OpenPeer registers a peer slot and starts its three concurrent tasks.
// isPublisher selects the peer-slot capacity (publisher: 128,
// subscriber: 32).
func (f *DataChannelFabric) OpenPeer(id domain.DataChannelPeerID, isPublisher bool, dc *webrtc.DataChannel) {
	raw, err := dc.Detach()
	if err != nil {
		f.logger.Warn("failed to detach data channel", zap.Error(err))
		return
	}
	f.openRaw(id, isPublisher, raw)
}

func (f *DataChannelFabric) openRaw(id domain.DataChannelPeerID, isPublisher bool, raw datachannel.ReadWriteCloser) {
	capacity := dcfSubscriberSlotCapacity
	if isPublisher {
		capacity = dcfPublisherSlotCapacity
	}

	groupCh, cancelGroup := f.group.Subscribe()
	slot := &dcfPeerSlot{id: id, bus: bus.New[domain.DataChannelFrame](capacity), cancelRead: cancelGroup}

	f.mu.Lock()
	if old, exists := f.peers[id]; exists {
		old.cancelRead()
		old.bus.Close()
	}
	f.peers[id] = slot
	f.mu.Unlock()

	outCh, cancelOut := slot.bus.Subscribe()
	go f.readLoop(id, raw)
	go f.writeLoop(outCh, cancelOut, raw)
	go f.broadcastPipeLoop(id, groupCh, slot)

	f.group.Send(domain.NewOpenNotice(id))
}

// ClosePeer tears down a peer's slot and synthesizes a close-notice frame
// on the group bus. Safe to call for a peer that never opened a data
// channel; it is then a no-op beyond the close-notice broadcast, which
// still has no suppressed observer since the peer never had a slot.
func (f *DataChannelFabric) ClosePeer(id domain.DataChannelPeerID) {
	f.mu.Lock()
	slot, exists := f.peers[id]
	if exists {
		delete(f.peers, id)
	}
	f.mu.Unlock()

	if exists {
		slot.cancelRead()
		slot.bus.Close()
	}
	f.group.Send(domain.NewCloseNotice(id))
}

// Close tears the whole fabric down, used on stream removal.
func (f *DataChannelFabric) Close() {
	f.mu.Lock()
	peers := f.peers
	f.peers = make(map[domain.DataChannelPeerID]*dcfPeerSlot)
	f.mu.Unlock()

	for _, slot := range peers {
		slot.cancelRead()
		slot.bus.Close()
	}
	f.group.Close()
}

func (f *DataChannelFabric) readLoop(self domain.DataChannelPeerID, raw datachannel.ReadWriteCloser) {
	buf := make([]byte, domain.DataChannelHeaderLen+16384)
	for {
		n, err := raw.Read(buf)
		if err != nil {
			return
		}
		frame, ok := domain.DecodeDataChannelFrame(buf[:n])
		if !ok {
			continue
		}

		if frame.IsBroadcast() {
			f.group.Send(frame)
			continue
		}

		f.mu.RLock()
		dst, exists := f.peers[frame.To]
		f.mu.RUnlock()
		if !exists {
			continue // unknown destination, silently drop
		}
		dst.bus.Send(frame)
	}
}

func (f *DataChannelFabric) writeLoop(ch <-chan domain.DataChannelFrame, cancel func(), raw datachannel.ReadWriteCloser) {
	defer cancel()
	for frame := range ch {
		if _, err := raw.Write(frame.Encode()); err != nil {
			return
		}
	}
}

// broadcastPipeLoop republishes group-bus frames onto this peer's own bus,
// dropping any frame this peer itself sent.
func (f *DataChannelFabric) broadcastPipeLoop(self domain.DataChannelPeerID, groupCh <-chan domain.DataChannelFrame, slot *dcfPeerSlot) {
	for frame := range groupCh {
		if frame.From == self {
			continue
		}
		slot.bus.Send(frame)
	}
}
