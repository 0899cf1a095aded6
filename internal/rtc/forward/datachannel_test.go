package forward

import (
	"io"
	"sync"
	"testing"
	"time"

	"patchbay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRawChannel stands in for a detached data channel: Write on the test
// side feeds the fabric's read loop, and whatever the fabric's write loop
// emits is collected on out.
type fakeRawChannel struct {
	in  chan []byte
	out chan []byte

	once   sync.Once
	closed chan struct{}
}

func newFakeRawChannel() *fakeRawChannel {
	return &fakeRawChannel{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeRawChannel) Read(p []byte) (int, error) {
	select {
	case msg := <-f.in:
		return copy(p, msg), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeRawChannel) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	select {
	case f.out <- cp:
		return len(p), nil
	case <-f.closed:
		return 0, io.ErrClosedPipe
	}
}

func (f *fakeRawChannel) ReadDataChannel(p []byte) (int, bool, error) {
	n, err := f.Read(p)
	return n, false, err
}

func (f *fakeRawChannel) WriteDataChannel(p []byte, _ bool) (int, error) {
	return f.Write(p)
}

func (f *fakeRawChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// send injects a frame as if the peer's application wrote it to the channel.
func (f *fakeRawChannel) send(frame domain.DataChannelFrame) {
	f.in <- frame.Encode()
}

// nextFrame decodes the next frame the fabric delivered to this peer,
// skipping open/close notices so tests can assert on data traffic alone.
func (f *fakeRawChannel) nextFrame(t *testing.T) domain.DataChannelFrame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case raw := <-f.out:
			frame, ok := domain.DecodeDataChannelFrame(raw)
			require.True(t, ok)
			if frame.Type != domain.FrameData {
				continue
			}
			return frame
		case <-deadline:
			t.Fatal("no data frame delivered within deadline")
		}
	}
}

// assertNoFrame asserts this peer receives no data frame within the window.
func (f *fakeRawChannel) assertNoFrame(t *testing.T) {
	t.Helper()
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case raw := <-f.out:
			frame, ok := domain.DecodeDataChannelFrame(raw)
			require.True(t, ok)
			if frame.Type == domain.FrameData {
				t.Fatalf("unexpected data frame delivered: %+v", frame)
			}
		case <-deadline:
			return
		}
	}
}

func newTestFabric() *DataChannelFabric {
	return newDataChannelFabric("room-1", testLogger())
}

// Peers A (id=1), B (id=2), C (id=3) all opened data channels; A's
// unicast to B reaches only B, and A's broadcast reaches B and C but not A
// itself.
func TestFabricUnicastAndBroadcastWithSelfSuppression(t *testing.T) {
	f := newTestFabric()
	defer f.Close()

	a, b, c := newFakeRawChannel(), newFakeRawChannel(), newFakeRawChannel()
	f.openRaw(1, true, a)
	f.openRaw(2, false, b)
	f.openRaw(3, false, c)

	a.send(domain.DataChannelFrame{Type: domain.FrameData, From: 1, To: 2, Payload: []byte("hi")})

	got := b.nextFrame(t)
	assert.Equal(t, domain.DataChannelPeerID(1), got.From)
	assert.Equal(t, domain.DataChannelPeerID(2), got.To)
	assert.Equal(t, []byte("hi"), got.Payload)
	c.assertNoFrame(t)

	a.send(domain.DataChannelFrame{Type: domain.FrameData, From: 1, To: 1, Payload: []byte("all")})

	assert.Equal(t, []byte("all"), b.nextFrame(t).Payload)
	assert.Equal(t, []byte("all"), c.nextFrame(t).Payload)
	a.assertNoFrame(t)
}

func TestFabricUnicastToUnknownPeerIsDropped(t *testing.T) {
	f := newTestFabric()
	defer f.Close()

	a, b := newFakeRawChannel(), newFakeRawChannel()
	f.openRaw(1, true, a)
	f.openRaw(2, false, b)

	a.send(domain.DataChannelFrame{Type: domain.FrameData, From: 1, To: 99, Payload: []byte("void")})
	b.assertNoFrame(t)

	// the fabric is still routing after the drop
	a.send(domain.DataChannelFrame{Type: domain.FrameData, From: 1, To: 2, Payload: []byte("still here")})
	assert.Equal(t, []byte("still here"), b.nextFrame(t).Payload)
}

func TestFabricOpenNoticeReachesOtherPeersOnly(t *testing.T) {
	f := newTestFabric()
	defer f.Close()

	a := newFakeRawChannel()
	f.openRaw(1, true, a)

	b := newFakeRawChannel()
	f.openRaw(2, false, b)

	select {
	case raw := <-a.out:
		frame, ok := domain.DecodeDataChannelFrame(raw)
		require.True(t, ok)
		assert.Equal(t, domain.FrameOpen, frame.Type)
		assert.Equal(t, domain.DataChannelPeerID(2), frame.From)
	case <-time.After(time.Second):
		t.Fatal("peer A never observed peer B's open notice")
	}
}

func TestFabricClosePeerSynthesizesCloseNotice(t *testing.T) {
	f := newTestFabric()
	defer f.Close()

	a, b := newFakeRawChannel(), newFakeRawChannel()
	f.openRaw(1, true, a)
	f.openRaw(2, false, b)

	// drain B's open notice as observed by A
	select {
	case <-a.out:
	case <-time.After(time.Second):
		t.Fatal("expected open notice")
	}

	f.ClosePeer(2)

	select {
	case raw := <-a.out:
		frame, ok := domain.DecodeDataChannelFrame(raw)
		require.True(t, ok)
		assert.Equal(t, domain.FrameClose, frame.Type)
		assert.Equal(t, domain.DataChannelPeerID(2), frame.From)
	case <-time.After(time.Second):
		t.Fatal("peer A never observed peer B's close notice")
	}
}

func TestFabricMalformedFrameIsIgnored(t *testing.T) {
	f := newTestFabric()
	defer f.Close()

	a, b := newFakeRawChannel(), newFakeRawChannel()
	f.openRaw(1, true, a)
	f.openRaw(2, false, b)

	a.in <- []byte{0x01, 0x02} // shorter than the fixed header

	a.send(domain.DataChannelFrame{Type: domain.FrameData, From: 1, To: 2, Payload: []byte("ok")})
	assert.Equal(t, []byte("ok"), b.nextFrame(t).Payload)
}
