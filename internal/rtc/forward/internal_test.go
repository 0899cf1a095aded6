package forward

import (
	"testing"
	"time"

	"patchbay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPFI() *PeerForwardInternal {
	return newPeerForwardInternal("room-1", TransportConfig{}, testLogger())
}

func TestPublishServiceRidsDistinctSortedVideoOnly(t *testing.T) {
	p := newTestPFI()
	defer p.Close()

	p.tracks = []*PublishTrackRemote{
		makeTrack(domain.KindAudio, ""),
		makeTrack(domain.KindVideo, "low"),
		makeTrack(domain.KindVideo, "low"),
		makeTrack(domain.KindVideo, "high"),
		makeTrack(domain.KindVideo, ""),
	}

	assert.Equal(t, []string{"high", "low"}, p.PublishServiceRids())
}

func TestSelectKindRidUnknownSessionFails(t *testing.T) {
	p := newTestPFI()
	defer p.Close()

	err := p.SelectKindRid("no-such-session", domain.KindVideo, "low")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRemoveSubscribeUnknownSessionFails(t *testing.T) {
	p := newTestPFI()
	defer p.Close()

	err := p.RemoveSubscribe("no-such-session")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestInfoFreshStreamHasNoPublisherOrSubscribers(t *testing.T) {
	p := newTestPFI()
	defer p.Close()

	info := p.Info()
	assert.Equal(t, domain.StreamID("room-1"), info.Stream)
	assert.Nil(t, info.Publisher)
	assert.Empty(t, info.Subscribers)
	assert.Zero(t, info.PublishLeaveTime)
	assert.NotZero(t, info.SubscribeLeaveTime)
	assert.WithinDuration(t, time.Now(), info.CreateTime, time.Second)
}

func TestListTracksOfKindFiltersByKind(t *testing.T) {
	p := newTestPFI()
	defer p.Close()

	audio := makeTrack(domain.KindAudio, "")
	low := makeTrack(domain.KindVideo, "low")
	p.tracks = []*PublishTrackRemote{audio, low}

	video := p.listTracksOfKind(domain.KindVideo)
	require.Len(t, video, 1)
	assert.Same(t, low, video[0])

	got := p.listTracksOfKind(domain.KindAudio)
	require.Len(t, got, 1)
	assert.Same(t, audio, got[0])
}

func TestOnTrackDownBumpsVersionAndRemovesTrack(t *testing.T) {
	p := newTestPFI()
	defer p.Close()

	low := makeTrack(domain.KindVideo, "low")
	p.tracks = []*PublishTrackRemote{low}

	before, changed := p.tracksVersion.snapshot()
	p.onTrackDown(low)

	after, _ := p.tracksVersion.snapshot()
	assert.Greater(t, after, before)
	assert.Empty(t, p.listTracksOfKind(domain.KindVideo))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("waiters on the old version channel were never released")
	}
}
