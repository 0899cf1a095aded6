package forward

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"patchbay/internal/domain"

	"github.com/pion/webrtc/v3"
)

// stableSessionID computes the lowercase hex MD5 digest of the transport
// library's stats id for the peer connection. pion exposes per-connection
// stats keyed by type; we use the PeerConnectionStats entry's own ID field
// as the stats id being digested.
func stableSessionID(pc *webrtc.PeerConnection) domain.SessionID {
	statsID := ""
	for _, s := range pc.GetStats() {
		if pcStats, ok := s.(webrtc.PeerConnectionStats); ok {
			statsID = pcStats.ID
			break
		}
	}
	if statsID == "" {
		statsID = fmt.Sprintf("pc-%p", pc)
	}
	sum := md5.Sum([]byte(statsID))
	return domain.SessionID(hex.EncodeToString(sum[:]))
}

// newAPI builds the pion API both peer constructors share. Data channels
// must be detached: the DCF's read loop consumes the raw
// datachannel.ReadWriteCloser directly, which pion only hands out
// when DetachDataChannels is set before the peer connection is created.
func newAPI(me *webrtc.MediaEngine) *webrtc.API {
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))
}

func toWebRTCICEServers(servers []ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func toDomainKind(k webrtc.RTPCodecType) domain.Kind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func toRTPCodecType(k domain.Kind) webrtc.RTPCodecType {
	if k == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// insertSortedByRid keeps the PTR list ordered by rid so subscribers have
// a deterministic preference order. Kind filtering happens at read time in
// PFI.listTracksOfKind.
func insertSortedByRid(tracks []*PublishTrackRemote, t *PublishTrackRemote) []*PublishTrackRemote {
	i := sort.Search(len(tracks), func(i int) bool { return tracks[i].Rid() >= t.Rid() })
	tracks = append(tracks, nil)
	copy(tracks[i+1:], tracks[i:])
	tracks[i] = t
	return tracks
}

func removeTrackFromSlice(tracks []*PublishTrackRemote, target *PublishTrackRemote) []*PublishTrackRemote {
	out := tracks[:0]
	for _, t := range tracks {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}

// versionSignal models the publish-tracks-change edge trigger as a
// versioned snapshot rather than a zero-payload broadcast. Observers read
// the current version and its wake channel together, under the same lock,
// then wait on the channel;
// a bump closes the old channel and installs a fresh one, guaranteeing every
// waiter is released exactly once per bump.
type versionSignal struct {
	mu  sync.Mutex
	ver uint64
	ch  chan struct{}
}

func newVersionSignal() *versionSignal {
	return &versionSignal{ch: make(chan struct{})}
}

func (v *versionSignal) bump() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ver++
	close(v.ch)
	v.ch = make(chan struct{})
}

// snapshot returns the current version and a channel that closes on the
// next bump. The caller is guaranteed to observe post-bump state (via a
// lock acquired after the channel fires) the next time it re-reads state:
// it either sees the new track list or receives another change event.
func (v *versionSignal) snapshot() (uint64, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ver, v.ch
}
