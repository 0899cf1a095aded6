package metrics

import (
	"testing"

	"patchbay/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector() *Collector {
	return NewCollector(prometheus.NewRegistry())
}

func TestStreamLifecycleGauge(t *testing.T) {
	c := newTestCollector()
	c.StreamCreated("room-1")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.streamsActiveTotal))
	c.StreamCreated("room-2")
	assert.Equal(t, float64(2), testutil.ToFloat64(c.streamsActiveTotal))
	c.StreamDestroyed("room-1")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.streamsActiveTotal))
}

func TestPeerConnectedDisconnectedUpdatesRole(t *testing.T) {
	c := newTestCollector()
	c.RecordPeerConnected(domain.StreamID("room-1"), true)
	c.RecordPeerConnected(domain.StreamID("room-1"), false)
	c.RecordPeerConnected(domain.StreamID("room-1"), false)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.streamPeerCount.WithLabelValues("room-1", "publisher")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.streamPeerCount.WithLabelValues("room-1", "subscriber")))

	c.RecordPeerDisconnected(domain.StreamID("room-1"), false)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.streamPeerCount.WithLabelValues("room-1", "subscriber")))
}

func TestFeedbackCounter(t *testing.T) {
	c := newTestCollector()
	c.RecordFeedback("pli")
	c.RecordFeedback("pli")
	c.RecordFeedback("fir")
	assert.Equal(t, float64(2), testutil.ToFloat64(c.feedbackTotal.WithLabelValues("pli")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.feedbackTotal.WithLabelValues("fir")))
}

func TestGroupMemberGauge(t *testing.T) {
	c := newTestCollector()
	c.GroupCreated()
	c.SetGroupMembers("lobby", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.groupMembersTotal.WithLabelValues("lobby")))
	c.GroupMessageSent()
	assert.Equal(t, float64(1), testutil.ToFloat64(c.groupMessagesTotal))
}
