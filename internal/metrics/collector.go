// Package metrics exports Prometheus gauges/counters/histograms for the
// forwarding core and the groups fabric.
package metrics

import (
	"time"

	"patchbay/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements forward.MetricsSink and carries the ambient gauges
// the admission layer updates on publish/subscribe/group lifecycle events.
type Collector struct {
	streamsActiveTotal  prometheus.Gauge
	peersConnectedTotal prometheus.Gauge
	connectionsTotal    prometheus.Counter
	dataExchangedBytes  prometheus.Counter

	connectionDuration prometheus.Histogram
	signalLatency      prometheus.Histogram

	streamPeerCount *prometheus.GaugeVec

	feedbackTotal *prometheus.CounterVec

	groupsActiveTotal  prometheus.Gauge
	groupMembersTotal  *prometheus.GaugeVec
	groupMessagesTotal prometheus.Counter
}

// NewCollector registers all series against reg via promauto. Pass
// prometheus.DefaultRegisterer
// in production; tests pass a fresh prometheus.NewRegistry() so repeated
// construction doesn't collide on metric names.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		streamsActiveTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_streams_active_total",
			Help: "Total number of active streams",
		}),

		peersConnectedTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_peers_connected_total",
			Help: "Total number of connected publish/subscribe peers",
		}),

		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_connections_total",
			Help: "Total number of WebRTC peer connections established",
		}),

		dataExchangedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_data_exchanged_bytes_total",
			Help: "Total amount of data exchanged over data channels, in bytes",
		}),

		connectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "patchbay_webrtc_connection_duration_seconds",
			Help:    "Duration of WebRTC peer connections",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		signalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "patchbay_signal_round_trip_seconds",
			Help:    "Offer-to-answer latency for publish and subscribe negotiation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),

		streamPeerCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patchbay_stream_peer_count",
			Help: "Number of peers in each stream, by role",
		}, []string{"stream_id", "peer_type"}),

		feedbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchbay_rtcp_feedback_total",
			Help: "Total PLI/FIR feedback packets forwarded to publishers",
		}, []string{"kind"}),

		groupsActiveTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_groups_active_total",
			Help: "Total number of active messaging groups",
		}),

		groupMembersTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patchbay_group_member_count",
			Help: "Number of members in each group",
		}, []string{"group_id"}),

		groupMessagesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_group_messages_total",
			Help: "Total number of messages published to any group",
		}),
	}
}

// StreamCreated/StreamDestroyed implement forward.MetricsSink.
func (c *Collector) StreamCreated(stream domain.StreamID) {
	c.streamsActiveTotal.Inc()
}

func (c *Collector) StreamDestroyed(stream domain.StreamID) {
	c.streamsActiveTotal.Dec()
	c.streamPeerCount.DeleteLabelValues(string(stream), "publisher")
	c.streamPeerCount.DeleteLabelValues(string(stream), "subscriber")
}

func (c *Collector) RecordPeerConnected(stream domain.StreamID, isPublisher bool) {
	c.peersConnectedTotal.Inc()
	c.connectionsTotal.Inc()
	c.streamPeerCount.WithLabelValues(string(stream), peerType(isPublisher)).Inc()
}

func (c *Collector) RecordPeerDisconnected(stream domain.StreamID, isPublisher bool) {
	c.peersConnectedTotal.Dec()
	c.streamPeerCount.WithLabelValues(string(stream), peerType(isPublisher)).Dec()
}

func (c *Collector) RecordConnectionDuration(d time.Duration) {
	c.connectionDuration.Observe(d.Seconds())
}

func (c *Collector) RecordSignalLatency(d time.Duration) {
	c.signalLatency.Observe(d.Seconds())
}

func (c *Collector) RecordDataExchanged(bytes int64) {
	c.dataExchangedBytes.Add(float64(bytes))
}

func (c *Collector) RecordFeedback(kind string) {
	c.feedbackTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) GroupCreated()     { c.groupsActiveTotal.Inc() }
func (c *Collector) GroupRemoved()     { c.groupsActiveTotal.Dec() }
func (c *Collector) GroupMessageSent() { c.groupMessagesTotal.Inc() }

// RecordGroupTraffic applies a batched update: frames group messages and
// bytes of data-channel/relay traffic at once. The Batcher is the only
// expected caller.
func (c *Collector) RecordGroupTraffic(frames, bytes int64) {
	if frames > 0 {
		c.groupMessagesTotal.Add(float64(frames))
	}
	if bytes > 0 {
		c.dataExchangedBytes.Add(float64(bytes))
	}
}

func (c *Collector) SetGroupMembers(group domain.GroupID, count int) {
	c.groupMembersTotal.WithLabelValues(string(group)).Set(float64(count))
}

func peerType(isPublisher bool) string {
	if isPublisher {
		return "publisher"
	}
	return "subscriber"
}
