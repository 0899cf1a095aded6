// Package admission's signaling handler is the upgrade-to-websocket
// surface: it carries the offer/answer/candidate envelope and dispatches
// into forward.Forwarder and groups.Manager per the authenticated room.
package admission

import (
	"context"
	"net/http"
	"time"

	"patchbay/internal/domain"
	"patchbay/internal/metrics"
	"patchbay/internal/ratelimit"
	"patchbay/internal/rtc/forward"
	"patchbay/pkg/config"
	ctxlog "patchbay/pkg/logger"
	"patchbay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// upstreamGroupHeaderLen is the prefix of every client->server group frame
// on the signaling socket: 4 bytes of big-endian sender user-id, then one
// type byte (0 = binary payload, 1 = text payload).
// The sender field is overwritten with the authenticated user-id
// before the frame reaches the room's group, so a client cannot spoof
// another sender and defeat self-suppression downstream.
const upstreamGroupHeaderLen = domain.GroupHeaderLen + 1

// signalMessage is the JSON signaling envelope.
// The first server-to-client message has IsCandidate=false and
// carries the SDP answer plus the server-assigned session id; subsequent
// messages have IsCandidate=true and carry one trickle candidate each.
type signalMessage struct {
	IsCandidate bool   `json:"is_candidate"`
	SDP         string `json:"sdp,omitempty"`
	Session     string `json:"session,omitempty"`
	Candidate   string `json:"candidate,omitempty"`
}

// joinRequestMessage is the client's first frame on the socket: the offer
// only. Role, target and kinds are not carried here; they come from the
// claims of the token issued by /rooms/:id/join.
type joinRequestMessage struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SignalHandlers owns the websocket upgrade endpoint. It is kept separate
// from Handlers (rooms CRUD) since it needs the ratelimit connection/message
// gates and per-connection state the HTTP surface doesn't.
type SignalHandlers struct {
	registry *Registry
	auth     *AuthService
	connGate *ratelimit.ConnectionGate
	msgGate  *ratelimit.MessageGate
	logger   *zap.Logger
	ctxLog   *ctxlog.ContextLogger

	collector  *metrics.Collector
	batch      *metrics.Batcher
	mailboxCap int

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewSignalHandlers wires the upgrade endpoint to the room registry and the
// ambient metrics pipeline. collector and batch may be nil (tests, metrics
// disabled); every metrics call site is nil-guarded.
func NewSignalHandlers(registry *Registry, auth *AuthService, cfg *config.Config, collector *metrics.Collector, batch *metrics.Batcher, log *zap.Logger) *SignalHandlers {
	pingInterval := cfg.Signal.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongTimeout := cfg.Signal.PongTimeout
	if pongTimeout <= pingInterval {
		pongTimeout = 2 * pingInterval
	}
	return &SignalHandlers{
		registry:   registry,
		auth:       auth,
		connGate:   ratelimit.NewConnectionGate(cfg),
		msgGate:    ratelimit.NewMessageGate(cfg),
		logger:     log,
		ctxLog:     ctxlog.NewContextLogger(log),
		collector:  collector,
		batch:      batch,
		mailboxCap: cfg.Group.DefaultMailboxCapacity,

		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// SetupRoutes registers the single upgrade endpoint. The join token
// (issued by POST /rooms/:id/join) is carried as a query parameter since
// browsers cannot set Authorization headers on a WebSocket upgrade request.
func (h *SignalHandlers) SetupRoutes(router *gin.Engine) {
	router.GET("/ws/:id", h.handleUpgrade)
}

func (h *SignalHandlers) handleUpgrade(c *gin.Context) {
	if !h.connGate.Allow(ratelimit.ClientIP(c.Request)) {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	claims, err := h.auth.Verify(c.Query("token"))
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	roomID := domain.StreamID(c.Param("id"))
	if claims.RoomID != roomID {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	room, ok := h.registry.Get(roomID)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, span := tracing.TraceWebSocketMessage(c.Request.Context(), string(claims.Role), claims.UserID)
	defer span.End()
	ctx = ctxlog.WithRoomID(ctx, string(roomID))
	ctx = ctxlog.WithPeerID(ctx, claims.UserID)

	h.serve(ctx, conn, room, claims)
}

// serve reads the client's single join frame, negotiates the offer against
// the room's core, and then relays the core's own signaling output
// (nothing further, besides the implicit trickle that pion emits through
// the same answer in this non-trickle-ICE deployment) until the socket
// closes. The answer's SDP already contains every locally gathered
// candidate (GatheringComplete is awaited in
// forward.newPublishPeer/newSubscribePeer), so no further
// is_candidate=true messages are produced by this minimal admission layer.
func (h *SignalHandlers) serve(ctx context.Context, conn *websocket.Conn, room *Room, claims *Claims) {
	var join joinRequestMessage
	if err := conn.ReadJSON(&join); err != nil {
		h.ctxLog.LogDebug(ctx, "signaling closed before join frame", zap.Error(err))
		return
	}
	if !h.msgGate.Allow() {
		return
	}

	dcID := domain.DataChannelPeerID(numericID(claims.UserID))
	uid := domain.UserID(dcID)

	switch claims.Role {
	case RolePublish:
		h.servePublish(ctx, conn, room, claims, dcID, uid, join.Offer)
	case RoleSubscribe:
		h.serveSubscribe(ctx, conn, room, claims, dcID, uid, join.Offer)
	}
}

func (h *SignalHandlers) servePublish(ctx context.Context, conn *websocket.Conn, room *Room, claims *Claims, dcID domain.DataChannelPeerID, uid domain.UserID, offer webrtc.SessionDescription) {
	ctx, span := tracing.TraceForward(ctx, "publish", string(claims.UserID), string(claims.RoomID))
	defer span.End()
	ctx = ctxlog.WithStreamID(ctx, claims.UserID)

	desc := forward.MediaDescriptor{Simulcast: claims.Simulcast}
	negotiateStart := time.Now()
	_, answer, session, err := room.Forwarder.Publish(domain.StreamID(claims.UserID), dcID, offer, desc)
	if err != nil {
		tracing.RecordError(ctx, err)
		h.ctxLog.LogWarn(ctx, "publish rejected", zap.Error(err))
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	if h.collector != nil {
		h.collector.RecordSignalLatency(time.Since(negotiateStart))
		h.collector.RecordPeerConnected(domain.StreamID(claims.UserID), true)
	}
	connectedAt := time.Now()
	defer func() {
		if pfi, ok := room.Forwarder.Lookup(domain.StreamID(claims.UserID)); ok {
			pfi.RemovePublish()
		}
		if h.collector != nil {
			h.collector.RecordPeerDisconnected(domain.StreamID(claims.UserID), true)
			h.collector.RecordConnectionDuration(time.Since(connectedAt))
		}
	}()

	h.joinRoomGroup(room, uid)
	defer h.leaveRoomGroup(room, uid)

	if err := conn.WriteJSON(signalMessage{IsCandidate: false, SDP: answer.SDP, Session: string(session)}); err != nil {
		return
	}
	h.pumpGroup(ctx, conn, room, uid)
}

func (h *SignalHandlers) serveSubscribe(ctx context.Context, conn *websocket.Conn, room *Room, claims *Claims, dcID domain.DataChannelPeerID, uid domain.UserID, offer webrtc.SessionDescription) {
	ctx, span := tracing.TraceForward(ctx, "subscribe", string(claims.UserID), string(claims.Target))
	defer span.End()
	ctx = ctxlog.WithStreamID(ctx, string(claims.Target))

	kinds := make([]domain.Kind, 0, len(claims.Kinds))
	for _, k := range claims.Kinds {
		kinds = append(kinds, domain.Kind(k))
	}
	negotiateStart := time.Now()
	sp, answer, _, err := room.Forwarder.Subscribe(claims.Target, dcID, kinds, offer)
	if err != nil {
		tracing.RecordError(ctx, err)
		h.ctxLog.LogWarn(ctx, "subscribe rejected", zap.Error(err))
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	if h.collector != nil {
		h.collector.RecordSignalLatency(time.Since(negotiateStart))
		h.collector.RecordPeerConnected(claims.Target, false)
	}
	connectedAt := time.Now()
	defer func() {
		if pfi, ok := room.Forwarder.Lookup(claims.Target); ok {
			_ = pfi.RemoveSubscribe(sp.Session())
		}
		if h.collector != nil {
			h.collector.RecordPeerDisconnected(claims.Target, false)
			h.collector.RecordConnectionDuration(time.Since(connectedAt))
		}
	}()

	h.joinRoomGroup(room, uid)
	defer h.leaveRoomGroup(room, uid)

	if err := conn.WriteJSON(signalMessage{IsCandidate: false, SDP: answer.SDP, Session: string(sp.Session())}); err != nil {
		return
	}
	h.pumpGroup(ctx, conn, room, uid)
}

// joinRoomGroup auto-subscribes every admitted peer to the room's
// implicit group.
func (h *SignalHandlers) joinRoomGroup(room *Room, uid domain.UserID) {
	room.Groups.InitUser(uid, h.mailboxCap)
	_ = room.Groups.JoinOrCreate(uid, room.roomGroupName())
	if h.collector != nil {
		h.collector.SetGroupMembers(room.roomGroupName(), room.Groups.GroupMemberCount(room.roomGroupName()))
	}
}

func (h *SignalHandlers) leaveRoomGroup(room *Room, uid domain.UserID) {
	room.Groups.EndUser(uid)
	if h.collector != nil {
		h.collector.SetGroupMembers(room.roomGroupName(), room.Groups.GroupMemberCount(room.roomGroupName()))
	}
}

// pumpGroup couples the signaling socket to the room's group fabric for the
// rest of the connection's life: inbound binary frames (4-byte big-endian
// sender id + 1 type byte + payload) are
// published onto the room group, and the peer's mailbox is relayed back out
// as binary messages. The media itself never touches this socket: RTP and
// DCF traffic ride the RTC transport.
func (h *SignalHandlers) pumpGroup(ctx context.Context, conn *websocket.Conn, room *Room, uid domain.UserID) {
	ctx = ctxlog.WithGroupID(ctx, string(room.roomGroupName()))
	mailbox, err := room.Groups.Mailbox(uid)
	if err != nil {
		h.ctxLog.LogDebug(ctx, "no mailbox for group peer", zap.Error(err))
		return
	}
	h.ctxLog.LogDebug(ctx, "relaying group mailbox to signaling socket")
	frames, cancel := mailbox.Subscribe()
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
			if msgType != websocket.BinaryMessage || len(data) < upstreamGroupHeaderLen {
				continue
			}
			if !h.msgGate.Allow() {
				continue
			}
			frame := domain.EncodeGroupFrame(uid, data[domain.GroupHeaderLen:])
			if err := room.Groups.SendMessageToGroup(room.roomGroupName(), frame); err != nil {
				h.ctxLog.LogDebug(ctx, "group send failed", zap.Error(err))
				continue
			}
			if h.batch != nil {
				h.batch.AddGroupMessage(len(frame))
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
			if h.batch != nil {
				h.batch.AddDelivered(len(frame))
			}
		}
	}
}

