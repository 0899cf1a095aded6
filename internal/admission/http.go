package admission

import (
	"context"
	"net/http"
	"time"

	"patchbay/internal/domain"
	"patchbay/internal/ratelimit"
	"patchbay/internal/redisx"
	"patchbay/pkg/apperr"
	"patchbay/pkg/config"
	"patchbay/pkg/logger"
	"patchbay/pkg/utils"
	"patchbay/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requestIDContextKey = "request_id"

// requestIDMiddleware stamps a generated request id onto both the gin
// context and the request's context.Context, so every handler's
// logger.ContextLogger.WithContext call tags its lines with the same id.
func requestIDMiddleware(log *zap.Logger) gin.HandlerFunc {
	cl := logger.NewContextLogger(log)
	return func(c *gin.Context) {
		id := utils.GenerateRequestID()
		ctx := context.WithValue(c.Request.Context(), requestIDContextKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Set(requestIDContextKey, id)

		start := time.Now()
		c.Next()
		cl.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

// Handlers exposes the rooms CRUD and join/exit surface.
type Handlers struct {
	registry *Registry
	auth     *AuthService
	snapshot *redisx.RoomSnapshotCache
	logger   *zap.Logger
}

func NewHandlers(registry *Registry, auth *AuthService, snapshot *redisx.RoomSnapshotCache, logger *zap.Logger) *Handlers {
	return &Handlers{registry: registry, auth: auth, snapshot: snapshot, logger: logger}
}

// SetupRoutes registers the admission surface on router, applying cfg's
// rate-limit middleware.
func (h *Handlers) SetupRoutes(router *gin.Engine, cfg *config.Config) {
	api := router.Group("/api/v1")
	api.Use(requestIDMiddleware(h.logger))
	api.Use(ratelimit.HTTPMiddleware(cfg))

	rooms := api.Group("/rooms")
	rooms.POST("", h.createRoom)
	rooms.GET("", h.listRooms)
	rooms.GET("/:id", h.getRoom)
	rooms.DELETE("/:id", h.deleteRoom)
	rooms.POST("/:id/join", h.joinRoom)
	rooms.GET("/:id/streams/:stream", h.getStream)
	rooms.DELETE("/:id/streams/:stream", h.deleteStream)
	rooms.POST("/:id/streams/:stream/layer", h.selectLayer)
}

type createRoomRequest struct {
	ID       string `json:"id" binding:"required"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

func (h *Handlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperr.NewInvalidInput(err.Error()))
		return
	}
	if err := validation.ValidateRoomID(req.ID); err != nil {
		writeAppError(c, apperr.NewInvalidInput(err.Error()))
		return
	}
	if req.Name != "" {
		if err := validation.ValidateRoomName(req.Name); err != nil {
			writeAppError(c, apperr.NewInvalidInput(err.Error()))
			return
		}
		req.Name = utils.SanitizeString(req.Name)
	}
	if req.Capacity <= 0 {
		req.Capacity = 100
	}
	if err := validation.ValidateCapacity(req.Capacity); err != nil {
		writeAppError(c, apperr.NewInvalidInput(err.Error()))
		return
	}

	room, err := h.registry.Create(domain.StreamID(req.ID), req.Name, req.Capacity)
	if err != nil {
		writeAppError(c, apperr.FromDomain(err))
		return
	}
	if h.snapshot != nil {
		h.snapshot.Invalidate(c.Request.Context())
	}
	c.JSON(http.StatusCreated, roomResponse(room))
}

func (h *Handlers) listRooms(c *gin.Context) {
	if h.snapshot != nil {
		if cached, ok := h.snapshot.Get(c.Request.Context()); ok {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
	}

	rooms := h.registry.List()
	out := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, roomResponse(room))
	}
	if h.snapshot != nil {
		h.snapshot.Set(c.Request.Context(), out)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) getRoom(c *gin.Context) {
	room, ok := h.registry.Get(domain.StreamID(c.Param("id")))
	if !ok {
		writeAppError(c, apperr.NewNotFound("room"))
		return
	}
	c.JSON(http.StatusOK, roomDetailResponse(room))
}

func (h *Handlers) deleteRoom(c *gin.Context) {
	if err := h.registry.Remove(domain.StreamID(c.Param("id"))); err != nil {
		writeAppError(c, apperr.FromDomain(err))
		return
	}
	if h.snapshot != nil {
		h.snapshot.Invalidate(c.Request.Context())
	}
	c.Status(http.StatusNoContent)
}

type joinRequest struct {
	UserID    string   `json:"user_id" binding:"required"`
	Username  string   `json:"username"`
	Role      string   `json:"role" binding:"required"`
	Target    string   `json:"target"`
	Kinds     []string `json:"kinds"`
	Simulcast bool     `json:"simulcast"`
}

type joinResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// joinRoom validates the requested role/kinds and issues a short-lived
// bearer token binding the caller to the room for the signaling socket.
func (h *Handlers) joinRoom(c *gin.Context) {
	roomID := domain.StreamID(c.Param("id"))
	if _, ok := h.registry.Get(roomID); !ok {
		writeAppError(c, apperr.NewNotFound("room"))
		return
	}

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperr.NewInvalidInput(err.Error()))
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		writeAppError(c, apperr.NewInvalidInput(err.Error()))
		return
	}

	role := Role(req.Role)
	if role != RolePublish && role != RoleSubscribe {
		writeAppError(c, apperr.NewInvalidInput("role must be 'publish' or 'subscribe'"))
		return
	}
	if role == RoleSubscribe && req.Target == "" {
		writeAppError(c, apperr.NewInvalidInput("target is required when role is 'subscribe'"))
		return
	}
	if len(req.Kinds) == 0 {
		req.Kinds = []string{"audio", "video"}
	}
	for _, k := range req.Kinds {
		if !containsString([]string{string(domain.KindAudio), string(domain.KindVideo)}, k) {
			writeAppError(c, apperr.NewInvalidInput("kinds must be 'audio' or 'video'"))
			return
		}
	}

	token, err := h.auth.IssueJoinToken(roomID, req.UserID, req.Username, role, domain.StreamID(req.Target), req.Kinds, req.Simulcast)
	if err != nil {
		writeAppError(c, apperr.NewInternal("failed to issue token"))
		return
	}
	h.logger.Debug("issued join token",
		zap.String("room_id", string(roomID)),
		zap.String("user_id", req.UserID),
		zap.String("token", utils.MaskSensitive(token, 8)),
	)

	c.JSON(http.StatusOK, joinResponse{Token: token, ExpiresIn: int64(h.auth.tokenTTL / time.Second)})
}

// getStream exposes the stream's Info() snapshot plus its advertised
// simulcast layers, so clients can enumerate rids before selecting one.
func (h *Handlers) getStream(c *gin.Context) {
	room, ok := h.registry.Get(domain.StreamID(c.Param("id")))
	if !ok {
		writeAppError(c, apperr.NewNotFound("room"))
		return
	}
	pfi, ok := room.Forwarder.Lookup(domain.StreamID(c.Param("stream")))
	if !ok {
		writeAppError(c, apperr.NewNotFound("stream"))
		return
	}

	info := pfi.Info()
	subscribers := make([]string, 0, len(info.Subscribers))
	for _, s := range info.Subscribers {
		subscribers = append(subscribers, string(s.Session))
	}
	out := gin.H{
		"stream":               info.Stream,
		"create_time":          info.CreateTime,
		"publish_leave_time":   info.PublishLeaveTime,
		"subscribe_leave_time": info.SubscribeLeaveTime,
		"subscribers":          subscribers,
		"video_layers":         pfi.PublishServiceRids(),
	}
	if info.Publisher != nil {
		out["publisher"] = string(*info.Publisher)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) deleteStream(c *gin.Context) {
	room, ok := h.registry.Get(domain.StreamID(c.Param("id")))
	if !ok {
		writeAppError(c, apperr.NewNotFound("room"))
		return
	}
	if err := room.Forwarder.StreamDelete(domain.StreamID(c.Param("stream"))); err != nil {
		writeAppError(c, apperr.FromDomain(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type selectLayerRequest struct {
	Session string `json:"session" binding:"required"`
	Kind    string `json:"kind" binding:"required"`
	Rid     string `json:"rid"`
}

// selectLayer dispatches a subscriber's simulcast layer choice. An empty rid
// reverts to the default (smallest) layer; the reserved rid "disabled"
// mutes the kind entirely.
func (h *Handlers) selectLayer(c *gin.Context) {
	room, ok := h.registry.Get(domain.StreamID(c.Param("id")))
	if !ok {
		writeAppError(c, apperr.NewNotFound("room"))
		return
	}
	pfi, ok := room.Forwarder.Lookup(domain.StreamID(c.Param("stream")))
	if !ok {
		writeAppError(c, apperr.NewNotFound("stream"))
		return
	}

	var req selectLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperr.NewInvalidInput(err.Error()))
		return
	}
	kind := domain.Kind(req.Kind)
	if kind != domain.KindAudio && kind != domain.KindVideo {
		writeAppError(c, apperr.NewInvalidInput("kind must be 'audio' or 'video'"))
		return
	}

	if err := pfi.SelectKindRid(domain.SessionID(req.Session), kind, req.Rid); err != nil {
		writeAppError(c, apperr.FromDomain(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func roomResponse(room *Room) gin.H {
	return gin.H{
		"id":         room.ID,
		"name":       room.Name,
		"capacity":   room.Capacity,
		"created_at": room.CreatedAt,
		"age":        utils.FormatDuration(time.Since(room.CreatedAt)),
	}
}

func roomDetailResponse(room *Room) gin.H {
	out := roomResponse(room)
	out["streams"] = room.Forwarder.Streams()
	return out
}

func writeAppError(c *gin.Context, err *apperr.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    err.Code,
			"message": err.Message,
		},
	})
}
