package admission

import (
	"sync"
	"time"

	"patchbay/internal/domain"
	"patchbay/internal/groups"
	"patchbay/internal/rtc/forward"
	"patchbay/pkg/config"

	"go.uber.org/zap"
)

// Room is a named space owning one Forwarder for its media streams and
// one groups.Manager for its message fabric.
type Room struct {
	ID        domain.StreamID
	Name      string
	Capacity  int
	CreatedAt time.Time

	Forwarder *forward.Forwarder
	Groups    *groups.Manager
}

// roomGroupName is the implicit room-wide group every joined user is
// auto-subscribed to, so non-media clients can participate.
func (r *Room) roomGroupName() domain.GroupID {
	return domain.GroupID("room:" + string(r.ID))
}

// Registry is the process-wide {room-id -> Room} table, the admission
// layer's analogue of the core's Forwarder map one level up.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[domain.StreamID]*Room
	cfg     *config.Config
	logger  *zap.Logger
	metrics forward.MetricsSink
}

func NewRegistry(cfg *config.Config, logger *zap.Logger, metrics forward.MetricsSink) *Registry {
	return &Registry{
		rooms:   make(map[domain.StreamID]*Room),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Create fails with domain.ErrStreamExists on collision, matching the
// Forwarder's own StreamCreate semantics one level down.
func (r *Registry) Create(id domain.StreamID, name string, capacity int) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[id]; exists {
		return nil, domain.ErrStreamExists
	}

	transportCfg := forward.TransportConfig{ICEServers: iceServersFromConfig(r.cfg)}
	room := &Room{
		ID:        id,
		Name:      name,
		Capacity:  capacity,
		CreatedAt: time.Now(),
		Forwarder: forward.NewForwarder(transportCfg, r.cfg.Forward.PublishLeaveTimeout, r.cfg.Forward.ReaperInterval, r.logger, r.metrics),
		Groups:    groups.NewManager(r.logger),
	}
	r.rooms[id] = room
	return room, nil
}

func (r *Registry) Get(id domain.StreamID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

func (r *Registry) List() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// Remove tears the room's Forwarder down (closing every stream it holds)
// and drops it from the registry.
func (r *Registry) Remove(id domain.StreamID) error {
	r.mu.Lock()
	room, exists := r.rooms[id]
	if exists {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	if !exists {
		return domain.ErrStreamNotFound
	}
	room.Forwarder.Close()
	return nil
}

// CloseAll tears down every room's Forwarder concurrently, for use on
// process shutdown (the core itself has no process-lifetime concept, so
// this lives in the admission layer).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[domain.StreamID]*Room)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, room := range rooms {
		room := room
		wg.Add(1)
		go func() {
			defer wg.Done()
			room.Forwarder.Close()
		}()
	}
	wg.Wait()
}

func iceServersFromConfig(cfg *config.Config) []forward.ICEServer {
	servers := make([]forward.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, forward.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}
