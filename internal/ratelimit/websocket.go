package ratelimit

import (
	"patchbay/pkg/config"

	"golang.org/x/time/rate"
)

// ConnectionGate enforces cfg.RateLimiting.WebSocket.ConnectionsPerMinute
// per client IP, applied once when the signaling socket is upgraded.
type ConnectionGate struct {
	store   *store
	enabled bool
}

func NewConnectionGate(cfg *config.Config) *ConnectionGate {
	if !cfg.RateLimiting.Enabled {
		return &ConnectionGate{enabled: false}
	}
	perSecond := float64(cfg.RateLimiting.WebSocket.ConnectionsPerMinute) / 60.0
	return &ConnectionGate{
		store:   newStore(rate.Limit(perSecond), cfg.RateLimiting.WebSocket.ConnectionsPerMinute),
		enabled: true,
	}
}

// Allow reports whether a new signaling connection from ip may proceed.
func (g *ConnectionGate) Allow(ip string) bool {
	if !g.enabled {
		return true
	}
	return g.store.getLimiter(ip).Allow()
}

// MessageGate enforces cfg.RateLimiting.WebSocket.MessagesPerSecond,
// one limiter per open connection (constructed by the signaling handler
// when it accepts the socket, discarded on close).
type MessageGate struct {
	limiter *rate.Limiter
	enabled bool
	maxSize int64
}

func NewMessageGate(cfg *config.Config) *MessageGate {
	if !cfg.RateLimiting.Enabled {
		return &MessageGate{enabled: false}
	}
	return &MessageGate{
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond), cfg.RateLimiting.WebSocket.Burst),
		enabled: true,
		maxSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}
}

// Allow reports whether another inbound message may be processed now.
func (g *MessageGate) Allow() bool {
	if !g.enabled {
		return true
	}
	return g.limiter.Allow()
}

// MaxMessageSize returns the configured per-message size ceiling, or 0 for
// no limit.
func (g *MessageGate) MaxMessageSize() int64 {
	if !g.enabled {
		return 0
	}
	return g.maxSize
}
