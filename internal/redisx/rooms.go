package redisx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"patchbay/pkg/circuitbreaker"
	"patchbay/pkg/retry"

	"github.com/redis/go-redis/v9"
)

const roomSnapshotKey = "patchbay:rooms:snapshot"

// RoomSnapshotCache caches the GET /api/v1/rooms listing response so a burst
// of polling admission clients doesn't repeatedly walk the room registry
// and rebuild every room's entry. It is purely a read-through cache: the room registry
// remains the source of truth and every mutation (create/remove) should
// invalidate it.
//
// Redis round-trips run behind a circuit breaker so a degraded Redis never
// blocks the admission surface; when the breaker is open (or the round-trip
// fails) reads fall back to a process-local copy of the last snapshot
// instead of hitting the registry on every request.
type RoomSnapshotCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
	local   snapshotMemo
}

func NewRoomSnapshotCache(client *redis.Client, ttl time.Duration) *RoomSnapshotCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	rc := &RoomSnapshotCache{client: client, ttl: ttl}
	if client != nil {
		rc.breaker = circuitbreaker.New(circuitbreaker.ForRedis())
	}
	return rc
}

// Get returns the cached listing, if present and unexpired. With no Redis
// client configured there is no caching layer at all and every call misses.
func (c *RoomSnapshotCache) Get(ctx context.Context) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}

	var data []byte
	err := c.breaker.Do(func() error {
		var err error
		data, err = retry.RunWithResult(ctx, retry.RedisRoundTrip(), func() ([]byte, error) {
			return c.client.Get(ctx, roomSnapshotKey).Bytes()
		})
		return err
	})
	if err != nil {
		return c.local.get()
	}
	return data, true
}

// Set stores the listing for ttl, both in Redis (best-effort) and in the
// local copy so a subsequent breaker-open Get still hits warm data.
func (c *RoomSnapshotCache) Set(ctx context.Context, listing interface{}) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(listing)
	if err != nil {
		return
	}
	c.local.put(data, c.ttl)
	_ = c.breaker.Do(func() error {
		return c.client.Set(ctx, roomSnapshotKey, data, c.ttl).Err()
	})
}

// Invalidate drops the cached listing; callers invoke it after a room is
// created or removed so the next GET observes the change immediately.
func (c *RoomSnapshotCache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	c.local.drop()
	_ = c.breaker.Do(func() error {
		return c.client.Del(ctx, roomSnapshotKey).Err()
	})
}

// snapshotMemo holds the one value this cache ever carries locally: the
// serialized rooms listing, with its own expiry. It exists so a Get that
// can't reach Redis can still serve recent data.
type snapshotMemo struct {
	mu        sync.Mutex
	data      []byte
	expiresAt time.Time
}

func (m *snapshotMemo) put(data []byte, ttl time.Duration) {
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.expiresAt = time.Now().Add(ttl)
	m.mu.Unlock()
}

func (m *snapshotMemo) get() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil || time.Now().After(m.expiresAt) {
		m.data = nil
		return nil, false
	}
	return m.data, true
}

func (m *snapshotMemo) drop() {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
}
