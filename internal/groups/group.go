// Package groups implements the room-wide messaging fabric: named fanout
// groups and per-user mailboxes, independent of the media-forwarding core
// in internal/rtc/forward, so non-media clients can participate in a room's
// message traffic.
package groups

import (
	"sync"

	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"
)

// group is one named fanout destination: a bus of
// opaque byte frames plus one forwarding task per member that pipes the
// group's traffic into that member's mailbox.
type group struct {
	name domain.GroupID
	bus  *bus.Bus[[]byte]

	mu      sync.Mutex
	members map[domain.UserID]func()
}

func newGroup(name domain.GroupID, capacity int) *group {
	return &group{
		name:    name,
		bus:     bus.New[[]byte](capacity),
		members: make(map[domain.UserID]func()),
	}
}

// join registers uid as a member and, unless already joined, spawns the
// forwarding task that subscribes to the group's fanout bus and republishes
// every frame into mailbox except the ones uid itself sent.
func (g *group) join(uid domain.UserID, mailbox *bus.Bus[[]byte]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, already := g.members[uid]; already {
		return
	}
	ch, cancel := g.bus.Subscribe()
	go forwardExceptSelf(uid, ch, mailbox)
	g.members[uid] = cancel
}

// leave cancels uid's forwarding task, if any. Leaving a group one never
// joined is a no-op.
func (g *group) leave(uid domain.UserID) {
	g.mu.Lock()
	cancel, ok := g.members[uid]
	if ok {
		delete(g.members, uid)
	}
	g.mu.Unlock()
	if ok {
		cancel()
	}
}

func (g *group) memberCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// closeAll cancels every member's forwarding task and closes the group's
// bus, used by remove_group.
func (g *group) closeAll() {
	g.mu.Lock()
	members := g.members
	g.members = make(map[domain.UserID]func())
	g.mu.Unlock()
	for _, cancel := range members {
		cancel()
	}
	g.bus.Close()
}

// send publishes payload onto the group's fanout, failing with
// ErrSendFailed if the group has already been torn down.
func (g *group) send(payload []byte) error {
	if g.bus.Closed() {
		return domain.ErrSendFailed
	}
	g.bus.Send(payload)
	return nil
}

// forwardExceptSelf is the group->mailbox pipe task: it decodes the
// big-endian sender prefix via domain.GroupFrameFrom and drops any frame
// whose sender is uid itself.
func forwardExceptSelf(uid domain.UserID, ch <-chan []byte, mailbox *bus.Bus[[]byte]) {
	for frame := range ch {
		if from, ok := domain.GroupFrameFrom(frame); ok && from == uid {
			continue
		}
		mailbox.Send(frame)
	}
}
