package groups

import (
	"sync"

	"patchbay/internal/domain"
	"patchbay/internal/rtc/bus"

	"go.uber.org/zap"
)

// Default capacities: group bus 100, mailbox 100.
const (
	defaultGroupCapacity   = 100
	defaultMailboxCapacity = 100
)

// userMailbox is a participant's inbox plus the set of groups it currently
// belongs to, tracked so EndUser can unwind every membership.
type userMailbox struct {
	bus *bus.Bus[[]byte]

	mu          sync.Mutex
	memberships map[domain.GroupID]struct{}
}

// Manager is the Groups Manager: {group-name -> group} and
// {user-id -> mailbox}, independent of any media stream.
type Manager struct {
	mu     sync.Mutex
	groups map[domain.GroupID]*group
	users  map[domain.UserID]*userMailbox
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		groups: make(map[domain.GroupID]*group),
		users:  make(map[domain.UserID]*userMailbox),
		logger: logger,
	}
}

// InitUser creates the user's mailbox bus if absent. Calling it twice
// for the same uid is a no-op, not an error.
func (m *Manager) InitUser(uid domain.UserID, capacity int) {
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[uid]; ok {
		return
	}
	m.users[uid] = &userMailbox{
		bus:         bus.New[[]byte](capacity),
		memberships: make(map[domain.GroupID]struct{}),
	}
}

// Mailbox returns the user's inbox bus, for the signaling layer to forward
// onward to the client socket. Fails with ErrUserNotInit if InitUser was
// never called for uid.
func (m *Manager) Mailbox(uid domain.UserID) (*bus.Bus[[]byte], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	um, ok := m.users[uid]
	if !ok {
		return nil, domain.ErrUserNotInit
	}
	return um.bus, nil
}

// NewGroup creates a named group with the given capacity (0 uses the
// default). Creating a group that already exists under that name is a
// no-op, matching join_or_create's tolerance for a pre-existing group.
func (m *Manager) NewGroup(name domain.GroupID, capacity int) {
	if capacity <= 0 {
		capacity = defaultGroupCapacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; ok {
		return
	}
	m.groups[name] = newGroup(name, capacity)
}

func (m *Manager) groupExists(name domain.GroupID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.groups[name]
	return ok
}

// JoinGroup fails with ErrGroupNotFound if the group doesn't exist, or
// ErrUserNotInit if InitUser was never called for uid.
func (m *Manager) JoinGroup(name domain.GroupID, uid domain.UserID) error {
	m.mu.Lock()
	g, gok := m.groups[name]
	um, uok := m.users[uid]
	m.mu.Unlock()
	if !gok {
		return domain.ErrGroupNotFound
	}
	if !uok {
		return domain.ErrUserNotInit
	}

	g.join(uid, um.bus)

	um.mu.Lock()
	um.memberships[name] = struct{}{}
	um.mu.Unlock()
	return nil
}

// JoinOrCreate creates the group with default capacity if absent, then joins
// uid to it.
func (m *Manager) JoinOrCreate(uid domain.UserID, name domain.GroupID) error {
	if !m.groupExists(name) {
		m.NewGroup(name, defaultGroupCapacity)
	}
	return m.JoinGroup(name, uid)
}

// LeaveGroup cancels uid's forwarding task and removes its membership
// record. Leaving a group uid never joined, or that doesn't exist, is not
// treated as an error beyond the ErrGroupNotFound case.
func (m *Manager) LeaveGroup(name domain.GroupID, uid domain.UserID) error {
	m.mu.Lock()
	g, ok := m.groups[name]
	um := m.users[uid]
	m.mu.Unlock()
	if !ok {
		return domain.ErrGroupNotFound
	}

	g.leave(uid)
	if um != nil {
		um.mu.Lock()
		delete(um.memberships, name)
		um.mu.Unlock()
	}
	return nil
}

// RemoveGroup cancels every member's forwarding task, closes the group's
// fanout bus, drops the group entirely, and scrubs the membership record
// from every affected user. Removing an unknown group is a no-op.
func (m *Manager) RemoveGroup(name domain.GroupID) {
	m.mu.Lock()
	g, ok := m.groups[name]
	if ok {
		delete(m.groups, name)
	}
	users := m.users
	m.mu.Unlock()
	if !ok {
		return
	}

	g.mu.Lock()
	members := make([]domain.UserID, 0, len(g.members))
	for uid := range g.members {
		members = append(members, uid)
	}
	g.mu.Unlock()

	g.closeAll()

	for _, uid := range members {
		if um, ok := users[uid]; ok {
			um.mu.Lock()
			delete(um.memberships, name)
			um.mu.Unlock()
		}
	}
}

// GroupMemberCount reports the group's current membership size, for the
// admission layer's per-group gauges. Unknown groups count zero.
func (m *Manager) GroupMemberCount(name domain.GroupID) int {
	m.mu.Lock()
	g, ok := m.groups[name]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return g.memberCount()
}

// SendMessageToGroup publishes payload onto the group's fanout; it fails
// with ErrGroupNotFound or ErrSendFailed.
func (m *Manager) SendMessageToGroup(name domain.GroupID, payload []byte) error {
	m.mu.Lock()
	g, ok := m.groups[name]
	m.mu.Unlock()
	if !ok {
		return domain.ErrGroupNotFound
	}
	return g.send(payload)
}

// EndUser leaves every group uid belongs to, cancelling all of its
// forwarding tasks, closes its mailbox, and drops the user record.
func (m *Manager) EndUser(uid domain.UserID) {
	m.mu.Lock()
	um, ok := m.users[uid]
	if ok {
		delete(m.users, uid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	um.mu.Lock()
	names := make([]domain.GroupID, 0, len(um.memberships))
	for name := range um.memberships {
		names = append(names, name)
	}
	um.mu.Unlock()

	m.mu.Lock()
	affected := make([]*group, 0, len(names))
	for _, name := range names {
		if g, ok := m.groups[name]; ok {
			affected = append(affected, g)
		}
	}
	m.mu.Unlock()

	for _, g := range affected {
		g.leave(uid)
	}

	um.bus.Close()
}
