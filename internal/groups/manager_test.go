package groups

import (
	"testing"
	"time"

	"patchbay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager() *Manager {
	return NewManager(zap.NewNop())
}

// A frame whose big-endian prefix names user 2 as the sender is observed
// by user 1's mailbox but never by user 2's own.
func TestGroupFanoutSelfSuppressionScenario(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	m.InitUser(2, 0)
	m.NewGroup("g", 0)
	require.NoError(t, m.JoinGroup("g", 1))
	require.NoError(t, m.JoinGroup("g", 2))

	mbox1, err := m.Mailbox(1)
	require.NoError(t, err)
	mbox2, err := m.Mailbox(2)
	require.NoError(t, err)
	ch1, cancel1 := mbox1.Subscribe()
	defer cancel1()
	ch2, cancel2 := mbox2.Subscribe()
	defer cancel2()

	frame := domain.EncodeGroupFrame(2, []byte{0x05, 0xAA})
	require.NoError(t, m.SendMessageToGroup("g", frame))

	select {
	case got := <-ch1:
		assert.Equal(t, frame, got)
	case <-time.After(time.Second):
		t.Fatal("user 1 never observed the frame sent by user 2")
	}

	select {
	case got := <-ch2:
		t.Fatalf("user 2 (the sender) should not observe its own frame: %v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSelfSentFrameIsSuppressedForSender(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	m.NewGroup("g", 0)
	require.NoError(t, m.JoinGroup("g", 1))

	mbox1, err := m.Mailbox(1)
	require.NoError(t, err)
	ch1, cancel1 := mbox1.Subscribe()
	defer cancel1()

	frame := domain.EncodeGroupFrame(1, []byte{0x00})
	require.NoError(t, m.SendMessageToGroup("g", frame))

	select {
	case got := <-ch1:
		t.Fatalf("self-sent frame was not suppressed: %v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestJoinGroupUnknownGroupFails(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	err := m.JoinGroup("nope", 1)
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestJoinGroupUninitiatedUserFails(t *testing.T) {
	m := newTestManager()
	m.NewGroup("g", 0)
	err := m.JoinGroup("g", 1)
	assert.ErrorIs(t, err, domain.ErrUserNotInit)
}

func TestMailboxUninitiatedUserFails(t *testing.T) {
	m := newTestManager()
	_, err := m.Mailbox(1)
	assert.ErrorIs(t, err, domain.ErrUserNotInit)
}

func TestJoinOrCreateCreatesMissingGroup(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	require.NoError(t, m.JoinOrCreate(1, "new-group"))
	assert.True(t, m.groupExists("new-group"))
}

func TestJoinOrCreateJoinsExistingGroup(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	m.NewGroup("g", 0)
	require.NoError(t, m.JoinOrCreate(1, "g"))
	assert.Equal(t, 1, m.groups["g"].memberCount())
}

func TestSendMessageToUnknownGroupFails(t *testing.T) {
	m := newTestManager()
	err := m.SendMessageToGroup("nope", []byte{1})
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestLeaveGroupRemovesMembershipAndStopsForwarding(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	m.NewGroup("g", 0)
	require.NoError(t, m.JoinGroup("g", 1))
	require.NoError(t, m.LeaveGroup("g", 1))
	assert.Equal(t, 0, m.groups["g"].memberCount())

	mbox1, err := m.Mailbox(1)
	require.NoError(t, err)
	ch1, cancel1 := mbox1.Subscribe()
	defer cancel1()

	require.NoError(t, m.SendMessageToGroup("g", domain.EncodeGroupFrame(99, []byte{1})))

	select {
	case got := <-ch1:
		t.Fatalf("left member still received group traffic: %v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRemoveGroupDropsAllMembers(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	m.InitUser(2, 0)
	m.NewGroup("g", 0)
	require.NoError(t, m.JoinGroup("g", 1))
	require.NoError(t, m.JoinGroup("g", 2))

	m.RemoveGroup("g")

	assert.False(t, m.groupExists("g"))
	err := m.SendMessageToGroup("g", []byte{1})
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	m.mu.Lock()
	um1 := m.users[1]
	m.mu.Unlock()
	um1.mu.Lock()
	_, stillMember := um1.memberships["g"]
	um1.mu.Unlock()
	assert.False(t, stillMember)
}

func TestEndUserLeavesEveryGroupAndClosesMailbox(t *testing.T) {
	m := newTestManager()
	m.InitUser(1, 0)
	m.NewGroup("a", 0)
	m.NewGroup("b", 0)
	require.NoError(t, m.JoinGroup("a", 1))
	require.NoError(t, m.JoinGroup("b", 1))

	m.EndUser(1)

	assert.Equal(t, 0, m.groups["a"].memberCount())
	assert.Equal(t, 0, m.groups["b"].memberCount())

	_, err := m.Mailbox(1)
	assert.ErrorIs(t, err, domain.ErrUserNotInit)
}

func TestSendMessageToRemovedGroupFailsEvenIfReferenceHeld(t *testing.T) {
	m := newTestManager()
	m.NewGroup("g", 0)
	m.mu.Lock()
	g := m.groups["g"]
	m.mu.Unlock()

	m.RemoveGroup("g")

	err := g.send([]byte{1})
	assert.ErrorIs(t, err, domain.ErrSendFailed)
}
