package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth() *AuthService {
	return NewAuthService("test-secret", time.Minute)
}

func TestJoinTokenRoundTrip(t *testing.T) {
	a := newTestAuth()

	token, err := a.IssueJoinToken("room-1", "alice", "Alice", RoleSubscribe, "bob", []string{"audio", "video"}, true)
	require.NoError(t, err)

	claims, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "room-1", string(claims.RoomID))
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, RoleSubscribe, claims.Role)
	assert.Equal(t, "bob", string(claims.Target))
	assert.Equal(t, []string{"audio", "video"}, claims.Kinds)
	assert.True(t, claims.Simulcast)
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	other := NewAuthService("other-secret", time.Minute)
	token, err := other.IssueJoinToken("room-1", "alice", "", RolePublish, "", nil, false)
	require.NoError(t, err)

	_, err = newTestAuth().Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := newTestAuth().Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	// the constructor clamps non-positive TTLs, so force one directly
	a := &AuthService{secret: []byte("test-secret"), tokenTTL: -time.Minute}
	token, err := a.IssueJoinToken("room-1", "alice", "", RolePublish, "", nil, false)
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.Error(t, err)
}

func TestNumericIDIsStable(t *testing.T) {
	assert.Equal(t, numericID("alice"), numericID("alice"))
	assert.NotEqual(t, numericID("alice"), numericID("bob"))
}
