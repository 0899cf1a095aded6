// Package admission fronts the forwarding core and the groups fabric:
// rooms CRUD, join/exit auth, and the upgrade-to-websocket signaling
// endpoint that delegates into both.
package admission

import (
	"fmt"
	"time"

	"patchbay/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the capability a join token grants: publishing media into the
// room, or only subscribing to it.
type Role string

const (
	RolePublish   Role = "publish"
	RoleSubscribe Role = "subscribe"
)

// Claims binds a signaling socket to a room, a user-id, and the
// capability the /rooms/:id/join request negotiated. There is no moderator
// tier, only publish-vs-subscribe.
type Claims struct {
	RoomID    domain.StreamID `json:"room_id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Role      Role            `json:"role"`
	// Target is the publisher's stream name this token subscribes to.
	// Ignored when Role is RolePublish, where UserID itself names the
	// stream being published.
	Target    domain.StreamID `json:"target,omitempty"`
	Kinds     []string        `json:"kinds"`
	Simulcast bool            `json:"simulcast"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies the HS256 join tokens carried as the
// WebSocket upgrade request's bearer token.
type AuthService struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewAuthService(secret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &AuthService{secret: []byte(secret), tokenTTL: tokenTTL}
}

// IssueJoinToken mints a short-lived token binding userID to roomID with
// the requested role and media kinds, returned to the client by the
// /rooms/:id/join handler for use as the signaling socket's bearer token.
func (a *AuthService) IssueJoinToken(roomID domain.StreamID, userID, username string, role Role, target domain.StreamID, kinds []string, simulcast bool) (string, error) {
	now := time.Now()
	claims := Claims{
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Role:      role,
		Target:    target,
		Kinds:     kinds,
		Simulcast: simulcast,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses and validates a join token, returning its claims.
func (a *AuthService) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
