// Package auth provides the authentication dispatcher for the chatbridge
// server and the local JWT session mechanism it falls back to.
//
// The dispatcher selects exactly one path per request, either the Lightdash
// external-session check or the local JWT check, based on the process-wide
// integration flag, and implements the required/optional validation modes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenService mints and validates the chat application's own
// session tokens (HS256 JWTs with bounded expiry).
//
// It implements contracts.LocalAuthenticator:
//   - (*LocalUser, nil)  → valid token, user resolved
//   - (nil, nil)         → no token on the request
//   - (nil, error)       → token present but invalid
type SessionTokenService struct {
	secret []byte
	expiry time.Duration
	users  store.UserStore
}

// sessionClaims are the claims carried by a minted session token.
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewSessionTokenService creates the token service. An empty secret
// disables the local path entirely.
func NewSessionTokenService(secret string, expiry time.Duration, users store.UserStore) *SessionTokenService {
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &SessionTokenService{
		secret: []byte(secret),
		expiry: expiry,
		users:  users,
	}
}

// Enabled reports whether local session tokens are configured.
func (s *SessionTokenService) Enabled() bool { return len(s.secret) > 0 }

// Mint issues a session token for a previously-resolved local user.
func (s *SessionTokenService) Mint(user *models.LocalUser) (string, error) {
	if !s.Enabled() {
		return "", errors.New("session tokens not configured")
	}
	now := time.Now()
	claims := sessionClaims{
		Email: user.Email,
		Name:  user.Name,
		Role:  string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Authenticate validates the session token from the Authorization header or
// the token cookie and resolves the user it names.
func (s *SessionTokenService) Authenticate(ctx context.Context, r *http.Request) (*models.LocalUser, error) {
	token := extractToken(r)
	if token == "" || !s.Enabled() {
		return nil, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return nil, errors.New("invalid session token: missing subject")
	}

	user, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("session user %s: %w", claims.Subject, err)
	}
	return user, nil
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}
