// Package auth implements the Auth Coordinator: credential validation,
// session minting, and the self-issued JWT that binds a connection to a
// user/session pair.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yummyhq/yummy/internal/v1/model"
)

// Claims is the custom claim set carried by every Yummy-issued token.
// Grounded on the teacher's CustomClaims shape, but self-issued (HS256,
// keyed by SALT_KEY) rather than verified against a third-party JWKS
// endpoint, since Yummy is itself the identity authority.
type Claims struct {
	UserID    string         `json:"user"`
	SessionID string         `json:"session"`
	Name      string         `json:"name,omitempty"`
	Email     string         `json:"email,omitempty"`
	UserType  model.UserType `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager mints and validates the HS256 tokens exchanged with clients.
type TokenManager struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenManager builds a manager keyed by SALT_KEY with the configured
// token lifetime.
func NewTokenManager(saltKey string, lifetime time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(saltKey), lifetime: lifetime}
}

// Generate mints a signed token for the given identity, reusing session if
// non-nil (refresh/restore) or minting a fresh SessionId otherwise.
func (m *TokenManager) Generate(user model.UserId, session model.SessionId, name, email string, userType model.UserType) (string, Claims, error) {
	if session.IsNil() {
		session = model.NewSessionId()
	}

	claims := Claims{
		UserID:    user.String(),
		SessionID: session.String(),
		Name:      name,
		Email:     email,
		UserType:  userType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.lifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate parses and verifies a token, returning TokenNotValid-shaped
// errors to the caller (the caller wraps into yerrors.TokenNotValid).
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	return claims, nil
}
