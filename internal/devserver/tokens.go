package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/glaucare/glaucare/internal/model"
)

// Token scopes. A registration token only authorizes /auth/register.
const (
	ScopeAccess       = "access"
	ScopeRegistration = "registration"
	scopeRefresh      = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are carried by every token the backend signs.
type Claims struct {
	Scope   string `json:"scope"`
	Version int    `json:"ver"`
	Guest   bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 access and refresh tokens.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService builds a token service. A nil now uses time.Now.
func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}
}

// Issue signs a new pair for user with the access token limited to scope.
func (s *TokenService) Issue(user User, scope string) (model.CredentialPair, error) {
	access, err := s.sign(user, scope, s.accessSecret, s.accessTTL)
	if err != nil {
		return model.CredentialPair{}, err
	}
	refresh, err := s.sign(user, scopeRefresh, s.refreshSecret, s.refreshTTL)
	if err != nil {
		return model.CredentialPair{}, err
	}
	return model.CredentialPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) sign(user User, scope string, secret []byte, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Scope:   scope,
		Version: user.TokenVersion,
		Guest:   user.IsGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAccess verifies an access or registration token.
func (s *TokenService) ParseAccess(token string) (*Claims, error) {
	claims, err := s.parse(token, s.accessSecret)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAccess && claims.Scope != ScopeRegistration {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token.
func (s *TokenService) ParseRefresh(token string) (*Claims, error) {
	claims, err := s.parse(token, s.refreshSecret)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scopeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshTTL is how long a refresh token stays valid.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) parse(token string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
