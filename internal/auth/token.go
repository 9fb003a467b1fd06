// ABOUTME: Bearer tokens for outbound service calls (escalation, handoff)
// ABOUTME: HS256 JWT signer plus a static token source for pre-shared keys

package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenSource yields the bearer token attached to an outbound request.
// An empty token means no Authorization header is sent.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed pre-shared bearer token.
type StaticToken string

// Token returns the static value.
func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// JWTSigner mints short-lived HS256 tokens identifying this gateway.
// Tokens are cached and reissued once less than a quarter of their lifetime remains.
type JWTSigner struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewJWTSigner creates a signer for the given subject
func NewJWTSigner(secret []byte, subject string, ttl time.Duration) *JWTSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWTSigner{
		secret:  secret,
		subject: subject,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Token returns a valid signed token, minting a new one when needed
func (s *JWTSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && s.expires.Sub(now) > s.ttl/4 {
		return s.cached, nil
	}

	tok, err := s.Generate(s.subject, s.ttl)
	if err != nil {
		return "", err
	}
	s.cached = tok
	s.expires = now.Add(s.ttl)
	return tok, nil
}

// Generate creates a new JWT token for the given subject with expiration
func (s *JWTSigner) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and extracts the "sub" claim.
// Receiving services sharing the secret use this to authenticate the gateway.
func (s *JWTSigner) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}
