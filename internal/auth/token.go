package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrTokenMissing = errors.New("token missing")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrCannotSign   = errors.New("token service cannot sign")
)

// TokenVerifier extracts the agent id from a token.
type TokenVerifier interface {
	Verify(tokenString string) (agentID string, err error)
}

// TokenService verifies, and when it holds a signing key issues, relay
// tokens.
type TokenService struct {
	method    jwt.SigningMethod
	signKey   any // nil for verify-only services
	verifyKey any
	issuer    string
	now       func() time.Time
}

// NewHS256 creates a service sharing one secret for signing and verifying.
func NewHS256(secret []byte, issuer string) *TokenService {
	return &TokenService{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		issuer:    issuer,
		now:       time.Now,
	}
}

// NewRS256 creates a service that signs with key.
func NewRS256(key *rsa.PrivateKey, issuer string) *TokenService {
	return &TokenService{
		method:    jwt.SigningMethodRS256,
		signKey:   key,
		verifyKey: &key.PublicKey,
		issuer:    issuer,
		now:       time.Now,
	}
}

// NewRS256Verifier creates a verify-only service.
func NewRS256Verifier(key *rsa.PublicKey, issuer string) *TokenService {
	return &TokenService{
		method:    jwt.SigningMethodRS256,
		verifyKey: key,
		issuer:    issuer,
		now:       time.Now,
	}
}

// Verify validates the token and returns its "sub" claim.
func (s *TokenService) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return claims.Subject, nil
}

// Issue creates a token for agentID valid for ttl.
func (s *TokenService) Issue(agentID string, ttl time.Duration) (string, error) {
	if s.signKey == nil {
		return "", ErrCannotSign
	}
	if agentID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   agentID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
