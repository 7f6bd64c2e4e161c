package crypto

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnexpectedTokenType is returned when a token is valid but carries the
// wrong type claim for the operation.
var ErrUnexpectedTokenType = errors.New("unexpected token type")

// TokenType represents the type of JWT token.
type TokenType string

const (
	TokenTypeAccess       TokenType = "access"
	TokenTypeMFAChallenge TokenType = "mfa_challenge"
)

// Claims represents the JWT claims carried by mfgauth tokens.
//
// Access tokens bind an account to a tenant and a session so that downstream
// authorization can re-check live session state. MFA challenge tokens bind an
// in-progress login to an account; their jti is consumed exactly once.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string    `json:"tid,omitempty"`
	SessionID   string    `json:"sid,omitempty"`
	MFAVerified bool      `json:"mfa,omitempty"`
	TokenType   TokenType `json:"type,omitempty"`
}

// AccessTokenOptions configures optional access token claims.
type AccessTokenOptions struct {
	// JTI is the token identifier; if empty, a random value is generated.
	JTI string
}

// NewAccessToken creates a signed short-lived access token.
func NewAccessToken(secret []byte, accountID, tenantID, sessionID string, mfaVerified bool, ttl time.Duration) (string, error) {
	return NewAccessTokenWithOptions(secret, accountID, tenantID, sessionID, mfaVerified, ttl, AccessTokenOptions{})
}

// NewAccessTokenWithOptions creates a signed access token with extra claims.
func NewAccessTokenWithOptions(secret []byte, accountID, tenantID, sessionID string, mfaVerified bool, ttl time.Duration, opts AccessTokenOptions) (string, error) {
	now := time.Now()
	jti := opts.JTI
	if jti == "" {
		var err error
		jti, err = RandomToken(16)
		if err != nil {
			return "", err
		}
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID:    tenantID,
		SessionID:   sessionID,
		MFAVerified: mfaVerified,
		TokenType:   TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// NewMFAChallengeToken creates a short-lived token binding an in-progress
// login to an account after password success. The jti must be registered in a
// single-use store so the challenge is consumed exactly once.
func NewMFAChallengeToken(secret []byte, accountID, tenantID, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID:  tenantID,
		TokenType: TokenTypeMFAChallenge,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken parses and validates a JWT token.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
