package mfgauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
)

// TokenService issues access/refresh token pairs and rotates refresh tokens
// with family-based replay detection.
//
// Refresh tokens are opaque strings of the form "<id>.<secret>": the ID
// locates the stored row, the secret is compared against the stored hash.
// Every rotation creates a new token in the same family; presenting an
// already-used token is treated as theft and revokes the whole family.
type TokenService struct {
	store      RefreshTokenStore
	accounts   AccountStore
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// Issue creates a fresh token pair rooted in a new refresh-token family.
// Called on successful login and MFA verification.
func (t *TokenService) Issue(ctx context.Context, acct *Account, sessionID string, mfaVerified bool) (*TokenPair, *RefreshToken, error) {
	familyID := uuid.NewString()
	return t.issueInFamily(ctx, acct.ID, acct.TenantID, sessionID, familyID, mfaVerified)
}

func (t *TokenService) issueInFamily(ctx context.Context, accountID, tenantID, sessionID, familyID string, mfaVerified bool) (*TokenPair, *RefreshToken, error) {
	access, err := crypto.NewAccessToken(t.jwtSecret, accountID, tenantID, sessionID, mfaVerified, t.accessTTL)
	if err != nil {
		return nil, nil, err
	}

	raw, row, err := t.newRefreshToken(accountID, tenantID, sessionID, familyID, mfaVerified)
	if err != nil {
		return nil, nil, err
	}
	if err := t.store.Create(ctx, *row); err != nil {
		return nil, nil, err
	}

	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int(t.accessTTL.Seconds()),
	}
	return pair, row, nil
}

func (t *TokenService) newRefreshToken(accountID, tenantID, sessionID, familyID string, mfaVerified bool) (string, *RefreshToken, error) {
	secret, err := crypto.RandomToken(32)
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	row := &RefreshToken{
		ID:          uuid.NewString(),
		FamilyID:    familyID,
		AccountID:   accountID,
		TenantID:    tenantID,
		SessionID:   sessionID,
		TokenHash:   crypto.HashToken(secret),
		MFAVerified: mfaVerified,
		IssuedAt:    now,
		ExpiresAt:   now.Add(t.refreshTTL),
	}
	return row.ID + "." + secret, row, nil
}

// Rotate exchanges a refresh token for a new pair in the same family.
//
// On replay (the presented token was already used) it returns the stored row
// alongside ErrRefreshReuse after revoking the entire family, so the caller
// can tear down the sessions that token family was bound to.
func (t *TokenService) Rotate(ctx context.Context, raw string) (*TokenPair, *RefreshToken, error) {
	id, secret, ok := splitRefreshToken(raw)
	if !ok {
		return nil, nil, ErrInvalidRefreshToken
	}

	row, err := t.store.GetByID(ctx, id)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, nil, err
	}

	if !crypto.ConstantTimeEquals(crypto.HashToken(secret), row.TokenHash) {
		return nil, nil, ErrInvalidRefreshToken
	}
	// Check Used before Revoked: a consumed token stays a reuse signal even
	// after its family has been revoked, so every replay reports as such.
	if row.Used {
		// Replay: a token in this family has been presented twice. Revoke
		// everything descended from it.
		n, rerr := t.store.RevokeFamily(ctx, row.FamilyID)
		if rerr != nil {
			t.logger.Error("failed to revoke token family after reuse",
				zap.String("family_id", row.FamilyID), zap.Error(rerr))
		} else {
			t.logger.Warn("refresh token reuse detected; family revoked",
				zap.String("family_id", row.FamilyID),
				zap.String("account_id", row.AccountID),
				zap.Int("revoked", n))
		}
		return nil, row, ErrRefreshReuse
	}
	if row.Revoked {
		return nil, nil, ErrInvalidRefreshToken
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, nil, ErrInvalidRefreshToken
	}

	// Pre-generate the successor so MarkUsed can link it. Only the request
	// that wins the compare-and-set persists its successor.
	access, err := crypto.NewAccessToken(t.jwtSecret, row.AccountID, row.TenantID, row.SessionID, row.MFAVerified, t.accessTTL)
	if err != nil {
		return nil, nil, err
	}
	rawNext, next, err := t.newRefreshToken(row.AccountID, row.TenantID, row.SessionID, row.FamilyID, row.MFAVerified)
	if err != nil {
		return nil, nil, err
	}

	won, err := t.store.MarkUsed(ctx, row.ID, next.ID)
	if err != nil {
		return nil, nil, err
	}
	if !won {
		// Lost the race: another request already rotated this token. Treat
		// it as reuse of the same token value.
		n, rerr := t.store.RevokeFamily(ctx, row.FamilyID)
		if rerr != nil {
			t.logger.Error("failed to revoke token family after concurrent rotation",
				zap.String("family_id", row.FamilyID), zap.Error(rerr))
		} else {
			t.logger.Warn("concurrent refresh rotation detected; family revoked",
				zap.String("family_id", row.FamilyID),
				zap.String("account_id", row.AccountID),
				zap.Int("revoked", n))
		}
		return nil, row, ErrRefreshReuse
	}

	if err := t.store.Create(ctx, *next); err != nil {
		return nil, nil, err
	}

	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: rawNext,
		ExpiresIn:    int(t.accessTTL.Seconds()),
	}
	return pair, next, nil
}

// Revoke invalidates a single refresh token by its raw value. Used at logout.
func (t *TokenService) Revoke(ctx context.Context, raw string) error {
	id, _, ok := splitRefreshToken(raw)
	if !ok {
		return ErrInvalidRefreshToken
	}
	return t.store.Revoke(ctx, id)
}

// RevokeAccount invalidates every refresh token an account holds. Used after
// password reset.
func (t *TokenService) RevokeAccount(ctx context.Context, accountID string) error {
	return t.store.RevokeAccount(ctx, accountID)
}

// ParseAccessToken validates an access JWT and returns its claims.
func (t *TokenService) ParseAccessToken(raw string) (*crypto.Claims, error) {
	claims, err := crypto.ParseToken(t.jwtSecret, raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != crypto.TokenTypeAccess {
		return nil, crypto.ErrUnexpectedTokenType
	}
	return claims, nil
}

func splitRefreshToken(raw string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(raw, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", false
	}
	return id, secret, true
}
