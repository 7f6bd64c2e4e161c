package mfgauth

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
	"github.com/mfgops/mfgauth/sessions"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// AccountContextKey is the context key for the authenticated account.
	AccountContextKey contextKey = "mfgauth_account"
	// ClaimsContextKey is the context key for JWT claims.
	ClaimsContextKey contextKey = "mfgauth_claims"
	// SessionContextKey is the context key for the live session.
	SessionContextKey contextKey = "mfgauth_session"
)

// GetAccountFromContext retrieves the authenticated account from the request context.
func GetAccountFromContext(ctx context.Context) (*Account, bool) {
	acct, ok := ctx.Value(AccountContextKey).(*Account)
	return acct, ok
}

// GetClaimsFromContext retrieves the JWT claims from the request context.
func GetClaimsFromContext(ctx context.Context) (*crypto.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*crypto.Claims)
	return claims, ok
}

// GetSessionFromContext retrieves the live session from the request context.
func GetSessionFromContext(ctx context.Context) (*sessions.Session, bool) {
	sess, ok := ctx.Value(SessionContextKey).(*sessions.Session)
	return sess, ok
}

// requireAuth validates the access token and confirms its session is still
// alive. Checking the session store on every request makes logout, password
// reset, and cap eviction take effect before the access token expires.
func (s *AuthService) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "missing or invalid authorization header")
			return
		}

		claims, err := s.tokens.ParseAccessToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token")
			return
		}

		sess, err := s.sessions.Get(r.Context(), claims.TenantID, claims.SessionID)
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "session expired")
			return
		}
		if err != nil {
			s.logger.Error("session lookup error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
			return
		}

		acct, err := s.store.Accounts().GetByID(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "account not found")
			return
		}

		switch acct.Status {
		case StatusActive:
		case StatusSuspended:
			writeError(w, http.StatusForbidden, CodeAccountInactive, ErrAccountSuspended.Error())
			return
		default:
			writeError(w, http.StatusForbidden, CodeAccountInactive, ErrAccountInactive.Error())
			return
		}

		ctx := context.WithValue(r.Context(), AccountContextKey, acct)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		ctx = context.WithValue(ctx, SessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerTokenFromHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// allowRateLimit consults the shared limiter; limiter outages fail open so a
// Redis blip does not take logins down.
func (s *AuthService) allowRateLimit(ctx context.Context, key string, limit int, window time.Duration) bool {
	allowed, _, err := s.limiter.Allow(ctx, key, limit, window)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	return allowed
}

// ipLimiterKey builds a limiter key from a keyed hash of the client IP, so
// raw addresses never land in the shared counter store.
func (s *AuthService) ipLimiterKey(prefix, ip string) string {
	return prefix + ":" + hex.EncodeToString(crypto.HashWithPepper(ip, s.keys.MetaKey))
}
