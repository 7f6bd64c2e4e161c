package mfgauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
	"github.com/mfgops/mfgauth/sessions"
)

// handleLogin verifies credentials and either issues a token pair or, when
// MFA is enabled, a single-use challenge token.
func (s *AuthService) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if !s.allowRateLimit(ctx, s.ipLimiterKey("login", ip), s.config.RateLimits.LoginLimit, s.config.RateLimits.LoginWindow) {
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Error())
		return
	}

	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !isValidEmail(email) || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "missing email or password")
		return
	}
	tenantID := req.TenantCode
	if tenantID == "" {
		tenantID = s.config.DefaultTenant
	}

	acct, err := s.store.Accounts().GetByEmail(ctx, tenantID, email)
	if err != nil {
		// Burn a hash so unknown emails cost the same as wrong passwords.
		s.dummyHash(ctx, req.Password)
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, ErrInvalidCredentials.Error())
		return
	}

	if !s.checkAccountUsable(w, acct) {
		return
	}

	if locked, remaining := s.lockout.IsLocked(acct, time.Now()); locked {
		s.logAudit(ctx, acct, EventLoginFailed, r, map[string]any{"reason": "locked"})
		writeLockedError(w, remaining)
		return
	}

	ok, err := s.hasher.Verify(ctx, req.Password, acct.PasswordHash, acct.PasswordSalt)
	if err != nil {
		s.logger.Error("password verify error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	if !ok {
		s.recordAuthFailure(ctx, acct, r, ip, EventLoginFailed)
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, ErrInvalidCredentials.Error())
		return
	}

	// Password is good: the failure streak ends here, even when token
	// issuance is still held behind an MFA challenge.
	if err := s.lockout.RecordSuccess(ctx, s.store.Accounts(), acct); err != nil {
		s.logger.Warn("clear lockout error", zap.Error(err))
	}

	if acct.MFAEnabled {
		jti := uuid.NewString()
		challenge, err := crypto.NewMFAChallengeToken(s.jwtSecret, acct.ID, acct.TenantID, jti, s.config.MFAChallengeTTL)
		if err != nil {
			s.logger.Error("challenge token error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
			return
		}
		if err := s.challenges.Issue(ctx, jti, s.config.MFAChallengeTTL); err != nil {
			s.logger.Error("challenge store error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
			return
		}

		s.logAudit(ctx, acct, EventMFAChallengeIssued, r, nil)
		writeJSON(w, http.StatusOK, map[string]any{
			"mfa_required":    true,
			"challenge_token": challenge,
			"expires_in":      int(s.config.MFAChallengeTTL.Seconds()),
		})
		return
	}

	s.completeLogin(ctx, w, r, acct, false)
}

// handleMFAVerify completes a login held behind an MFA challenge.
func (s *AuthService) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if !s.allowRateLimit(ctx, s.ipLimiterKey("mfa", ip), s.config.RateLimits.MFALimit, s.config.RateLimits.MFAWindow) {
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Error())
		return
	}

	var req mfaVerifyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	claims, err := crypto.ParseToken(s.jwtSecret, req.ChallengeToken)
	if err != nil || claims.TokenType != crypto.TokenTypeMFAChallenge || claims.ID == "" {
		writeError(w, http.StatusUnauthorized, CodeChallengeExpired, ErrChallengeExpired.Error())
		return
	}

	acct, err := s.store.Accounts().GetByID(ctx, claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeChallengeExpired, ErrChallengeExpired.Error())
		return
	}
	if !s.checkAccountUsable(w, acct) {
		return
	}
	if locked, remaining := s.lockout.IsLocked(acct, time.Now()); locked {
		writeLockedError(w, remaining)
		return
	}

	valid, usedBackup, err := s.mfa.Verify(ctx, acct, strings.TrimSpace(req.Code))
	if errors.Is(err, ErrMFANotEnabled) {
		// MFA was switched off between challenge issuance and verification.
		s.writeAuthError(w, err)
		return
	}
	if err != nil {
		s.logger.Error("mfa verify error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	if !valid {
		// Failed codes count toward lockout but leave the challenge alive
		// until its TTL; only a successful verification consumes it.
		s.recordAuthFailure(ctx, acct, r, ip, EventMFAFailed)
		writeError(w, http.StatusUnauthorized, CodeInvalidMFACode, ErrInvalidMFACode.Error())
		return
	}

	consumed, err := s.challenges.Consume(ctx, claims.ID)
	if err != nil {
		s.logger.Error("challenge consume error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	if !consumed {
		writeError(w, http.StatusUnauthorized, CodeChallengeExpired, ErrChallengeExpired.Error())
		return
	}

	if usedBackup {
		s.logAudit(ctx, acct, EventBackupCodeUsed, r, nil)
		if remaining, err := s.mfa.RemainingBackupCodes(ctx, acct); err == nil && remaining <= s.config.LowBackupCodeThreshold {
			s.logAudit(ctx, acct, EventBackupCodesLow, r, map[string]any{"remaining": remaining})
			s.alert(ctx, "backup_codes_low", "medium", acct, ip, map[string]any{"remaining": remaining})
		}
	}
	s.logAudit(ctx, acct, EventMFAVerified, r, map[string]any{"backup_code": usedBackup})

	s.completeLogin(ctx, w, r, acct, true)
}

// completeLogin creates the session, issues the token pair, and clears the
// failure counter.
func (s *AuthService) completeLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, acct *Account, mfaVerified bool) {
	now := time.Now().UTC()
	sess := &sessions.Session{
		SessionID:   uuid.NewString(),
		AccountID:   acct.ID,
		TenantID:    acct.TenantID,
		IPAddress:   clientIP(r),
		UserAgent:   r.Header.Get("User-Agent"),
		MFAVerified: mfaVerified,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.RefreshTokenTTL),
	}

	evicted, err := s.sessions.Create(ctx, sess, s.config.RefreshTokenTTL, s.config.MaxConcurrentSessions)
	if err != nil {
		s.logger.Error("session create error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	for _, sid := range evicted {
		s.logAudit(ctx, acct, EventSessionEvicted, r, map[string]any{"session_id": sid})
	}

	pair, _, err := s.tokens.Issue(ctx, acct, sess.SessionID, mfaVerified)
	if err != nil {
		s.logger.Error("issue tokens error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}

	if err := s.lockout.RecordSuccess(ctx, s.store.Accounts(), acct); err != nil {
		s.logger.Warn("clear lockout error", zap.Error(err))
	}

	s.logAudit(ctx, acct, EventLoginSuccess, r, map[string]any{"mfa": mfaVerified})
	s.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    pair.ExpiresIn,
		"session_id":    sess.SessionID,
	})
}

// handleRefresh rotates a refresh token. A replayed token revokes its whole
// family and tears down the session it was bound to.
func (s *AuthService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	_ = readJSON(w, r, &req) // body is optional when the cookie carries the token
	raw := s.refreshTokenFromRequest(r, req.RefreshToken)
	if raw == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "missing refresh token")
		return
	}

	pair, row, err := s.tokens.Rotate(ctx, raw)
	if errors.Is(err, ErrRefreshReuse) {
		s.handleRefreshReuse(ctx, w, r, row)
		return
	}
	if errors.Is(err, ErrInvalidRefreshToken) {
		s.clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, ErrInvalidRefreshToken.Error())
		return
	}
	if err != nil {
		s.logger.Error("refresh rotate error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}

	// The session backs the new access token; a session evicted by the
	// concurrency cap (or removed by logout/reset) kills its token family.
	if _, err := s.sessions.Get(ctx, row.TenantID, row.SessionID); err != nil {
		if _, rerr := s.tokens.store.RevokeFamily(ctx, row.FamilyID); rerr != nil {
			s.logger.Error("revoke family error", zap.Error(rerr))
		}
		s.clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, ErrInvalidRefreshToken.Error())
		return
	}

	acct := &Account{ID: row.AccountID, TenantID: row.TenantID}
	s.logAudit(ctx, acct, EventRefreshRotated, r, nil)

	s.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    pair.ExpiresIn,
	})
}

func (s *AuthService) handleRefreshReuse(ctx context.Context, w http.ResponseWriter, r *http.Request, row *RefreshToken) {
	acct := &Account{ID: row.AccountID, TenantID: row.TenantID}

	// The family is already revoked; also drop the session it was bound to
	// so the stolen access token dies with it.
	if err := s.sessions.Delete(ctx, row.TenantID, row.AccountID, row.SessionID); err != nil {
		s.logger.Error("session delete error", zap.Error(err))
	}

	s.logAudit(ctx, acct, EventRefreshReuseDetected, r, map[string]any{"family_id": row.FamilyID})
	s.alert(ctx, "refresh_token_reuse", "high", acct, clientIP(r), map[string]any{
		"family_id":  row.FamilyID,
		"session_id": row.SessionID,
	})

	s.clearRefreshCookie(w)
	writeError(w, http.StatusUnauthorized, CodeRefreshReuse, ErrInvalidRefreshToken.Error())
}

// handleLogout revokes the presented refresh token and removes the live
// session. With all_sessions set it tears down every session and token the
// account holds.
func (s *AuthService) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, _ := GetAccountFromContext(ctx)
	sess, _ := GetSessionFromContext(ctx)

	var req logoutRequest
	_ = readJSON(w, r, &req) // body is optional

	if req.AllSessions {
		if _, err := s.sessions.DeleteAll(ctx, acct.TenantID, acct.ID); err != nil {
			s.logger.Error("session delete all error", zap.Error(err))
		}
		if err := s.tokens.RevokeAccount(ctx, acct.ID); err != nil {
			s.logger.Error("revoke account tokens error", zap.Error(err))
		}
	} else {
		if err := s.sessions.Delete(ctx, acct.TenantID, acct.ID, sess.SessionID); err != nil {
			s.logger.Error("session delete error", zap.Error(err))
		}
		if raw := s.refreshTokenFromRequest(r, req.RefreshToken); raw != "" {
			if err := s.tokens.Revoke(ctx, raw); err != nil && !errors.Is(err, ErrInvalidRefreshToken) {
				s.logger.Error("revoke token error", zap.Error(err))
			}
		}
	}

	s.logAudit(ctx, acct, EventLogout, r, map[string]any{"all_sessions": req.AllSessions})
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// handleListSessions returns the account's active sessions in creation order.
func (s *AuthService) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, _ := GetAccountFromContext(ctx)
	current, _ := GetSessionFromContext(ctx)

	list, err := s.sessions.List(ctx, acct.TenantID, acct.ID)
	if err != nil {
		s.logger.Error("session list error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(list))
	for _, sess := range list {
		out = append(out, map[string]any{
			"session_id":   sess.SessionID,
			"ip_address":   sess.IPAddress,
			"user_agent":   sess.UserAgent,
			"mfa_verified": sess.MFAVerified,
			"created_at":   sess.CreatedAt,
			"expires_at":   sess.ExpiresAt,
			"current":      current != nil && sess.SessionID == current.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// checkAccountUsable rejects accounts whose status forbids authentication.
func (s *AuthService) checkAccountUsable(w http.ResponseWriter, acct *Account) bool {
	switch acct.Status {
	case StatusActive:
		return true
	case StatusSuspended:
		writeError(w, http.StatusForbidden, CodeAccountInactive, ErrAccountSuspended.Error())
	default:
		writeError(w, http.StatusForbidden, CodeAccountInactive, ErrAccountInactive.Error())
	}
	return false
}

// recordAuthFailure applies the lockout policy to a failed password or MFA
// attempt and raises the lockout alert exactly once.
func (s *AuthService) recordAuthFailure(ctx context.Context, acct *Account, r *http.Request, ip, event string) {
	count, locked, err := s.lockout.RecordFailure(ctx, s.store.Accounts(), acct, time.Now())
	if err != nil {
		s.logger.Error("record login failure error", zap.Error(err))
	}
	s.logAudit(ctx, acct, event, r, map[string]any{"failed_count": count})
	if locked {
		s.logAudit(ctx, acct, EventAccountLocked, r, map[string]any{"failed_count": count})
		s.alert(ctx, "account_locked", "high", acct, ip, map[string]any{"failed_count": count})
	}
}

// dummyHash keeps response timing uniform for unknown accounts.
func (s *AuthService) dummyHash(ctx context.Context, password string) {
	_, _, _ = s.hasher.Hash(ctx, password)
}
