package mfgauth

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
)

// handleForgotPassword issues a password reset token and emails it out of
// band. The response is identical whether or not the account exists.
func (s *AuthService) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if !s.allowRateLimit(ctx, s.ipLimiterKey("pwreset", ip), s.config.RateLimits.PasswordResetLimit, s.config.RateLimits.PasswordResetWindow) {
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Error())
		return
	}

	var req forgotPasswordRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !isValidEmail(email) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid email")
		return
	}
	tenantID := req.TenantCode
	if tenantID == "" {
		tenantID = s.config.DefaultTenant
	}

	// Always the same response so the endpoint cannot be used to probe for
	// registered emails.
	defer writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the account exists, a reset email has been sent",
	})

	acct, err := s.store.Accounts().GetByEmail(ctx, tenantID, email)
	if err != nil || acct.Status != StatusActive {
		return
	}

	token, err := crypto.RandomToken(32)
	if err != nil {
		s.logger.Error("reset token generation error", zap.Error(err))
		return
	}

	// Storing the new hash replaces any earlier token, so at most one reset
	// token is live per account.
	expiresAt := time.Now().UTC().Add(s.config.PasswordResetTTL)
	if err := s.store.Accounts().SetResetToken(ctx, acct.ID, crypto.HashToken(token), expiresAt); err != nil {
		s.logger.Error("reset token store error", zap.Error(err))
		return
	}

	link := s.config.AppBaseURL + "/reset-password?token=" + token
	s.sendPasswordResetEmail(ctx, acct.Email, link)
	s.logAudit(ctx, acct, EventPasswordResetRequest, r, nil)
}

// handleResetPassword consumes a reset token, installs the new password, and
// synchronously tears down every session and refresh token the account holds.
func (s *AuthService) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetPasswordRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, CodeResetTokenInvalid, ErrResetTokenInvalid.Error())
		return
	}

	if err := s.validatePassword(req.NewPassword); err != nil {
		s.writeAuthError(w, err)
		return
	}
	if s.checkBreached(ctx, req.NewPassword) {
		writeError(w, http.StatusBadRequest, CodeBreachedPassword, ErrBreachedPassword.Error())
		return
	}

	acct, err := s.store.Accounts().GetByResetTokenHash(ctx, crypto.HashToken(req.Token))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeResetTokenInvalid, ErrResetTokenInvalid.Error())
		return
	}
	if acct.ResetTokenExpiry == nil || time.Now().After(*acct.ResetTokenExpiry) {
		writeError(w, http.StatusBadRequest, CodeResetTokenInvalid, ErrResetTokenInvalid.Error())
		return
	}

	hash, salt, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		s.logger.Error("password hash error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	if err := s.store.Accounts().UpdatePassword(ctx, acct.ID, hash, salt); err != nil {
		s.logger.Error("password update error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}

	// Invalidate everything before responding: a stolen credential must not
	// outlive the reset that was meant to kill it.
	if err := s.store.Accounts().ClearResetToken(ctx, acct.ID); err != nil {
		s.logger.Error("reset token clear error", zap.Error(err))
	}
	if err := s.tokens.RevokeAccount(ctx, acct.ID); err != nil {
		s.logger.Error("revoke account tokens error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	if _, err := s.sessions.DeleteAll(ctx, acct.TenantID, acct.ID); err != nil {
		s.logger.Error("session delete all error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}
	if err := s.store.Accounts().ClearLockout(ctx, acct.ID); err != nil {
		s.logger.Warn("clear lockout error", zap.Error(err))
	}

	s.logAudit(ctx, acct, EventPasswordResetComplete, r, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password updated; all sessions have been signed out",
	})
}
