package mfgauth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// handleMFASetup returns a candidate TOTP secret and provisioning QR code.
// Nothing is persisted until the secret is confirmed via /mfa/enable.
func (s *AuthService) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	acct, _ := GetAccountFromContext(r.Context())

	setup, err := s.mfa.GenerateSetup(acct)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"secret":           setup.Secret,
		"url":              setup.URL,
		"qr_code_png":      setup.QRCodePNG,
		"qr_code_data_url": setup.QRCodeDataURL,
		"issuer":           s.config.AppName,
		"digits":           s.config.TOTPDigits,
		"message":          "scan the QR code, then confirm with a code to enable",
	})
}

// handleMFAEnable confirms the candidate secret with a live code and turns
// MFA on, returning the one-time backup codes.
func (s *AuthService) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, _ := GetAccountFromContext(ctx)

	var req mfaEnableRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if req.Secret == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "missing secret or code")
		return
	}

	codes, err := s.mfa.Enable(ctx, acct, req.Secret, strings.TrimSpace(req.Code))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logAudit(ctx, acct, EventMFAEnabled, r, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":            "two-factor authentication enabled",
		"backup_codes":       codes,
		"backup_codes_count": len(codes),
		"warning":            "save these backup codes in a safe place",
	})
}

// handleMFADisable turns MFA off after verifying a current code.
func (s *AuthService) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, _ := GetAccountFromContext(ctx)

	var req mfaDisableRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	if err := s.mfa.Disable(ctx, acct, strings.TrimSpace(req.Code)); err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logAudit(ctx, acct, EventMFADisabled, r, nil)
	s.alert(ctx, "mfa_disabled", "medium", acct, clientIP(r), nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "two-factor authentication disabled"})
}

// handleBackupCodesRegenerate replaces the account's backup codes. It demands
// a current TOTP code; a backup code is no proof the authenticator is still
// in hand.
func (s *AuthService) handleBackupCodesRegenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, _ := GetAccountFromContext(ctx)

	var req backupCodesRegenerateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	valid, err := s.mfa.VerifyTOTP(ctx, acct, strings.TrimSpace(req.Code))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !valid {
		s.writeAuthError(w, ErrInvalidMFACode)
		return
	}

	codes, err := s.mfa.RegenerateBackupCodes(ctx, acct)
	if err != nil {
		if err == ErrMFANotEnabled {
			s.writeAuthError(w, err)
			return
		}
		s.logger.Error("regenerate backup codes error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
		return
	}

	s.logAudit(ctx, acct, EventBackupCodesRegenerated, r, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"backup_codes":       codes,
		"backup_codes_count": len(codes),
		"warning":            "save these backup codes in a safe place",
	})
}
