package mfgauth

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// maxBodySize is the maximum request body size (1MB).
const maxBodySize = 1 << 20

// refreshCookieName holds the opaque refresh token for browser clients.
const refreshCookieName = "mfg_refresh"

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// readJSON reads and unmarshals a JSON request body.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": message,
		"code":  code,
	})
}

// writeLockedError reports a locked account together with the time left on
// the lockout, both as a Retry-After header and in the body.
func writeLockedError(w http.ResponseWriter, remaining time.Duration) {
	secs := int(remaining.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":       ErrAccountLocked.Error(),
		"code":        CodeAccountLocked,
		"retry_after": secs,
	})
}

// writeAuthError maps the error taxonomy onto HTTP statuses. Unknown errors
// collapse to a generic 500 so internals never leak.
func (s *AuthService) writeAuthError(w http.ResponseWriter, err error) {
	var ae *AuthError
	if errors.As(err, &ae) {
		writeError(w, statusForCode(ae.Code), ae.Code, ae.Message)
		return
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotFound):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrAccountLocked):
		writeError(w, http.StatusForbidden, CodeAccountLocked, ErrAccountLocked.Error())
	case errors.Is(err, ErrAccountInactive), errors.Is(err, ErrAccountSuspended):
		writeError(w, http.StatusForbidden, CodeAccountInactive, ErrAccountInactive.Error())
	case errors.Is(err, ErrChallengeExpired):
		writeError(w, http.StatusUnauthorized, CodeChallengeExpired, ErrChallengeExpired.Error())
	case errors.Is(err, ErrInvalidMFACode):
		writeError(w, http.StatusUnauthorized, CodeInvalidMFACode, ErrInvalidMFACode.Error())
	case errors.Is(err, ErrMFAAlreadyEnabled):
		writeError(w, http.StatusConflict, CodeMFAAlreadyEnabled, ErrMFAAlreadyEnabled.Error())
	case errors.Is(err, ErrMFANotEnabled):
		writeError(w, http.StatusBadRequest, CodeMFANotEnabled, ErrMFANotEnabled.Error())
	case errors.Is(err, ErrWeakPassword):
		writeError(w, http.StatusBadRequest, CodeWeakPassword, ErrWeakPassword.Error())
	case errors.Is(err, ErrBreachedPassword):
		writeError(w, http.StatusBadRequest, CodeBreachedPassword, ErrBreachedPassword.Error())
	case errors.Is(err, ErrRefreshReuse):
		writeError(w, http.StatusUnauthorized, CodeRefreshReuse, ErrInvalidRefreshToken.Error())
	case errors.Is(err, ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, ErrInvalidRefreshToken.Error())
	case errors.Is(err, ErrResetTokenInvalid):
		writeError(w, http.StatusBadRequest, CodeResetTokenInvalid, ErrResetTokenInvalid.Error())
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeInvalidCredentials, CodeChallengeExpired, CodeInvalidMFACode, CodeInvalidToken, CodeRefreshReuse:
		return http.StatusUnauthorized
	case CodeAccountLocked, CodeAccountInactive:
		return http.StatusForbidden
	case CodeMFAAlreadyEnabled:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ==================== REQUEST TYPES ====================

type loginRequest struct {
	TenantCode string `json:"tenant_code,omitempty"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type mfaVerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	AllSessions  bool   `json:"all_sessions,omitempty"`
}

type forgotPasswordRequest struct {
	TenantCode string `json:"tenant_code,omitempty"`
	Email      string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type mfaEnableRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type mfaDisableRequest struct {
	Code string `json:"code"`
}

type backupCodesRegenerateRequest struct {
	Code string `json:"code"`
}

// ==================== COOKIE HELPERS ====================

// setRefreshCookie stores the refresh token in an HTTP-only cookie scoped to
// the auth routes so it never accompanies ordinary API calls.
func (s *AuthService) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     s.config.AuthPath,
		MaxAge:   int(s.config.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *AuthService) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     s.config.AuthPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFromRequest prefers the JSON body (API clients), falling back
// to the cookie (browser clients).
func (s *AuthService) refreshTokenFromRequest(r *http.Request, bodyToken string) string {
	if bodyToken != "" {
		return bodyToken
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

// ==================== MISC HELPERS ====================

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isValidEmail(email string) bool {
	if len(email) < 5 || len(email) > 254 {
		return false
	}
	at := -1
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			at = i
			break
		}
	}
	if at < 1 || at > len(email)-3 {
		return false
	}
	local := email[:at]
	domain := email[at+1:]
	if len(local) > 64 || len(domain) < 2 {
		return false
	}
	dot := false
	for i := 0; i < len(domain); i++ {
		if domain[i] == '.' {
			if i+1 < len(domain) && domain[i+1] == '.' {
				return false
			}
			dot = true
		}
	}
	return dot
}
